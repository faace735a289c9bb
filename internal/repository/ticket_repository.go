package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erp-suite/ticketflow/internal/domain"
)

// TicketFilter captures listing parameters. VisibleToUserID and
// VisibleToDepartmentID together form an OR clause: tickets the user
// created plus tickets of their department.
type TicketFilter struct {
	CreatorID             *int64
	AssigneeID            *int64
	DepartmentID          *int64
	VisibleToUserID       *int64
	VisibleToDepartmentID *int64
	Statuses              []domain.TicketStatus
	Category              *domain.TicketCategory
	Priority              *domain.TicketPriority
	OverdueOnly           bool
	Limit                 int
	Offset                int
}

// TicketStats aggregates counts for the stats endpoint.
type TicketStats struct {
	Total                int64
	Pending              int64
	InProgress           int64
	Resolved             int64
	Overdue              int64
	ByPriority           map[domain.TicketPriority]int64
	ByCategory           map[domain.TicketCategory]int64
	AvgResolutionMinutes *float64
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	NextTicketNumber(ctx context.Context, year int) (string, error)
	Stats(ctx context.Context, filter TicketFilter) (*TicketStats, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `
        t.id, t.ticket_number, t.title, t.description, t.category, t.priority, t.status,
        t.location, t.equipment, t.tags, t.department_id,
        t.created_by, c.full_name, c.role,
        t.assigned_to, a.full_name, a.role, t.assigned_at,
        t.sla_deadline, t.is_overdue,
        t.resolved_by, t.resolved_at, t.resolution_comment, t.resolution_time_minutes,
        t.reopened_at, t.reopened_by, t.reopen_reason,
        t.created_at, t.updated_at, t.closed_at`

const ticketJoins = `
        FROM tickets t
        JOIN users c ON c.id = t.created_by
        LEFT JOIN users a ON a.id = t.assigned_to`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (ticket_number, created_by, department_id, title, description,
            category, priority, status, location, equipment, tags, sla_deadline)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.TicketNumber,
		ticket.Creator.ID,
		ticket.DepartmentID,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.Location,
		ticket.Equipment,
		ticket.Tags,
		ticket.SLADeadline,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, priority=$2, assigned_to=$3, assigned_at=$4,
            resolved_by=$5, resolved_at=$6, resolution_comment=$7, resolution_time_minutes=$8,
            reopened_at=$9, reopened_by=$10, reopen_reason=$11,
            is_overdue=$12, closed_at=$13, updated_at=NOW()
        WHERE id=$14`
	var assigneeID *int64
	if ticket.AssignedTo != nil {
		assigneeID = &ticket.AssignedTo.ID
	}
	cmd, err := r.pool.Exec(ctx, query,
		ticket.Status,
		ticket.Priority,
		assigneeID,
		ticket.AssignedAt,
		ticket.ResolvedByID,
		ticket.ResolvedAt,
		ticket.ResolutionComment,
		ticket.ResolutionTimeMinutes,
		ticket.ReopenedAt,
		ticket.ReopenedByID,
		ticket.ReopenReason,
		ticket.IsOverdue,
		ticket.ClosedAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT` + ticketColumns + ticketJoins + ` WHERE t.id=$1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanTicket(row)
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses, args := filterClauses(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT%s%s WHERE %s ORDER BY t.created_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, ticketJoins, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) NextTicketNumber(ctx context.Context, year int) (string, error) {
	const query = `SELECT COUNT(*) FROM tickets WHERE ticket_number LIKE $1`
	var count int64
	if err := r.pool.QueryRow(ctx, query, fmt.Sprintf("TKT-%d-%%", year)).Scan(&count); err != nil {
		return "", err
	}
	return fmt.Sprintf("TKT-%d-%04d", year, count+1), nil
}

func (r *ticketRepository) Stats(ctx context.Context, filter TicketFilter) (*TicketStats, error) {
	clauses, args := filterClauses(filter)
	query := fmt.Sprintf(`
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE t.status='en_attente'),
               COUNT(*) FILTER (WHERE t.status='en_cours'),
               COUNT(*) FILTER (WHERE t.status='resolu'),
               COUNT(*) FILTER (WHERE t.is_overdue),
               AVG(t.resolution_time_minutes)
        FROM tickets t WHERE %s`, strings.Join(clauses, " AND "))

	stats := &TicketStats{
		ByPriority: make(map[domain.TicketPriority]int64),
		ByCategory: make(map[domain.TicketCategory]int64),
	}
	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.InProgress,
		&stats.Resolved,
		&stats.Overdue,
		&stats.AvgResolutionMinutes,
	); err != nil {
		return nil, err
	}

	groupQuery := fmt.Sprintf(
		`SELECT t.priority, t.category, COUNT(*) FROM tickets t WHERE %s GROUP BY t.priority, t.category`,
		strings.Join(clauses, " AND "))
	rows, err := r.pool.Query(ctx, groupQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var priority domain.TicketPriority
		var category domain.TicketCategory
		var count int64
		if err := rows.Scan(&priority, &category, &count); err != nil {
			return nil, err
		}
		stats.ByPriority[priority] += count
		stats.ByCategory[category] += count
	}
	return stats, rows.Err()
}

func (r *ticketRepository) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	const query = `
        UPDATE tickets SET is_overdue=TRUE, updated_at=NOW()
        WHERE is_overdue=FALSE AND sla_deadline IS NOT NULL AND sla_deadline < $1
          AND status NOT IN ('resolu','ferme')`
	cmd, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func filterClauses(filter TicketFilter) ([]string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatorID != nil {
		args = append(args, *filter.CreatorID)
		clauses = append(clauses, fmt.Sprintf("t.created_by=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("t.assigned_to=$%d", len(args)))
	}
	if filter.DepartmentID != nil {
		args = append(args, *filter.DepartmentID)
		clauses = append(clauses, fmt.Sprintf("t.department_id=$%d", len(args)))
	}
	if filter.VisibleToUserID != nil {
		args = append(args, *filter.VisibleToUserID)
		userPlaceholder := len(args)
		if filter.VisibleToDepartmentID != nil {
			args = append(args, *filter.VisibleToDepartmentID)
			clauses = append(clauses, fmt.Sprintf("(t.created_by=$%d OR t.department_id=$%d)", userPlaceholder, len(args)))
		} else {
			clauses = append(clauses, fmt.Sprintf("t.created_by=$%d", userPlaceholder))
		}
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("t.status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		clauses = append(clauses, fmt.Sprintf("t.category=$%d", len(args)))
	}
	if filter.Priority != nil {
		args = append(args, *filter.Priority)
		clauses = append(clauses, fmt.Sprintf("t.priority=$%d", len(args)))
	}
	if filter.OverdueOnly {
		clauses = append(clauses, "t.is_overdue")
	}
	return clauses, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var ticket domain.Ticket
	var assigneeID *int64
	var assigneeName, assigneeRole *string
	if err := row.Scan(
		&ticket.ID,
		&ticket.TicketNumber,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Status,
		&ticket.Location,
		&ticket.Equipment,
		&ticket.Tags,
		&ticket.DepartmentID,
		&ticket.Creator.ID,
		&ticket.Creator.FullName,
		&ticket.Creator.Role,
		&assigneeID,
		&assigneeName,
		&assigneeRole,
		&ticket.AssignedAt,
		&ticket.SLADeadline,
		&ticket.IsOverdue,
		&ticket.ResolvedByID,
		&ticket.ResolvedAt,
		&ticket.ResolutionComment,
		&ticket.ResolutionTimeMinutes,
		&ticket.ReopenedAt,
		&ticket.ReopenedByID,
		&ticket.ReopenReason,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	if assigneeID != nil {
		ref := domain.UserRef{ID: *assigneeID}
		if assigneeName != nil {
			ref.FullName = *assigneeName
		}
		if assigneeRole != nil {
			ref.Role = *assigneeRole
		}
		ticket.AssignedTo = &ref
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
