package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp-suite/ticketflow/internal/cache"
	"github.com/erp-suite/ticketflow/internal/domain"
	"github.com/erp-suite/ticketflow/internal/events"
	"github.com/erp-suite/ticketflow/internal/repository"
	apperrors "github.com/erp-suite/ticketflow/pkg/util/errorutil"
)

// In-memory repository fakes. They honor just enough of the repository
// contracts for service tests: pgx.ErrNoRows on missing rows, filter
// matching on list, sequential ids.

type memTicketRepo struct {
	tickets map[int64]*domain.Ticket
	nextID  int64
	marked  int64
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{tickets: make(map[int64]*domain.Ticket)}
}

func (r *memTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.nextID++
	ticket.ID = r.nextID
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}
	ticket.UpdatedAt = ticket.CreatedAt
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *memTicketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	if _, ok := r.tickets[ticket.ID]; !ok {
		return pgx.ErrNoRows
	}
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *memTicketRepo) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *ticket
	return &clone, nil
}

func (r *memTicketRepo) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	var out []domain.Ticket
	for _, ticket := range r.tickets {
		if !matches(ticket, filter) {
			continue
		}
		out = append(out, *ticket)
	}
	return out, nil
}

func matches(t *domain.Ticket, filter repository.TicketFilter) bool {
	if filter.CreatorID != nil && t.Creator.ID != *filter.CreatorID {
		return false
	}
	if filter.AssigneeID != nil && (t.AssignedTo == nil || t.AssignedTo.ID != *filter.AssigneeID) {
		return false
	}
	if filter.DepartmentID != nil && t.DepartmentID != *filter.DepartmentID {
		return false
	}
	if filter.VisibleToUserID != nil {
		visible := t.Creator.ID == *filter.VisibleToUserID
		if filter.VisibleToDepartmentID != nil && t.DepartmentID == *filter.VisibleToDepartmentID {
			visible = true
		}
		if !visible {
			return false
		}
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if t.Status == status {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if filter.OverdueOnly && !t.IsOverdue {
		return false
	}
	return true
}

func (r *memTicketRepo) NextTicketNumber(_ context.Context, year int) (string, error) {
	prefix := fmt.Sprintf("TKT-%d-", year)
	count := 0
	for _, ticket := range r.tickets {
		if len(ticket.TicketNumber) >= len(prefix) && ticket.TicketNumber[:len(prefix)] == prefix {
			count++
		}
	}
	return fmt.Sprintf("%s%04d", prefix, count+1), nil
}

func (r *memTicketRepo) Stats(_ context.Context, filter repository.TicketFilter) (*repository.TicketStats, error) {
	stats := &repository.TicketStats{
		ByPriority: make(map[domain.TicketPriority]int64),
		ByCategory: make(map[domain.TicketCategory]int64),
	}
	for _, ticket := range r.tickets {
		if !matches(ticket, filter) {
			continue
		}
		stats.Total++
		switch ticket.Status {
		case domain.TicketStatusPending:
			stats.Pending++
		case domain.TicketStatusInProgress:
			stats.InProgress++
		case domain.TicketStatusResolved:
			stats.Resolved++
		}
		if ticket.IsOverdue {
			stats.Overdue++
		}
		stats.ByPriority[ticket.Priority]++
		stats.ByCategory[ticket.Category]++
	}
	return stats, nil
}

func (r *memTicketRepo) MarkOverdue(_ context.Context, now time.Time) (int64, error) {
	for _, ticket := range r.tickets {
		if !ticket.IsOverdue && ticket.Overdue(now) {
			ticket.IsOverdue = true
			r.marked++
		}
	}
	return r.marked, nil
}

type memCommentRepo struct {
	comments []domain.Comment
	nextID   int64
}

func (r *memCommentRepo) Create(_ context.Context, comment *domain.Comment) error {
	r.nextID++
	comment.ID = r.nextID
	comment.CreatedAt = time.Now()
	r.comments = append(r.comments, *comment)
	return nil
}

func (r *memCommentRepo) ListByTicket(_ context.Context, ticketID int64, includeInternal bool) ([]domain.Comment, error) {
	var out []domain.Comment
	for _, comment := range r.comments {
		if comment.TicketID != ticketID {
			continue
		}
		if comment.IsInternal && !includeInternal {
			continue
		}
		out = append(out, comment)
	}
	return out, nil
}

type memHistoryRepo struct {
	entries []domain.TicketHistory
}

func (r *memHistoryRepo) Create(_ context.Context, entry *domain.TicketHistory) error {
	entry.ID = int64(len(r.entries) + 1)
	entry.CreatedAt = time.Now()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memHistoryRepo) ListByTicket(_ context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	var out []domain.TicketHistory
	for _, entry := range r.entries {
		if entry.TicketID == ticketID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type memDepartmentRepo struct {
	departments map[int64]*domain.Department
}

func (r *memDepartmentRepo) GetByID(_ context.Context, id int64) (*domain.Department, error) {
	dept, ok := r.departments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return dept, nil
}

func (r *memDepartmentRepo) ListActive(context.Context) ([]domain.Department, error) {
	var out []domain.Department
	for _, dept := range r.departments {
		if dept.IsActive {
			out = append(out, *dept)
		}
	}
	return out, nil
}

type memUserRepo struct {
	users map[int64]*domain.User
}

func (r *memUserRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return user, nil
}

func (r *memUserRepo) ListActiveByDepartment(_ context.Context, departmentID int64) ([]domain.User, error) {
	var out []domain.User
	for _, user := range r.users {
		if user.IsActive && user.InDepartment(departmentID) {
			out = append(out, *user)
		}
	}
	return out, nil
}

type fixture struct {
	service  *TicketService
	tickets  *memTicketRepo
	comments *memCommentRepo
	history  *memHistoryRepo
	now      time.Time

	employee *domain.User
	tech     *domain.User
	manager  *domain.User
	outsider *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	deptMaintenance := int64(3)
	deptHR := int64(9)

	employee := &domain.User{ID: 7, Username: "pmartin", FullName: "Paul Martin",
		Role: domain.RoleEmployee, DepartmentID: &deptMaintenance, IsActive: true}
	tech := &domain.User{ID: 42, Username: "jdoe", FullName: "Jean Dupont",
		Role: domain.RoleTechnician, DepartmentID: &deptMaintenance, IsActive: true}
	manager := &domain.User{ID: 43, Username: "mcurie", FullName: "Marie Curie",
		Role: domain.RoleDepartmentManager, DepartmentID: &deptMaintenance, IsActive: true}
	outsider := &domain.User{ID: 50, Username: "rsmith", FullName: "Rose Smith",
		Role: domain.RoleEmployee, DepartmentID: &deptHR, IsActive: true}

	users := &memUserRepo{users: map[int64]*domain.User{
		employee.ID: employee, tech.ID: tech, manager.ID: manager, outsider.ID: outsider,
	}}
	departments := &memDepartmentRepo{departments: map[int64]*domain.Department{
		3: {ID: 3, Name: "Maintenance", Code: "MNT", IsActive: true},
		9: {ID: 9, Name: "HR", Code: "HR", IsActive: true},
		5: {ID: 5, Name: "Archive", Code: "ARC", IsActive: false},
	}}

	tickets := newMemTicketRepo()
	comments := &memCommentRepo{}
	history := &memHistoryRepo{}
	members := cache.NewDepartmentMembers(nil, users, 0, zap.NewNop())

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	svc := NewTicketService(TicketDependencies{
		TicketRepo:     tickets,
		CommentRepo:    comments,
		HistoryRepo:    history,
		DepartmentRepo: departments,
		Members:        members,
		Dispatcher:     events.NewInMemoryDispatcher(),
		Now:            func() time.Time { return now },
	})

	return &fixture{
		service:  svc,
		tickets:  tickets,
		comments: comments,
		history:  history,
		now:      now,
		employee: employee,
		tech:     tech,
		manager:  manager,
		outsider: outsider,
	}
}

func (f *fixture) createTicket(t *testing.T, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := f.service.CreateTicket(context.Background(), f.employee, TicketCreateInput{
		Title:        "Conveyor stopped",
		Description:  "Line 2 conveyor halted mid-shift",
		Category:     domain.CategoryMaintenance,
		Priority:     priority,
		DepartmentID: 3,
	})
	require.NoError(t, err)
	return ticket
}

func TestTicketService_CreateTicket_NumberAndSLA(t *testing.T) {
	f := newFixture(t)

	first := f.createTicket(t, domain.TicketPriorityUrgent)
	assert.Equal(t, "TKT-2026-0001", first.TicketNumber)
	assert.Equal(t, domain.TicketStatusPending, first.Status)
	require.NotNil(t, first.SLADeadline)
	assert.Equal(t, f.now.Add(2*time.Hour), *first.SLADeadline)

	second := f.createTicket(t, domain.TicketPriorityLow)
	assert.Equal(t, "TKT-2026-0002", second.TicketNumber)
	require.NotNil(t, second.SLADeadline)
	assert.Equal(t, f.now.Add(168*time.Hour), *second.SLADeadline)

	require.Len(t, f.history.entries, 2)
	assert.Equal(t, domain.ActionCreated, f.history.entries[0].Action)
}

func TestTicketService_CreateTicket_DefaultPriority(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")
	assert.Equal(t, domain.TicketPriorityNormal, ticket.Priority)
	require.NotNil(t, ticket.SLADeadline)
	assert.Equal(t, f.now.Add(72*time.Hour), *ticket.SLADeadline)
}

func TestTicketService_CreateTicket_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateTicket(ctx, f.employee, TicketCreateInput{
		Description: "no title", Category: domain.CategoryOther, DepartmentID: 3,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))

	_, err = f.service.CreateTicket(ctx, f.employee, TicketCreateInput{
		Title: "x", Description: "y", Category: "cooking", DepartmentID: 3,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))

	_, err = f.service.CreateTicket(ctx, f.employee, TicketCreateInput{
		Title: "x", Description: "y", Category: domain.CategoryOther, DepartmentID: 5,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed), "inactive department rejected")

	assert.Empty(t, f.tickets.tickets, "no ticket persisted on validation failure")
}

func TestTicketService_Assign_ByManager(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)

	updated, err := f.service.Assign(context.Background(), f.manager, ticket.ID, f.tech.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)
	require.NotNil(t, updated.AssignedTo)
	assert.Equal(t, f.tech.ID, updated.AssignedTo.ID)
	require.NotNil(t, updated.AssignedAt)
	assert.Equal(t, f.now, *updated.AssignedAt)
}

func TestTicketService_Assign_NonMember(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)

	_, err := f.service.Assign(context.Background(), f.manager, ticket.ID, f.outsider.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidAssignee))
	assert.Equal(t, domain.TicketStatusPending, f.tickets.tickets[ticket.ID].Status)
}

func TestTicketService_Assign_NonMemberOnResolvedTicket(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)
	_, err := f.service.Assign(context.Background(), f.manager, ticket.ID, f.tech.ID)
	require.NoError(t, err)
	_, err = f.service.Resolve(context.Background(), f.tech, ticket.ID, "done")
	require.NoError(t, err)

	// Membership wins over the status guard: a resolved ticket plus an
	// outside candidate reports the bad candidate, not the bad status.
	_, err = f.service.Assign(context.Background(), f.manager, ticket.ID, f.outsider.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidAssignee))

	_, err = f.service.Assign(context.Background(), f.manager, ticket.ID, f.tech.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePreconditionFailed),
		"a valid member still hits the status guard")
}

func TestTicketService_Assign_ByEmployeeForbidden(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)

	_, err := f.service.Assign(context.Background(), f.employee, ticket.ID, f.tech.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestTicketService_Resolve_RecordsAssigneeAndDuration(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)
	_, err := f.service.Assign(context.Background(), f.manager, ticket.ID, f.tech.ID)
	require.NoError(t, err)

	// Pretend the ticket was created two hours before resolution.
	f.tickets.tickets[ticket.ID].CreatedAt = f.now.Add(-2 * time.Hour)

	updated, err := f.service.Resolve(context.Background(), f.manager, ticket.ID, "Fixed cable")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, updated.Status)
	require.NotNil(t, updated.ResolvedByID)
	assert.Equal(t, f.tech.ID, *updated.ResolvedByID, "resolved_by is the assignee, not the actor")
	require.NotNil(t, updated.ResolutionTimeMinutes)
	assert.Equal(t, int32(120), *updated.ResolutionTimeMinutes)
	require.NotNil(t, updated.ResolutionComment)
	assert.Equal(t, "Fixed cable", *updated.ResolutionComment)
}

func TestTicketService_Resolve_Unassigned(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)

	_, err := f.service.Resolve(context.Background(), f.manager, ticket.ID, "done")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePreconditionFailed))
}

func TestTicketService_Reopen_AppendsInternalComment(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)
	_, err := f.service.Assign(context.Background(), f.manager, ticket.ID, f.tech.ID)
	require.NoError(t, err)
	_, err = f.service.Resolve(context.Background(), f.tech, ticket.ID, "replaced fuse")
	require.NoError(t, err)

	updated, err := f.service.Reopen(context.Background(), f.employee, ticket.ID, "tripped again this morning")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusReopened, updated.Status)
	require.NotNil(t, updated.ReopenReason)
	assert.Equal(t, "tripped again this morning", *updated.ReopenReason)

	internal, err := f.comments.ListByTicket(context.Background(), ticket.ID, true)
	require.NoError(t, err)
	require.Len(t, internal, 1)
	assert.True(t, internal[0].IsInternal)
	assert.Equal(t, "tripped again this morning", internal[0].Comment)
}

func TestTicketService_Reopen_OnlyFromResolved(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)

	_, err := f.service.Reopen(context.Background(), f.employee, ticket.ID, "not actually fixed")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePreconditionFailed))
}

func TestTicketService_ClosedTicketRejected(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)
	f.tickets.tickets[ticket.ID].Status = domain.TicketStatusClosed

	_, err := f.service.Assign(context.Background(), f.manager, ticket.ID, f.tech.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTerminalState))

	_, err = f.service.Resolve(context.Background(), f.manager, ticket.ID, "done")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTerminalState))

	_, err = f.service.Reopen(context.Background(), f.employee, ticket.ID, "please")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTerminalState))

	_, err = f.service.AddComment(context.Background(), f.employee, ticket.ID, "hello", false)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTerminalState))
}

func TestTicketService_GetTicket_Visibility(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)

	_, canModify, err := f.service.GetTicket(context.Background(), f.employee, ticket.ID)
	require.NoError(t, err)
	assert.False(t, canModify, "the creator can view but not modify")

	_, canModify, err = f.service.GetTicket(context.Background(), f.manager, ticket.ID)
	require.NoError(t, err)
	assert.True(t, canModify, "the department manager can modify")

	_, _, err = f.service.GetTicket(context.Background(), f.outsider, ticket.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestTicketService_GetTicket_InternalCommentsHidden(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)
	_, err := f.service.AddComment(context.Background(), f.employee, ticket.ID, "public note", false)
	require.NoError(t, err)
	_, err = f.service.AddComment(context.Background(), f.manager, ticket.ID, "vendor quote attached", true)
	require.NoError(t, err)

	asCreator, _, err := f.service.GetTicket(context.Background(), f.employee, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, asCreator.Comments, 1)

	asManager, _, err := f.service.GetTicket(context.Background(), f.manager, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, asManager.Comments, 2)
}

func TestTicketService_Comments_OrderMatchesCallOrder(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)

	texts := []string{"first look", "vendor contacted", "quote received", "work scheduled"}
	for _, text := range texts {
		_, err := f.service.AddComment(context.Background(), f.employee, ticket.ID, text, false)
		require.NoError(t, err)
	}

	fetched, _, err := f.service.GetTicket(context.Background(), f.employee, ticket.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Comments, len(texts))
	for i, text := range texts {
		assert.Equal(t, text, fetched.Comments[i].Comment)
	}
}

func TestTicketService_ListTickets_AssignedToMeDefaults(t *testing.T) {
	f := newFixture(t)
	open := f.createTicket(t, domain.TicketPriorityNormal)
	_, err := f.service.Assign(context.Background(), f.manager, open.ID, f.tech.ID)
	require.NoError(t, err)

	done := f.createTicket(t, domain.TicketPriorityNormal)
	_, err = f.service.Assign(context.Background(), f.manager, done.ID, f.tech.ID)
	require.NoError(t, err)
	_, err = f.service.Resolve(context.Background(), f.tech, done.ID, "swapped part")
	require.NoError(t, err)

	tickets, err := f.service.ListTickets(context.Background(), f.tech, ViewAssignedToMe, ListFilter{})
	require.NoError(t, err)
	require.Len(t, tickets, 1, "resolved work drops out of the default queue")
	assert.Equal(t, open.ID, tickets[0].ID)
}

func TestTicketService_ListTickets_UnknownView(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.ListTickets(context.Background(), f.employee, "everything", ListFilter{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
}

func TestTicketService_Stats_ScopedToDepartment(t *testing.T) {
	f := newFixture(t)
	f.createTicket(t, domain.TicketPriorityNormal)
	f.createTicket(t, domain.TicketPriorityHigh)

	stats, err := f.service.Stats(context.Background(), f.manager)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(2), stats.Pending)

	stats, err = f.service.Stats(context.Background(), f.outsider)
	require.NoError(t, err)
	assert.Zero(t, stats.Total, "another department sees nothing")
}

func TestTicketService_History_FullTrail(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityNormal)
	_, err := f.service.Assign(context.Background(), f.manager, ticket.ID, f.tech.ID)
	require.NoError(t, err)
	_, err = f.service.Resolve(context.Background(), f.tech, ticket.ID, "rebooted")
	require.NoError(t, err)
	_, err = f.service.Reopen(context.Background(), f.employee, ticket.ID, "crashed again")
	require.NoError(t, err)

	entries, err := f.service.History(context.Background(), f.employee, ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, domain.ActionCreated, entries[0].Action)
	assert.Equal(t, domain.ActionAssigned, entries[1].Action)
	assert.Equal(t, domain.ActionResolved, entries[2].Action)
	assert.Equal(t, domain.ActionReopened, entries[3].Action)
}

func TestTicketService_GetTicket_NotFound(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.GetTicket(context.Background(), f.employee, 999)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}
