package dto

import (
	"time"

	"github.com/erp-suite/ticketflow/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title        string                `json:"title"`
	Description  string                `json:"description"`
	Category     domain.TicketCategory `json:"category"`
	Priority     domain.TicketPriority `json:"priority"`
	DepartmentID int64                 `json:"department_id"`
	Location     string                `json:"location,omitempty"`
	Equipment    string                `json:"equipment,omitempty"`
	Tags         []string              `json:"tags,omitempty"`
}

// AssignRequest payload.
type AssignRequest struct {
	AssignedToID int64 `json:"assigned_to_id"`
}

// ResolveRequest payload.
type ResolveRequest struct {
	Comment string `json:"comment"`
}

// ReopenRequest payload.
type ReopenRequest struct {
	Reason string `json:"reason"`
}

// CreateCommentRequest payload.
type CreateCommentRequest struct {
	Comment    string `json:"comment"`
	IsInternal bool   `json:"is_internal"`
}

// Ticket is the wire representation of a ticket.
type Ticket struct {
	ID                    int64                 `json:"id"`
	TicketNumber          string                `json:"ticket_number"`
	Title                 string                `json:"title"`
	Description           string                `json:"description"`
	Category              domain.TicketCategory `json:"category"`
	Priority              domain.TicketPriority `json:"priority"`
	Status                domain.TicketStatus   `json:"status"`
	Location              string                `json:"location,omitempty"`
	Equipment             string                `json:"equipment,omitempty"`
	Tags                  []string              `json:"tags,omitempty"`
	DepartmentID          int64                 `json:"department_id"`
	Creator               *domain.UserRef       `json:"creator"`
	AssignedTo            *domain.UserRef       `json:"assigned_to,omitempty"`
	AssignedAt            *time.Time            `json:"assigned_at,omitempty"`
	SLADeadline           *time.Time            `json:"sla_deadline,omitempty"`
	IsOverdue             bool                  `json:"is_overdue"`
	ResolvedByID          *int64                `json:"resolved_by_id,omitempty"`
	ResolvedAt            *time.Time            `json:"resolved_at,omitempty"`
	ResolutionComment     *string               `json:"resolution_comment,omitempty"`
	ResolutionTimeMinutes *int32                `json:"resolution_time_minutes,omitempty"`
	ReopenedAt            *time.Time            `json:"reopened_at,omitempty"`
	ReopenReason          *string               `json:"reopen_reason,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
	Comments              []Comment             `json:"comments,omitempty"`
}

// Comment is the wire representation of a ticket comment.
type Comment struct {
	ID         int64           `json:"id"`
	TicketID   int64           `json:"ticket_id"`
	User       *domain.UserRef `json:"user"`
	Comment    string          `json:"comment"`
	IsInternal bool            `json:"is_internal"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Department is the wire representation of reference departments.
type Department struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// DepartmentUser is an assignment candidate.
type DepartmentUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// HistoryEntry is an audit trail row.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	UserID    int64     `json:"user_id"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketStats mirrors the stats aggregate.
type TicketStats struct {
	Total                int64            `json:"total"`
	Pending              int64            `json:"en_attente"`
	InProgress           int64            `json:"en_cours"`
	Resolved             int64            `json:"resolu"`
	Overdue              int64            `json:"overdue"`
	ByPriority           map[string]int64 `json:"by_priority"`
	ByCategory           map[string]int64 `json:"by_category"`
	AvgResolutionMinutes *float64         `json:"avg_resolution_minutes,omitempty"`
}

// Response envelopes. Every endpoint answers {success, ...} on success
// and {success:false, error, code} on failure.

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// TicketResponse wraps a single ticket.
type TicketResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Ticket  *Ticket `json:"ticket"`
}

// TicketListResponse wraps a listing.
type TicketListResponse struct {
	Success bool     `json:"success"`
	Tickets []Ticket `json:"tickets"`
	Count   int      `json:"count"`
}

// TicketDetailResponse wraps a ticket with the caller capability.
type TicketDetailResponse struct {
	Success   bool    `json:"success"`
	Ticket    *Ticket `json:"ticket"`
	CanModify bool    `json:"can_modify"`
}

// CommentResponse wraps a created comment.
type CommentResponse struct {
	Success bool     `json:"success"`
	Comment *Comment `json:"comment"`
}

// DepartmentListResponse wraps reference departments.
type DepartmentListResponse struct {
	Success     bool         `json:"success"`
	Departments []Department `json:"departments"`
}

// DepartmentUsersResponse wraps assignment candidates.
type DepartmentUsersResponse struct {
	Success bool             `json:"success"`
	Users   []DepartmentUser `json:"users"`
}

// HistoryResponse wraps the audit trail.
type HistoryResponse struct {
	Success bool           `json:"success"`
	History []HistoryEntry `json:"history"`
}

// StatsResponse wraps the aggregate counters.
type StatsResponse struct {
	Success bool         `json:"success"`
	Stats   *TicketStats `json:"stats"`
}

// FromDomainTicket converts a domain ticket to its wire form.
func FromDomainTicket(t *domain.Ticket) *Ticket {
	creator := t.Creator
	out := &Ticket{
		ID:                    t.ID,
		TicketNumber:          t.TicketNumber,
		Title:                 t.Title,
		Description:           t.Description,
		Category:              t.Category,
		Priority:              t.Priority,
		Status:                t.Status,
		Location:              t.Location,
		Equipment:             t.Equipment,
		Tags:                  t.Tags,
		DepartmentID:          t.DepartmentID,
		Creator:               &creator,
		AssignedTo:            t.AssignedTo,
		AssignedAt:            t.AssignedAt,
		SLADeadline:           t.SLADeadline,
		IsOverdue:             t.IsOverdue,
		ResolvedByID:          t.ResolvedByID,
		ResolvedAt:            t.ResolvedAt,
		ResolutionComment:     t.ResolutionComment,
		ResolutionTimeMinutes: t.ResolutionTimeMinutes,
		ReopenedAt:            t.ReopenedAt,
		ReopenReason:          t.ReopenReason,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
	for i := range t.Comments {
		out.Comments = append(out.Comments, FromDomainComment(&t.Comments[i]))
	}
	return out
}

// FromDomainComment converts a domain comment to its wire form.
func FromDomainComment(c *domain.Comment) Comment {
	author := c.Author
	return Comment{
		ID:         c.ID,
		TicketID:   c.TicketID,
		User:       &author,
		Comment:    c.Comment,
		IsInternal: c.IsInternal,
		CreatedAt:  c.CreatedAt,
	}
}
