package workflow

import (
	"context"

	"github.com/erp-suite/ticketflow/internal/api/dto"
	"github.com/erp-suite/ticketflow/internal/domain"
)

// View selects the visibility scope of a listing.
type View string

const (
	ViewMyTickets    View = "my_tickets"
	ViewAssignedToMe View = "assigned_to_me"
	ViewAll          View = "all"
)

// Filters narrow a ticket listing.
type Filters struct {
	Status      *domain.TicketStatus
	Priority    *domain.TicketPriority
	Category    *domain.TicketCategory
	OverdueOnly bool
	Page        int
	PageSize    int
}

// Store is the engine's boundary with the persistence service. Every
// method is one request/response round-trip; implementations surface
// semantic errors verbatim as DomainError and transport failures as
// CONNECTION_FAILED. Nothing is retried.
type Store interface {
	CreateTicket(ctx context.Context, req dto.CreateTicketRequest) (*dto.Ticket, error)
	ListTickets(ctx context.Context, view View, filters Filters) ([]dto.Ticket, error)
	GetTicket(ctx context.Context, id int64) (*dto.Ticket, bool, error)
	AssignTicket(ctx context.Context, id, userID int64) (*dto.Ticket, error)
	ResolveTicket(ctx context.Context, id int64, comment string) (*dto.Ticket, error)
	ReopenTicket(ctx context.Context, id int64, reason string) (*dto.Ticket, error)
	AddComment(ctx context.Context, id int64, text string, isInternal bool) (*dto.Comment, error)
	Departments(ctx context.Context) ([]dto.Department, error)
	DepartmentUsers(ctx context.Context, departmentID int64) ([]dto.DepartmentUser, error)
	Stats(ctx context.Context) (*dto.TicketStats, error)
}
