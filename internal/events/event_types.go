package events

import (
	"time"

	"github.com/erp-suite/ticketflow/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated      EventType = "ticket_created"
	EventTicketAssigned     EventType = "ticket_assigned"
	EventTicketResolved     EventType = "ticket_resolved"
	EventTicketReopened     EventType = "ticket_reopened"
	EventTicketCommentAdded EventType = "ticket_comment_added"

	// View-facing results published by the workflow engine so a
	// notification sink can surface them to the user.
	EventOperationSucceeded EventType = "operation_succeeded"
	EventOperationFailed    EventType = "operation_failed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  int64       `json:"ticket_id"`
	ActorID   int64       `json:"actor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketNumber string                `json:"ticket_number"`
	DepartmentID int64                 `json:"department_id"`
	Category     domain.TicketCategory `json:"category"`
	Priority     domain.TicketPriority `json:"priority"`
	Title        string                `json:"title"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssigneeID   int64  `json:"assignee_id"`
	AssigneeName string `json:"assignee_name"`
	OldAssignee  *int64 `json:"old_assignee,omitempty"`
}

// TicketResolvedPayload payload.
type TicketResolvedPayload struct {
	ResolvedByID          int64  `json:"resolved_by_id"`
	ResolutionTimeMinutes int32  `json:"resolution_time_minutes"`
	Comment               string `json:"comment"`
}

// TicketReopenedPayload payload.
type TicketReopenedPayload struct {
	ReopenedByID int64  `json:"reopened_by_id"`
	Reason       string `json:"reason"`
}

// TicketCommentAddedPayload payload.
type TicketCommentAddedPayload struct {
	CommentID  int64  `json:"comment_id"`
	AuthorID   int64  `json:"author_id"`
	IsInternal bool   `json:"is_internal"`
	Preview    string `json:"preview"`
}

// OperationResultPayload reports the outcome of an engine command.
type OperationResultPayload struct {
	Operation string `json:"operation"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}
