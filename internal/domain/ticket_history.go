package domain

import "time"

// TicketAction captures what a history entry records.
type TicketAction string

const (
	ActionCreated  TicketAction = "created"
	ActionAssigned TicketAction = "assigned"
	ActionResolved TicketAction = "resolved"
	ActionReopened TicketAction = "reopened"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID        int64
	TicketID  int64
	UserID    int64
	Action    TicketAction
	OldValue  string
	NewValue  string
	Comment   string
	CreatedAt time.Time
}
