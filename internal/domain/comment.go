package domain

import "time"

// Comment is an append-only entry in a ticket's discussion thread.
// Comments are never edited or deleted; internal comments are visible
// only to users allowed to modify the ticket.
type Comment struct {
	ID         int64
	TicketID   int64
	Author     UserRef
	Comment    string
	IsInternal bool
	CreatedAt  time.Time
}
