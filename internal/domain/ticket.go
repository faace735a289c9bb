package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "en_attente"
	TicketStatusInProgress TicketStatus = "en_cours"
	TicketStatusResolved   TicketStatus = "resolu"
	TicketStatusClosed     TicketStatus = "ferme"
	TicketStatusReopened   TicketStatus = "reouvert"
)

// Terminal reports whether no further transition is defined from s.
// Only ferme is terminal; no operation in this service produces it, the
// status exists solely as pre-existing data.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusClosed
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "basse"
	TicketPriorityNormal   TicketPriority = "normale"
	TicketPriorityHigh     TicketPriority = "haute"
	TicketPriorityCritical TicketPriority = "critique"
	TicketPriorityUrgent   TicketPriority = "urgente"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityNormal, TicketPriorityHigh, TicketPriorityCritical, TicketPriorityUrgent:
		return true
	}
	return false
}

// slaHours maps priority to the resolution window granted at creation.
var slaHours = map[TicketPriority]int{
	TicketPriorityUrgent:   2,
	TicketPriorityCritical: 4,
	TicketPriorityHigh:     24,
	TicketPriorityNormal:   72,
	TicketPriorityLow:      168,
}

// SLAWindow returns the resolution window for p. Unknown priorities get
// the normale window.
func (p TicketPriority) SLAWindow() time.Duration {
	hours, ok := slaHours[p]
	if !ok {
		hours = 72
	}
	return time.Duration(hours) * time.Hour
}

// TicketCategory enumerates problem areas.
type TicketCategory string

const (
	CategoryProduction     TicketCategory = "production"
	CategoryQualityControl TicketCategory = "quality_control"
	CategoryWarehouse      TicketCategory = "warehouse"
	CategoryITSupport      TicketCategory = "it_support"
	CategoryHR             TicketCategory = "hr"
	CategoryMaintenance    TicketCategory = "maintenance"
	CategorySecurity       TicketCategory = "security"
	CategoryOther          TicketCategory = "other"
)

// Categories lists all known categories in display order.
func Categories() []TicketCategory {
	return []TicketCategory{
		CategoryProduction, CategoryQualityControl, CategoryWarehouse,
		CategoryITSupport, CategoryHR, CategoryMaintenance,
		CategorySecurity, CategoryOther,
	}
}

// Valid reports whether c is a known category.
func (c TicketCategory) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// UserRef is the embedded view of a user on a ticket or comment.
type UserRef struct {
	ID       int64  `json:"id"`
	FullName string `json:"name"`
	Role     string `json:"role,omitempty"`
}

// Ticket is the aggregate for problem reports.
type Ticket struct {
	ID           int64
	TicketNumber string
	Title        string
	Description  string
	Category     TicketCategory
	Priority     TicketPriority
	Status       TicketStatus
	Location     string
	Equipment    string
	Tags         []string
	DepartmentID int64
	Creator      UserRef
	AssignedTo   *UserRef
	AssignedAt   *time.Time

	SLADeadline *time.Time
	IsOverdue   bool

	ResolvedByID          *int64
	ResolvedAt            *time.Time
	ResolutionComment     *string
	ResolutionTimeMinutes *int32

	ReopenedAt   *time.Time
	ReopenedByID *int64
	ReopenReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	Comments []Comment
}

// Overdue derives the overdue flag: past the SLA deadline and neither
// resolved nor closed.
func (t *Ticket) Overdue(now time.Time) bool {
	if t.Status == TicketStatusResolved || t.Status == TicketStatusClosed {
		return false
	}
	return t.SLADeadline != nil && now.After(*t.SLADeadline)
}

// allowedTransitions encodes the workflow state machine. ferme appears
// only as a source with no outgoing edges, and no edge targets it.
var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusPending:    {TicketStatusInProgress},
	TicketStatusInProgress: {TicketStatusInProgress, TicketStatusResolved},
	TicketStatusResolved:   {TicketStatusReopened},
	TicketStatusReopened:   {TicketStatusInProgress, TicketStatusResolved},
	TicketStatusClosed:     {},
}

// CanTransition reports whether the workflow permits moving from current
// to next.
func CanTransition(current, next TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}
