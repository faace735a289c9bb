package domain

import "time"

// Department represents an organizational unit owning tickets.
// Reference data from the workflow's perspective.
type Department struct {
	ID        int64
	Name      string
	Code      string
	IsActive  bool
	CreatedAt time.Time
}
