package domain

import "time"

// Well-known roles. Roles gate ticket visibility and the can_modify
// capability; they are resolved server-side only.
const (
	RoleEmployee          = "employee"
	RoleTechnician        = "technician"
	RoleDepartmentManager = "department_manager"
	RoleHRDirector        = "directeur_rh"
)

// User is the domain model for anybody who creates, handles, or comments
// on tickets. Reference data from the workflow's perspective.
type User struct {
	ID           int64
	Username     string
	FullName     string
	Role         string
	DepartmentID *int64
	IsAdmin      bool
	IsActive     bool
	CreatedAt    time.Time
}

// Ref returns the embeddable view of u.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, FullName: u.FullName, Role: u.Role}
}

// InDepartment reports whether u belongs to the given department.
func (u *User) InDepartment(departmentID int64) bool {
	return u.DepartmentID != nil && *u.DepartmentID == departmentID
}
