package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/erp-suite/ticketflow/internal/cache"
	"github.com/erp-suite/ticketflow/internal/domain"
	"github.com/erp-suite/ticketflow/internal/repository"
	apperrors "github.com/erp-suite/ticketflow/pkg/util/errorutil"
)

// DirectoryService serves the reference data the workflow consumes:
// departments and their assignable members.
type DirectoryService struct {
	departments repository.DepartmentRepository
	members     *cache.DepartmentMembers
}

// NewDirectoryService constructs the service.
func NewDirectoryService(departments repository.DepartmentRepository, members *cache.DepartmentMembers) *DirectoryService {
	return &DirectoryService{departments: departments, members: members}
}

// Departments lists active departments for ticket creation.
func (s *DirectoryService) Departments(ctx context.Context) ([]domain.Department, error) {
	departments, err := s.departments.ListActive(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return departments, nil
}

// DepartmentUsers lists the active members of a department, the
// assignment candidate set for its tickets.
func (s *DirectoryService) DepartmentUsers(ctx context.Context, departmentID int64) ([]domain.User, error) {
	if _, err := s.departments.GetByID(ctx, departmentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("department", map[string]any{"department_id": departmentID})
		}
		return nil, apperrors.MapError(err)
	}
	users, err := s.members.Members(ctx, departmentID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}
