package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/erp-suite/ticketflow/internal/api/dto"
	"github.com/erp-suite/ticketflow/internal/auth"
	"github.com/erp-suite/ticketflow/internal/service"
	apperrors "github.com/erp-suite/ticketflow/pkg/util/errorutil"
)

// DirectoryHandler serves departments and assignment candidates.
type DirectoryHandler struct {
	service *service.DirectoryService
}

// NewDirectoryHandler constructs handler.
func NewDirectoryHandler(directoryService *service.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{service: directoryService}
}

// ListDepartments GET /api/departments.
func (h *DirectoryHandler) ListDepartments(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	departments, err := h.service.Departments(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.Department, 0, len(departments))
	for _, dept := range departments {
		items = append(items, dto.Department{ID: dept.ID, Name: dept.Name, Code: dept.Code})
	}
	return c.JSON(dto.DepartmentListResponse{Success: true, Departments: items})
}

// DepartmentUsers GET /api/departments/:id/users.
func (h *DirectoryHandler) DepartmentUsers(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return apperrors.NewValidationError("invalid department id", nil)
	}
	users, err := h.service.DepartmentUsers(c.UserContext(), id)
	if err != nil {
		return err
	}
	items := make([]dto.DepartmentUser, 0, len(users))
	for _, user := range users {
		items = append(items, dto.DepartmentUser{
			ID:       user.ID,
			Username: user.Username,
			FullName: user.FullName,
			Role:     user.Role,
		})
	}
	return c.JSON(dto.DepartmentUsersResponse{Success: true, Users: items})
}
