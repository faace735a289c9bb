package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/erp-suite/ticketflow/internal/api/dto"
	"github.com/erp-suite/ticketflow/internal/auth"
	"github.com/erp-suite/ticketflow/internal/domain"
	"github.com/erp-suite/ticketflow/internal/service"
	apperrors "github.com/erp-suite/ticketflow/pkg/util/errorutil"
)

// TicketsHandler exposes the ticket workflow endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /api/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), actor, service.TicketCreateInput{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		Priority:     req.Priority,
		DepartmentID: req.DepartmentID,
		Location:     req.Location,
		Equipment:    req.Equipment,
		Tags:         req.Tags,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dto.TicketResponse{
		Success: true,
		Message: fmt.Sprintf("ticket %s created", ticket.TicketNumber),
		Ticket:  dto.FromDomainTicket(ticket),
	})
}

// ListTickets GET /api/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}

	view := service.ListView(c.Query("view", string(service.ViewMyTickets)))
	filter := parseListFilter(c)

	tickets, err := h.service.ListTickets(c.UserContext(), actor, view, filter)
	if err != nil {
		return err
	}
	items := make([]dto.Ticket, 0, len(tickets))
	for i := range tickets {
		items = append(items, *dto.FromDomainTicket(&tickets[i]))
	}
	return c.JSON(dto.TicketListResponse{Success: true, Tickets: items, Count: len(items)})
}

// GetTicket GET /api/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, canModify, err := h.service.GetTicket(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(dto.TicketDetailResponse{
		Success:   true,
		Ticket:    dto.FromDomainTicket(ticket),
		CanModify: canModify,
	})
}

// Assign POST /api/tickets/:id/assign.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	actor, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.AssignedToID == 0 {
		return apperrors.NewValidationError("assigned_to_id required", nil)
	}

	ticket, err := h.service.Assign(c.UserContext(), actor, id, req.AssignedToID)
	if err != nil {
		return err
	}
	return c.JSON(dto.TicketResponse{
		Success: true,
		Message: fmt.Sprintf("ticket assigned to %s", ticket.AssignedTo.FullName),
		Ticket:  dto.FromDomainTicket(ticket),
	})
}

// Resolve POST /api/tickets/:id/resolve.
func (h *TicketsHandler) Resolve(c *fiber.Ctx) error {
	actor, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.Resolve(c.UserContext(), actor, id, req.Comment)
	if err != nil {
		return err
	}
	minutes := int32(0)
	if ticket.ResolutionTimeMinutes != nil {
		minutes = *ticket.ResolutionTimeMinutes
	}
	return c.JSON(dto.TicketResponse{
		Success: true,
		Message: fmt.Sprintf("ticket resolved in %d minutes", minutes),
		Ticket:  dto.FromDomainTicket(ticket),
	})
}

// Reopen POST /api/tickets/:id/reopen.
func (h *TicketsHandler) Reopen(c *fiber.Ctx) error {
	actor, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.ReopenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.Reopen(c.UserContext(), actor, id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(dto.TicketResponse{
		Success: true,
		Message: "ticket reopened",
		Ticket:  dto.FromDomainTicket(ticket),
	})
}

// AddComment POST /api/tickets/:id/comments.
func (h *TicketsHandler) AddComment(c *fiber.Ctx) error {
	actor, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.CreateCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	comment, err := h.service.AddComment(c.UserContext(), actor, id, req.Comment, req.IsInternal)
	if err != nil {
		return err
	}
	wire := dto.FromDomainComment(comment)
	return c.Status(fiber.StatusCreated).JSON(dto.CommentResponse{Success: true, Comment: &wire})
}

// Stats GET /api/tickets/stats.
func (h *TicketsHandler) Stats(c *fiber.Ctx) error {
	actor, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	stats, err := h.service.Stats(c.UserContext(), actor)
	if err != nil {
		return err
	}
	wire := &dto.TicketStats{
		Total:                stats.Total,
		Pending:              stats.Pending,
		InProgress:           stats.InProgress,
		Resolved:             stats.Resolved,
		Overdue:              stats.Overdue,
		ByPriority:           make(map[string]int64, len(stats.ByPriority)),
		ByCategory:           make(map[string]int64, len(stats.ByCategory)),
		AvgResolutionMinutes: stats.AvgResolutionMinutes,
	}
	for priority, count := range stats.ByPriority {
		wire.ByPriority[string(priority)] = count
	}
	for category, count := range stats.ByCategory {
		wire.ByCategory[string(category)] = count
	}
	return c.JSON(dto.StatsResponse{Success: true, Stats: wire})
}

// History GET /api/tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	actor, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	entries, err := h.service.History(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	wire := make([]dto.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		wire = append(wire, dto.HistoryEntry{
			ID:        entry.ID,
			Action:    string(entry.Action),
			UserID:    entry.UserID,
			OldValue:  entry.OldValue,
			NewValue:  entry.NewValue,
			Comment:   entry.Comment,
			CreatedAt: entry.CreatedAt,
		})
	}
	return c.JSON(dto.HistoryResponse{Success: true, History: wire})
}

func ticketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid ticket id", nil)
	}
	return id, nil
}

func parseListFilter(c *fiber.Ctx) service.ListFilter {
	filter := service.ListFilter{}
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		status := domain.TicketStatus(v)
		filter.Status = &status
	}
	if v := strings.TrimSpace(c.Query("category")); v != "" {
		category := domain.TicketCategory(v)
		filter.Category = &category
	}
	if v := strings.TrimSpace(c.Query("priority")); v != "" {
		priority := domain.TicketPriority(v)
		filter.Priority = &priority
	}
	filter.OverdueOnly = strings.EqualFold(c.Query("overdue"), "true")

	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 100)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
