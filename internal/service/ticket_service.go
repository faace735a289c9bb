package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/erp-suite/ticketflow/internal/cache"
	"github.com/erp-suite/ticketflow/internal/domain"
	"github.com/erp-suite/ticketflow/internal/events"
	"github.com/erp-suite/ticketflow/internal/repository"
	apperrors "github.com/erp-suite/ticketflow/pkg/util/errorutil"
)

// ListView selects the visibility scope of a ticket listing.
type ListView string

const (
	ViewMyTickets    ListView = "my_tickets"
	ViewAssignedToMe ListView = "assigned_to_me"
	ViewAll          ListView = "all"
)

// TicketService owns the server side of the ticket workflow: validation,
// numbering, SLA computation, transition guards, and audit history.
type TicketService struct {
	tickets     repository.TicketRepository
	comments    repository.CommentRepository
	history     repository.TicketHistoryRepository
	departments repository.DepartmentRepository
	members     *cache.DepartmentMembers
	dispatcher  events.Dispatcher
	now         func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo     repository.TicketRepository
	CommentRepo    repository.CommentRepository
	HistoryRepo    repository.TicketHistoryRepository
	DepartmentRepo repository.DepartmentRepository
	Members        *cache.DepartmentMembers
	Dispatcher     events.Dispatcher
	Now            func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title        string
	Description  string
	Category     domain.TicketCategory
	Priority     domain.TicketPriority
	DepartmentID int64
	Location     string
	Equipment    string
	Tags         []string
}

// ListFilter narrows a listing inside its visibility scope.
type ListFilter struct {
	Status      *domain.TicketStatus
	Category    *domain.TicketCategory
	Priority    *domain.TicketPriority
	OverdueOnly bool
	Limit       int
	Offset      int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &TicketService{
		tickets:     deps.TicketRepo,
		comments:    deps.CommentRepo,
		history:     deps.HistoryRepo,
		departments: deps.DepartmentRepo,
		members:     deps.Members,
		dispatcher:  deps.Dispatcher,
		now:         now,
	}
}

// CreateTicket validates input, computes the ticket number and SLA
// deadline, and persists a new en_attente ticket.
func (s *TicketService) CreateTicket(ctx context.Context, actor *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" || input.Category == "" {
		return nil, apperrors.NewValidationError("title, description and category are required", nil)
	}
	if !input.Category.Valid() {
		return nil, apperrors.NewValidationError("invalid category", map[string]any{"category": input.Category})
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityNormal
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": input.Priority})
	}
	if input.DepartmentID == 0 {
		return nil, apperrors.NewValidationError("department is required", nil)
	}

	dept, err := s.departments.GetByID(ctx, input.DepartmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewValidationError("invalid department", map[string]any{"department_id": input.DepartmentID})
		}
		return nil, apperrors.MapError(err)
	}
	if !dept.IsActive {
		return nil, apperrors.NewValidationError("department inactive", map[string]any{"department_id": dept.ID})
	}

	number, err := s.tickets.NextTicketNumber(ctx, s.now().Year())
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	deadline := s.now().Add(priority.SLAWindow())

	ticket := &domain.Ticket{
		TicketNumber: number,
		Title:        title,
		Description:  description,
		Category:     input.Category,
		Priority:     priority,
		Status:       domain.TicketStatusPending,
		Location:     strings.TrimSpace(input.Location),
		Equipment:    strings.TrimSpace(input.Equipment),
		Tags:         input.Tags,
		DepartmentID: dept.ID,
		Creator:      actor.Ref(),
		SLADeadline:  &deadline,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.record(ctx, ticket.ID, actor.ID, domain.ActionCreated, "",
		fmt.Sprintf("created by %s for department %s", actor.FullName, dept.Name), "")
	s.publish(ctx, events.EventTicketCreated, ticket.ID, actor.ID, events.TicketCreatedPayload{
		TicketNumber: ticket.TicketNumber,
		DepartmentID: ticket.DepartmentID,
		Category:     ticket.Category,
		Priority:     ticket.Priority,
		Title:        ticket.Title,
	})
	return ticket, nil
}

// ListTickets returns tickets in the given visibility scope, most recent
// first.
func (s *TicketService) ListTickets(ctx context.Context, actor *domain.User, view ListView, filter ListFilter) ([]domain.Ticket, error) {
	repoFilter := repository.TicketFilter{
		Category:    filter.Category,
		Priority:    filter.Priority,
		OverdueOnly: filter.OverdueOnly,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}
	if filter.Status != nil {
		repoFilter.Statuses = []domain.TicketStatus{*filter.Status}
	}

	switch view {
	case ViewMyTickets:
		repoFilter.VisibleToUserID = &actor.ID
		repoFilter.VisibleToDepartmentID = actor.DepartmentID
	case ViewAssignedToMe:
		repoFilter.AssigneeID = &actor.ID
		if filter.Status == nil {
			repoFilter.Statuses = []domain.TicketStatus{
				domain.TicketStatusPending, domain.TicketStatusInProgress, domain.TicketStatusReopened,
			}
		}
	case ViewAll:
		s.applyScope(&repoFilter, actor)
	default:
		return nil, apperrors.NewValidationError("unknown view", map[string]any{"view": view})
	}

	tickets, err := s.tickets.ListWithFilter(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	now := s.now()
	for i := range tickets {
		tickets[i].IsOverdue = tickets[i].IsOverdue || tickets[i].Overdue(now)
	}
	return tickets, nil
}

// GetTicket returns a ticket with its comment thread and the caller's
// can_modify capability. Internal comments are visible only to callers
// who can modify the ticket.
func (s *TicketService) GetTicket(ctx context.Context, actor *domain.User, id int64) (*domain.Ticket, bool, error) {
	ticket, err := s.fetch(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !s.canView(actor, ticket) {
		return nil, false, apperrors.NewForbidden("access denied")
	}
	canModify := s.canModify(actor, ticket)
	comments, err := s.comments.ListByTicket(ctx, ticket.ID, canModify)
	if err != nil {
		return nil, false, apperrors.MapError(err)
	}
	ticket.Comments = comments
	ticket.IsOverdue = ticket.IsOverdue || ticket.Overdue(s.now())
	return ticket, canModify, nil
}

// Assign moves a ticket to en_cours and sets the assignee, who must be
// an active member of the ticket's department.
func (s *TicketService) Assign(ctx context.Context, actor *domain.User, ticketID, assigneeID int64) (*domain.Ticket, error) {
	ticket, err := s.fetch(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !s.canModify(actor, ticket) {
		return nil, apperrors.NewForbidden("only the department manager, the assignee or an admin can assign")
	}
	if ticket.Status.Terminal() {
		return nil, apperrors.NewTerminalState("closed tickets cannot be modified", nil)
	}

	// Membership is validated before the status precondition: a bad
	// candidate reports INVALID_ASSIGNEE on any non-closed ticket.
	members, err := s.members.Members(ctx, ticket.DepartmentID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	var assignee *domain.User
	for i := range members {
		if members[i].ID == assigneeID {
			assignee = &members[i]
			break
		}
	}
	if assignee == nil {
		return nil, apperrors.NewInvalidAssignee("user must belong to the ticket's department",
			map[string]any{"user_id": assigneeID, "department_id": ticket.DepartmentID})
	}
	if !domain.CanTransition(ticket.Status, domain.TicketStatusInProgress) {
		return nil, apperrors.NewPreconditionError("ticket cannot be assigned in its current status",
			map[string]any{"status": ticket.Status})
	}

	oldAssignee := "none"
	var oldAssigneeID *int64
	if ticket.AssignedTo != nil {
		oldAssignee = ticket.AssignedTo.FullName
		id := ticket.AssignedTo.ID
		oldAssigneeID = &id
	}
	now := s.now()
	ref := assignee.Ref()
	ticket.AssignedTo = &ref
	ticket.AssignedAt = &now
	ticket.Status = domain.TicketStatusInProgress
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.record(ctx, ticket.ID, actor.ID, domain.ActionAssigned, oldAssignee, assignee.FullName, "")
	s.publish(ctx, events.EventTicketAssigned, ticket.ID, actor.ID, events.TicketAssignedPayload{
		AssigneeID:   assignee.ID,
		AssigneeName: assignee.FullName,
		OldAssignee:  oldAssigneeID,
	})
	return ticket, nil
}

// Resolve marks an assigned ticket resolved, recording the resolution
// comment and the elapsed time since creation.
func (s *TicketService) Resolve(ctx context.Context, actor *domain.User, ticketID int64, comment string) (*domain.Ticket, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, apperrors.NewValidationError("resolution comment is required", nil)
	}
	ticket, err := s.fetch(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !s.canModify(actor, ticket) {
		return nil, apperrors.NewForbidden("only the assignee, the department manager or an admin can resolve")
	}
	if ticket.Status.Terminal() {
		return nil, apperrors.NewTerminalState("closed tickets cannot be modified", nil)
	}
	if ticket.AssignedTo == nil {
		return nil, apperrors.NewPreconditionError("ticket is not assigned", nil)
	}
	if !domain.CanTransition(ticket.Status, domain.TicketStatusResolved) {
		return nil, apperrors.NewPreconditionError("ticket cannot be resolved in its current status",
			map[string]any{"status": ticket.Status})
	}

	now := s.now()
	minutes := int32(now.Sub(ticket.CreatedAt).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	resolvedBy := ticket.AssignedTo.ID
	ticket.Status = domain.TicketStatusResolved
	ticket.ResolvedByID = &resolvedBy
	ticket.ResolvedAt = &now
	ticket.ResolutionComment = &comment
	ticket.ResolutionTimeMinutes = &minutes
	ticket.IsOverdue = false
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.record(ctx, ticket.ID, actor.ID, domain.ActionResolved, "",
		fmt.Sprintf("resolved in %d minutes", minutes), comment)
	s.publish(ctx, events.EventTicketResolved, ticket.ID, actor.ID, events.TicketResolvedPayload{
		ResolvedByID:          resolvedBy,
		ResolutionTimeMinutes: minutes,
		Comment:               comment,
	})
	return ticket, nil
}

// Reopen moves a resolved ticket to reouvert. The reason is persisted on
// the ticket and also appended to the thread as an internal comment so
// it shows up in the discussion.
func (s *TicketService) Reopen(ctx context.Context, actor *domain.User, ticketID int64, reason string) (*domain.Ticket, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("reopen reason is required", nil)
	}
	ticket, err := s.fetch(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	if ticket.Status.Terminal() {
		return nil, apperrors.NewTerminalState("closed tickets cannot be modified", nil)
	}
	if !domain.CanTransition(ticket.Status, domain.TicketStatusReopened) {
		return nil, apperrors.NewPreconditionError("only resolved tickets can be reopened",
			map[string]any{"status": ticket.Status})
	}

	now := s.now()
	ticket.Status = domain.TicketStatusReopened
	ticket.ReopenedAt = &now
	ticket.ReopenedByID = &actor.ID
	ticket.ReopenReason = &reason
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	reasonComment := &domain.Comment{
		TicketID:   ticket.ID,
		Author:     actor.Ref(),
		Comment:    reason,
		IsInternal: true,
	}
	if err := s.comments.Create(ctx, reasonComment); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.record(ctx, ticket.ID, actor.ID, domain.ActionReopened, string(domain.TicketStatusResolved),
		string(domain.TicketStatusReopened), reason)
	s.publish(ctx, events.EventTicketReopened, ticket.ID, actor.ID, events.TicketReopenedPayload{
		ReopenedByID: actor.ID,
		Reason:       reason,
	})
	return ticket, nil
}

// AddComment appends a comment to a non-closed ticket. Status is
// unchanged.
func (s *TicketService) AddComment(ctx context.Context, actor *domain.User, ticketID int64, text string, isInternal bool) (*domain.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.NewValidationError("comment is required", nil)
	}
	ticket, err := s.fetch(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	if ticket.Status.Terminal() {
		return nil, apperrors.NewTerminalState("closed tickets cannot be modified", nil)
	}

	comment := &domain.Comment{
		TicketID:   ticket.ID,
		Author:     actor.Ref(),
		Comment:    text,
		IsInternal: isInternal,
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.EventTicketCommentAdded, ticket.ID, actor.ID, events.TicketCommentAddedPayload{
		CommentID:  comment.ID,
		AuthorID:   actor.ID,
		IsInternal: isInternal,
		Preview:    stringPreview(text, 120),
	})
	return comment, nil
}

// Stats aggregates ticket counts within the caller's visibility scope.
func (s *TicketService) Stats(ctx context.Context, actor *domain.User) (*repository.TicketStats, error) {
	filter := repository.TicketFilter{}
	s.applyScope(&filter, actor)
	stats, err := s.tickets.Stats(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return stats, nil
}

// History returns the audit trail of a ticket the caller can view.
func (s *TicketService) History(ctx context.Context, actor *domain.User, ticketID int64) ([]domain.TicketHistory, error) {
	ticket, err := s.fetch(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	entries, err := s.history.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

func (s *TicketService) fetch(ctx context.Context, id int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

// applyScope narrows a filter to what the actor may see: admins see
// everything, department managers their department, everyone else their
// own tickets plus their department's.
func (s *TicketService) applyScope(filter *repository.TicketFilter, actor *domain.User) {
	if actor.IsAdmin {
		return
	}
	if actor.Role == domain.RoleDepartmentManager && actor.DepartmentID != nil {
		filter.DepartmentID = actor.DepartmentID
		return
	}
	filter.VisibleToUserID = &actor.ID
	filter.VisibleToDepartmentID = actor.DepartmentID
}

func (s *TicketService) canView(user *domain.User, ticket *domain.Ticket) bool {
	if user.IsAdmin {
		return true
	}
	if ticket.Creator.ID == user.ID {
		return true
	}
	if ticket.AssignedTo != nil && ticket.AssignedTo.ID == user.ID {
		return true
	}
	return user.InDepartment(ticket.DepartmentID)
}

// canModify computes the can_modify capability. This is the only place
// it is computed; clients receive it and must never infer it locally.
func (s *TicketService) canModify(user *domain.User, ticket *domain.Ticket) bool {
	if user.IsAdmin {
		return true
	}
	if user.Role == domain.RoleDepartmentManager && user.InDepartment(ticket.DepartmentID) {
		return true
	}
	return ticket.AssignedTo != nil && ticket.AssignedTo.ID == user.ID
}

func (s *TicketService) record(ctx context.Context, ticketID, userID int64, action domain.TicketAction, oldValue, newValue, comment string) {
	if s.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID: ticketID,
		UserID:   userID,
		Action:   action,
		OldValue: oldValue,
		NewValue: newValue,
		Comment:  comment,
	}
	_ = s.history.Create(ctx, entry)
}

func (s *TicketService) publish(ctx context.Context, eventType events.EventType, ticketID, actorID int64, payload any) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		ActorID:   actorID,
		Timestamp: s.now(),
		Payload:   payload,
	})
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	if max <= 3 {
		return body[:max]
	}
	return body[:max-3] + "..."
}
