package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp-suite/ticketflow/internal/api/dto"
	"github.com/erp-suite/ticketflow/internal/domain"
	"github.com/erp-suite/ticketflow/internal/events"
	apperrors "github.com/erp-suite/ticketflow/pkg/util/errorutil"
)

// Engine drives the ticket workflow from the view side. It validates
// transitions before issuing commands, serializes mutating operations
// per ticket id, and never applies a mutation locally: state changes
// only after a confirmed round-trip, followed by a re-fetch of the full
// ticket so the local copy cannot diverge from server truth.
//
// Authorization is never inferred here. The can_modify capability
// arrives with each ticket detail and is passed through untouched; the
// server re-validates every command regardless.
type Engine struct {
	store      Store
	dispatcher events.Dispatcher
	logger     *zap.Logger

	locksMu     sync.Mutex
	ticketLocks map[int64]*sync.Mutex

	stateMu     sync.RWMutex
	tickets     []dto.Ticket
	current     *dto.Ticket
	canModify   bool
	departments []dto.Department
	members     map[int64][]dto.DepartmentUser
}

// NewEngine constructs the engine. The dispatcher carries
// operation_succeeded / operation_failed events toward whatever
// notification sink the view layer subscribes; it may be nil.
func NewEngine(store Store, dispatcher events.Dispatcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:       store,
		dispatcher:  dispatcher,
		logger:      logger,
		ticketLocks: make(map[int64]*sync.Mutex),
		members:     make(map[int64][]dto.DepartmentUser),
	}
}

// CreateTicket validates required fields and creates a ticket in
// en_attente. Numbering and the SLA deadline are computed server-side.
func (e *Engine) CreateTicket(ctx context.Context, req dto.CreateTicketRequest) (*dto.Ticket, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Description) == "" || req.Category == "" {
		return nil, e.fail(ctx, "create", 0,
			apperrors.NewValidationError("title, description and category are required", nil))
	}
	if !req.Category.Valid() {
		return nil, e.fail(ctx, "create", 0,
			apperrors.NewValidationError("invalid category", map[string]any{"category": req.Category}))
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, e.fail(ctx, "create", 0,
			apperrors.NewValidationError("invalid priority", map[string]any{"priority": req.Priority}))
	}
	if req.DepartmentID == 0 {
		return nil, e.fail(ctx, "create", 0,
			apperrors.NewValidationError("department is required", nil))
	}

	ticket, err := e.store.CreateTicket(ctx, req)
	if err != nil {
		return nil, e.fail(ctx, "create", 0, err)
	}
	e.succeed(ctx, "create", ticket.ID, fmt.Sprintf("ticket %s created", ticket.TicketNumber))
	return ticket, nil
}

// ListTickets fetches a listing and caches it as the current list. The
// server determines ordering; the engine does not re-sort.
func (e *Engine) ListTickets(ctx context.Context, view View, filters Filters) ([]dto.Ticket, error) {
	tickets, err := e.store.ListTickets(ctx, view, filters)
	if err != nil {
		return nil, e.fail(ctx, "list", 0, err)
	}
	e.stateMu.Lock()
	e.tickets = tickets
	e.stateMu.Unlock()
	return tickets, nil
}

// GetTicket fetches a ticket detail plus the caller's can_modify
// capability and caches both as the current detail.
func (e *Engine) GetTicket(ctx context.Context, id int64) (*dto.Ticket, bool, error) {
	ticket, canModify, err := e.store.GetTicket(ctx, id)
	if err != nil {
		return nil, false, e.fail(ctx, "get", id, err)
	}
	e.setCurrent(ticket, canModify)
	return ticket, canModify, nil
}

// Assign moves a ticket to en_cours, assigning it to a member of its
// department. The candidate check uses the membership list already
// loaded for the department; the list is fetched once on demand.
func (e *Engine) Assign(ctx context.Context, ticketID, userID int64) (*dto.Ticket, error) {
	unlock := e.lockTicket(ticketID)
	defer unlock()

	ticket, _, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, e.fail(ctx, "assign", ticketID, err)
	}
	if ticket.Status.Terminal() {
		return nil, e.fail(ctx, "assign", ticketID,
			apperrors.NewTerminalState("closed tickets cannot be modified", nil))
	}

	// Membership is validated before the status precondition: a bad
	// candidate reports INVALID_ASSIGNEE on any non-closed ticket.
	members, err := e.departmentMembers(ctx, ticket.DepartmentID)
	if err != nil {
		return nil, e.fail(ctx, "assign", ticketID, err)
	}
	if !isMember(members, userID) {
		return nil, e.fail(ctx, "assign", ticketID,
			apperrors.NewInvalidAssignee("user must belong to the ticket's department",
				map[string]any{"user_id": userID, "department_id": ticket.DepartmentID}))
	}
	if !domain.CanTransition(ticket.Status, domain.TicketStatusInProgress) {
		return nil, e.fail(ctx, "assign", ticketID,
			apperrors.NewPreconditionError("ticket cannot be assigned in its current status",
				map[string]any{"status": ticket.Status}))
	}

	if _, err := e.store.AssignTicket(ctx, ticketID, userID); err != nil {
		return nil, e.fail(ctx, "assign", ticketID, err)
	}
	fresh, err := e.refetch(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	name := ""
	if fresh.AssignedTo != nil {
		name = fresh.AssignedTo.FullName
	}
	e.succeed(ctx, "assign", ticketID, fmt.Sprintf("ticket assigned to %s", name))
	return fresh, nil
}

// Resolve marks an assigned ticket resolved with a mandatory comment.
func (e *Engine) Resolve(ctx context.Context, ticketID int64, comment string) (*dto.Ticket, error) {
	unlock := e.lockTicket(ticketID)
	defer unlock()

	if strings.TrimSpace(comment) == "" {
		return nil, e.fail(ctx, "resolve", ticketID,
			apperrors.NewValidationError("resolution comment is required", nil))
	}
	ticket, _, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, e.fail(ctx, "resolve", ticketID, err)
	}
	if ticket.Status.Terminal() {
		return nil, e.fail(ctx, "resolve", ticketID,
			apperrors.NewTerminalState("closed tickets cannot be modified", nil))
	}
	if ticket.AssignedTo == nil {
		return nil, e.fail(ctx, "resolve", ticketID,
			apperrors.NewPreconditionError("ticket is not assigned", nil))
	}
	if !domain.CanTransition(ticket.Status, domain.TicketStatusResolved) {
		return nil, e.fail(ctx, "resolve", ticketID,
			apperrors.NewPreconditionError("ticket cannot be resolved in its current status",
				map[string]any{"status": ticket.Status}))
	}

	if _, err := e.store.ResolveTicket(ctx, ticketID, comment); err != nil {
		return nil, e.fail(ctx, "resolve", ticketID, err)
	}
	fresh, err := e.refetch(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	e.succeed(ctx, "resolve", ticketID, "ticket resolved")
	return fresh, nil
}

// Reopen moves a resolved ticket to reouvert with a mandatory reason.
// The server records the reason as an internal comment.
func (e *Engine) Reopen(ctx context.Context, ticketID int64, reason string) (*dto.Ticket, error) {
	unlock := e.lockTicket(ticketID)
	defer unlock()

	if strings.TrimSpace(reason) == "" {
		return nil, e.fail(ctx, "reopen", ticketID,
			apperrors.NewValidationError("reopen reason is required", nil))
	}
	ticket, _, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, e.fail(ctx, "reopen", ticketID, err)
	}
	if ticket.Status.Terminal() {
		return nil, e.fail(ctx, "reopen", ticketID,
			apperrors.NewTerminalState("closed tickets cannot be modified", nil))
	}
	if !domain.CanTransition(ticket.Status, domain.TicketStatusReopened) {
		return nil, e.fail(ctx, "reopen", ticketID,
			apperrors.NewPreconditionError("only resolved tickets can be reopened",
				map[string]any{"status": ticket.Status}))
	}

	if _, err := e.store.ReopenTicket(ctx, ticketID, reason); err != nil {
		return nil, e.fail(ctx, "reopen", ticketID, err)
	}
	fresh, err := e.refetch(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	e.succeed(ctx, "reopen", ticketID, "ticket reopened")
	return fresh, nil
}

// AddComment appends a comment to a non-closed ticket without changing
// its status.
func (e *Engine) AddComment(ctx context.Context, ticketID int64, text string, isInternal bool) (*dto.Comment, error) {
	unlock := e.lockTicket(ticketID)
	defer unlock()

	if strings.TrimSpace(text) == "" {
		return nil, e.fail(ctx, "comment", ticketID,
			apperrors.NewValidationError("comment is required", nil))
	}
	ticket, _, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, e.fail(ctx, "comment", ticketID, err)
	}
	if ticket.Status.Terminal() {
		return nil, e.fail(ctx, "comment", ticketID,
			apperrors.NewTerminalState("closed tickets cannot be modified", nil))
	}

	comment, err := e.store.AddComment(ctx, ticketID, text, isInternal)
	if err != nil {
		return nil, e.fail(ctx, "comment", ticketID, err)
	}
	if _, err := e.refetch(ctx, ticketID); err != nil {
		return nil, err
	}
	e.succeed(ctx, "comment", ticketID, "comment added")
	return comment, nil
}

// Departments returns the department reference list, fetched once and
// cached until RefreshDirectory.
func (e *Engine) Departments(ctx context.Context) ([]dto.Department, error) {
	e.stateMu.RLock()
	cached := e.departments
	e.stateMu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	departments, err := e.store.Departments(ctx)
	if err != nil {
		return nil, e.fail(ctx, "departments", 0, err)
	}
	e.stateMu.Lock()
	e.departments = departments
	e.stateMu.Unlock()
	return departments, nil
}

// DepartmentUsers returns the assignment candidates of a department,
// fetched once per department and cached until RefreshDirectory.
func (e *Engine) DepartmentUsers(ctx context.Context, departmentID int64) ([]dto.DepartmentUser, error) {
	return e.departmentMembers(ctx, departmentID)
}

// RefreshDirectory drops the department and membership caches so the
// next read re-fetches.
func (e *Engine) RefreshDirectory() {
	e.stateMu.Lock()
	e.departments = nil
	e.members = make(map[int64][]dto.DepartmentUser)
	e.stateMu.Unlock()
}

// Stats fetches the aggregate counters for the caller's scope.
func (e *Engine) Stats(ctx context.Context) (*dto.TicketStats, error) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, e.fail(ctx, "stats", 0, err)
	}
	return stats, nil
}

// CurrentTickets returns the last fetched listing.
func (e *Engine) CurrentTickets() []dto.Ticket {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.tickets
}

// CurrentTicket returns the last fetched detail and its can_modify
// capability.
func (e *Engine) CurrentTicket() (*dto.Ticket, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.current, e.canModify
}

func (e *Engine) departmentMembers(ctx context.Context, departmentID int64) ([]dto.DepartmentUser, error) {
	e.stateMu.RLock()
	cached, ok := e.members[departmentID]
	e.stateMu.RUnlock()
	if ok {
		return cached, nil
	}

	members, err := e.store.DepartmentUsers(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	e.stateMu.Lock()
	e.members[departmentID] = members
	e.stateMu.Unlock()
	return members, nil
}

// refetch reloads the full ticket after a confirmed mutation and makes
// it the current detail.
func (e *Engine) refetch(ctx context.Context, ticketID int64) (*dto.Ticket, error) {
	fresh, canModify, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, e.fail(ctx, "refresh", ticketID, err)
	}
	e.setCurrent(fresh, canModify)
	return fresh, nil
}

func (e *Engine) setCurrent(ticket *dto.Ticket, canModify bool) {
	e.stateMu.Lock()
	e.current = ticket
	e.canModify = canModify
	e.stateMu.Unlock()
}

// lockTicket serializes mutating operations per ticket id so a
// double-invoked action cannot race a lost update.
func (e *Engine) lockTicket(id int64) func() {
	e.locksMu.Lock()
	lock, ok := e.ticketLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.ticketLocks[id] = lock
	}
	e.locksMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (e *Engine) succeed(ctx context.Context, operation string, ticketID int64, message string) {
	e.logger.Info("operation succeeded",
		zap.String("operation", operation),
		zap.Int64("ticket_id", ticketID))
	e.publish(ctx, events.EventOperationSucceeded, ticketID, events.OperationResultPayload{
		Operation: operation,
		Message:   message,
	})
}

// fail reports the error to the sink and hands it back unchanged; the
// cached state keeps its last-known-good value.
func (e *Engine) fail(ctx context.Context, operation string, ticketID int64, err error) error {
	domainErr := apperrors.ToDomainError(err)
	e.logger.Warn("operation failed",
		zap.String("operation", operation),
		zap.Int64("ticket_id", ticketID),
		zap.String("code", domainErr.Code),
		zap.Error(err))
	e.publish(ctx, events.EventOperationFailed, ticketID, events.OperationResultPayload{
		Operation: operation,
		Message:   domainErr.Message,
		ErrorCode: domainErr.Code,
	})
	return err
}

func (e *Engine) publish(ctx context.Context, eventType events.EventType, ticketID int64, payload events.OperationResultPayload) {
	if e.dispatcher == nil {
		return
	}
	_ = e.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func isMember(members []dto.DepartmentUser, userID int64) bool {
	for _, member := range members {
		if member.ID == userID {
			return true
		}
	}
	return false
}
