package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/erp-suite/ticketflow/internal/api/dto"
	"github.com/erp-suite/ticketflow/internal/auth"
	apperrors "github.com/erp-suite/ticketflow/pkg/util/errorutil"
)

// RESTStore implements Store against the ticket service HTTP API. The
// acting user travels as the X-User-ID header; responses use the
// {success, ...} envelope and failures carry {error, code}, which are
// rebuilt into DomainError values with the server message verbatim.
type RESTStore struct {
	baseURL string
	userID  int64
	client  *http.Client
}

// NewRESTStore builds a store bound to one acting user.
func NewRESTStore(baseURL string, userID int64, client *http.Client) *RESTStore {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RESTStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		client:  client,
	}
}

func (s *RESTStore) CreateTicket(ctx context.Context, req dto.CreateTicketRequest) (*dto.Ticket, error) {
	var out dto.TicketResponse
	if err := s.do(ctx, http.MethodPost, "/api/tickets", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Ticket, nil
}

func (s *RESTStore) ListTickets(ctx context.Context, view View, filters Filters) ([]dto.Ticket, error) {
	query := url.Values{}
	if view != "" {
		query.Set("view", string(view))
	}
	if filters.Status != nil {
		query.Set("status", string(*filters.Status))
	}
	if filters.Category != nil {
		query.Set("category", string(*filters.Category))
	}
	if filters.Priority != nil {
		query.Set("priority", string(*filters.Priority))
	}
	if filters.OverdueOnly {
		query.Set("overdue", "true")
	}
	if filters.Page > 0 {
		query.Set("page", strconv.Itoa(filters.Page))
	}
	if filters.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(filters.PageSize))
	}

	var out dto.TicketListResponse
	if err := s.do(ctx, http.MethodGet, "/api/tickets", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Tickets, nil
}

func (s *RESTStore) GetTicket(ctx context.Context, id int64) (*dto.Ticket, bool, error) {
	var out dto.TicketDetailResponse
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/api/tickets/%d", id), nil, nil, &out); err != nil {
		return nil, false, err
	}
	return out.Ticket, out.CanModify, nil
}

func (s *RESTStore) AssignTicket(ctx context.Context, id, userID int64) (*dto.Ticket, error) {
	var out dto.TicketResponse
	body := dto.AssignRequest{AssignedToID: userID}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/api/tickets/%d/assign", id), nil, body, &out); err != nil {
		return nil, err
	}
	return out.Ticket, nil
}

func (s *RESTStore) ResolveTicket(ctx context.Context, id int64, comment string) (*dto.Ticket, error) {
	var out dto.TicketResponse
	body := dto.ResolveRequest{Comment: comment}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/api/tickets/%d/resolve", id), nil, body, &out); err != nil {
		return nil, err
	}
	return out.Ticket, nil
}

func (s *RESTStore) ReopenTicket(ctx context.Context, id int64, reason string) (*dto.Ticket, error) {
	var out dto.TicketResponse
	body := dto.ReopenRequest{Reason: reason}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/api/tickets/%d/reopen", id), nil, body, &out); err != nil {
		return nil, err
	}
	return out.Ticket, nil
}

func (s *RESTStore) AddComment(ctx context.Context, id int64, text string, isInternal bool) (*dto.Comment, error) {
	var out dto.CommentResponse
	body := dto.CreateCommentRequest{Comment: text, IsInternal: isInternal}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/api/tickets/%d/comments", id), nil, body, &out); err != nil {
		return nil, err
	}
	return out.Comment, nil
}

func (s *RESTStore) Departments(ctx context.Context) ([]dto.Department, error) {
	var out dto.DepartmentListResponse
	if err := s.do(ctx, http.MethodGet, "/api/departments", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Departments, nil
}

func (s *RESTStore) DepartmentUsers(ctx context.Context, departmentID int64) ([]dto.DepartmentUser, error) {
	var out dto.DepartmentUsersResponse
	path := fmt.Sprintf("/api/departments/%d/users", departmentID)
	if err := s.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (s *RESTStore) Stats(ctx context.Context) (*dto.TicketStats, error) {
	var out dto.StatsResponse
	if err := s.do(ctx, http.MethodGet, "/api/tickets/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Stats, nil
}

// do performs one round-trip. Transport failures surface as
// CONNECTION_FAILED; envelope failures are rebuilt from their code.
func (s *RESTStore) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	req.Header.Set(auth.HeaderUserID, strconv.FormatInt(s.userID, 10))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.NewConnectionError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewConnectionError(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var failure dto.ErrorResponse
		if err := json.Unmarshal(payload, &failure); err != nil || failure.Code == "" {
			return apperrors.FromCode(apperrors.CodeInternalError,
				fmt.Sprintf("unexpected response (status %d)", resp.StatusCode))
		}
		return apperrors.FromCode(failure.Code, failure.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}
