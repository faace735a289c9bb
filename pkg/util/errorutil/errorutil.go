package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the HTTP API and the workflow engine.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodePreconditionFailed = "PRECONDITION_FAILED"
	CodeInvalidAssignee    = "INVALID_ASSIGNEE"
	CodeTerminalState      = "TERMINAL_STATE"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeConnectionFailed   = "CONNECTION_FAILED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

// NewPreconditionError reports a state guard that the current ticket does not satisfy.
func NewPreconditionError(message string, details map[string]any) error {
	return NewDomainError(CodePreconditionFailed, message, http.StatusConflict, details)
}

// NewInvalidAssignee reports an assignment target outside the ticket's department.
func NewInvalidAssignee(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidAssignee, message, http.StatusBadRequest, details)
}

// NewTerminalState reports a mutation attempted on a closed ticket.
func NewTerminalState(message string, details map[string]any) error {
	return NewDomainError(CodeTerminalState, message, http.StatusConflict, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewConnectionError reports an unreachable collaborator. Not retried.
func NewConnectionError(err error) error {
	return &DomainError{
		Code:       CodeConnectionFailed,
		Message:    "persistence service unreachable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternalError,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// FromCode rebuilds a DomainError from a wire code and message, preserving
// the server message verbatim. Unknown codes degrade to INTERNAL_ERROR.
func FromCode(code, message string) *DomainError {
	status, ok := statusByCode[code]
	if !ok {
		code = CodeInternalError
		status = http.StatusInternalServerError
	}
	return &DomainError{Code: code, Message: message, HTTPStatus: status}
}

var statusByCode = map[string]int{
	CodeValidationFailed:   http.StatusBadRequest,
	CodePreconditionFailed: http.StatusConflict,
	CodeInvalidAssignee:    http.StatusBadRequest,
	CodeTerminalState:      http.StatusConflict,
	CodeNotFound:           http.StatusNotFound,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeForbidden:          http.StatusForbidden,
	CodeConflict:           http.StatusConflict,
	CodeConnectionFailed:   http.StatusServiceUnavailable,
	CodeInternalError:      http.StatusInternalServerError,
}

// HasCode reports whether err is a DomainError carrying the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternalError,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
