package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/raphaelgruber/labelflow/internal/allocator"
	"github.com/raphaelgruber/labelflow/internal/dispatch"
	"github.com/raphaelgruber/labelflow/internal/labels"
	"github.com/raphaelgruber/labelflow/internal/merge"
	"github.com/raphaelgruber/labelflow/internal/printer"
	"github.com/raphaelgruber/labelflow/internal/store"
)

// Error codes.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "RESOURCE_NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeNoContent          = "NO_CONTENT"
	CodePrintRejected      = "PRINT_REJECTED"
	CodePrintFailed        = "PRINT_FAILED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeInternalError      = "INTERNAL_ERROR"
)

// AppError is the JSON error body.
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a single detail.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// NewAppError creates an AppError.
func NewAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *AppError {
	return NewAppError(CodeNotFound, resource+" not found", http.StatusNotFound).WithDetail("id", id)
}

// ErrBadRequest creates a bad request error.
func ErrBadRequest(message string) *AppError {
	return NewAppError(CodeBadRequest, message, http.StatusBadRequest)
}

// MapError converts pipeline errors into AppErrors.
func MapError(err error) *AppError {
	var (
		appErr    *AppError
		verr      *labels.ValidationError
		aerr      *allocator.AllocationError
		derr      *dispatch.DispatchError
		rejected  *printer.RejectedError
		nocontent *merge.NoContentError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &verr):
		e := NewAppError(CodeValidationError, verr.Error(), http.StatusBadRequest).WithDetail(verr.Field, verr.Reason)
		e.Err = err
		return e
	case errors.As(err, &aerr):
		if errors.Is(err, allocator.ErrInvalidCount) {
			e := NewAppError(CodeValidationError, aerr.Error(), http.StatusBadRequest)
			e.Err = err
			return e
		}
		e := NewAppError(CodeServiceUnavailable, "identifier allocation failed", http.StatusServiceUnavailable).WithDetail("scope", aerr.Scope)
		e.Err = err
		return e
	case errors.As(err, &derr) && derr.Timeout:
		e := NewAppError(CodeTimeout, "print dispatch timed out", http.StatusGatewayTimeout)
		e.Err = err
		return e
	case errors.As(err, &rejected):
		e := NewAppError(CodePrintRejected, rejected.Message, http.StatusBadGateway).WithDetail("reason", rejected.Code)
		e.Err = err
		return e
	case errors.As(err, &derr):
		e := NewAppError(CodePrintFailed, derr.Error(), http.StatusBadGateway)
		e.Err = err
		return e
	case errors.As(err, &nocontent):
		e := NewAppError(CodeNoContent, nocontent.Error(), http.StatusUnprocessableEntity)
		e.Err = err
		return e
	case errors.Is(err, store.ErrNotFound):
		e := NewAppError(CodeNotFound, err.Error(), http.StatusNotFound)
		e.Err = err
		return e
	case errors.Is(err, store.ErrConflict):
		e := NewAppError(CodeConflict, err.Error(), http.StatusConflict)
		e.Err = err
		return e
	default:
		e := NewAppError(CodeInternalError, "an internal error occurred", http.StatusInternalServerError)
		e.Err = err
		return e
	}
}
