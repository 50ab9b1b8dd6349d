// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/storage"
	"github.com/companion-board/backend/internal/store"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewStorageFullError creates a 507 error for writes no storage tier could hold
func NewStorageFullError(cause error) *APIError {
	return &APIError{
		Status:  http.StatusInsufficientStorage,
		Code:    "QUOTA_EXCEEDED",
		Message: "state does not fit in persistent storage",
		Details: cause.Error(),
	}
}

// FromStoreError maps a store or storage error to an APIError. id names the
// resource the request addressed, when there is one.
func FromStoreError(message, id string, err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, store.ErrBoxNotFound):
		return NewNotFoundError("box", id)
	case errors.Is(err, store.ErrConnectionNotFound):
		return NewNotFoundError("connection", id)
	case errors.Is(err, models.ErrMissingBoxes):
		e := NewValidationError("boxes")
		e.Details = err.Error()
		return e
	case errors.Is(err, store.ErrInvalidSnapshot):
		return NewBadRequestError("invalid snapshot document", err)
	case errors.Is(err, storage.ErrQuotaExceeded):
		return NewStorageFullError(err)
	}
	return NewInternalError(message, err)
}

// NewErrorHandler returns the echo error handler. With details set, unexpected
// errors carry their text in the response.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(debug)
func NewErrorHandler(details bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var apiErr *APIError
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &httpErr):
			apiErr = &APIError{
				Status:  httpErr.Code,
				Code:    "HTTP_ERROR",
				Message: fmt.Sprintf("%v", httpErr.Message),
			}
		default:
			apiErr = &APIError{
				Status:  http.StatusInternalServerError,
				Code:    "UNKNOWN_ERROR",
				Message: "An unexpected error occurred",
			}
			if details {
				apiErr.Details = err.Error()
			}
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(apiErr.Status)
			return
		}
		c.JSON(apiErr.Status, apiErr)
	}
}
