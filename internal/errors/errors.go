package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// ValidationError is one failed request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined error types for common scenarios
var (
	ErrInvalidRequest   = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrMissingParameter = New(http.StatusBadRequest, "MISSING_PARAMETER", "Required parameter is missing")
	ErrUnauthorized     = New(http.StatusUnauthorized, "UNAUTHORIZED", "Client identification required")
	ErrInvalidLicense   = New(http.StatusForbidden, "INVALID_LICENSE", "Invalid or expired license")
	ErrLicenseNotFound  = New(http.StatusNotFound, "LICENSE_NOT_FOUND", "No active license found")
	ErrTooManyRequests  = New(http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
	ErrInternalServer   = New(http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
)

// InvalidRequestWithError wraps a decode or bind failure.
func InvalidRequestWithError(err error) *APIError {
	return New(http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("Invalid request: %v", err))
}

// NewValidationErrors reports every failed field.
func NewValidationErrors(errs []ValidationError) *APIError {
	return NewWithDetails(http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", errs)
}
