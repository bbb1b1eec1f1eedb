package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/go-chi/render"

	"licensed/internal/infrastructure"
	"licensed/internal/license"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	problem := h.ErrorToProblem(err, r)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.LogAttrs(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if traceID := infrastructure.GetTraceID(r.Context()); traceID != "" {
		problem.WithExtension("trace_id", traceID)
	}
	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// ErrorToProblem maps an error to Problem Details. License engine errors get
// their own problem types.
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			r.URL.Path,
		)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErrorToProblem(apiErr, r)
	}

	var (
		cfgErr       *license.ConfigurationError
		malformedErr *license.MalformedResponseError
		remoteErr    *license.RemoteError
		domainErr    *license.DomainRejectedError
		storageErr   *license.StorageError
	)
	switch {
	case errors.Is(err, license.ErrLicenseNotFound):
		return NewProblemDetails(http.StatusNotFound, TypeLicenseNotFound,
			"License Not Found", license.MessageNoLicense, r.URL.Path)
	case errors.Is(err, license.ErrLicenseExpired):
		return NewProblemDetails(http.StatusForbidden, TypeLicenseExpired,
			"License Expired", license.MessageExpired, r.URL.Path)
	case errors.Is(err, license.ErrClientIDMissing):
		return NewProblemDetails(http.StatusBadRequest, TypeValidation,
			"Validation Failed", err.Error(), r.URL.Path)
	case errors.As(err, &cfgErr):
		return NewProblemDetails(http.StatusServiceUnavailable, TypeLicenseConfiguration,
			"License Engine Not Configured", err.Error(), r.URL.Path)
	case errors.As(err, &domainErr):
		return NewProblemDetails(http.StatusForbidden, TypeLicenseInvalid,
			"License Rejected", license.MessageRejected, r.URL.Path)
	case errors.As(err, &remoteErr):
		return NewProblemDetails(http.StatusBadGateway, TypeLicenseAuthority,
			"License Authority Error", err.Error(), r.URL.Path).
			WithExtension("upstream_status", remoteErr.StatusCode)
	case errors.As(err, &malformedErr):
		return NewProblemDetails(http.StatusBadGateway, TypeLicenseAuthority,
			"Malformed License Authority Response", err.Error(), r.URL.Path)
	case errors.As(err, &storageErr):
		return NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Storage Error", "The license store is unavailable", r.URL.Path)
	default:
		return NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request",
			r.URL.Path)
	}
}

func apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.StatusCode {
	case http.StatusBadRequest:
		problemType = TypeValidation
	case http.StatusUnauthorized:
		problemType = TypeUnauthorized
	case http.StatusForbidden:
		problemType = TypeForbidden
	case http.StatusNotFound:
		problemType = TypeNotFound
	case http.StatusTooManyRequests:
		problemType = TypeRateLimit
	case http.StatusServiceUnavailable:
		problemType = TypeServiceDown
	}
	if apiErr.ErrorCode == "INVALID_LICENSE" {
		problemType = TypeLicenseInvalid
	}
	if apiErr.ErrorCode == "LICENSE_NOT_FOUND" {
		problemType = TypeLicenseNotFound
	}

	problem := NewProblemDetails(apiErr.StatusCode, problemType,
		http.StatusText(apiErr.StatusCode), apiErr.Message, r.URL.Path).
		WithExtension("error_code", apiErr.ErrorCode)
	if apiErr.Details != nil {
		problem.WithExtension("errors", apiErr.Details)
	}
	return problem
}

// HandlePanic responds with a 500 after a recovered panic.
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.String("panic", fmt.Sprintf("%v", recovered)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", getStackTrace()),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request",
		r.URL.Path,
	)
	if traceID := infrastructure.GetTraceID(r.Context()); traceID != "" {
		problem.WithExtension("trace_id", traceID)
	}
	render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	)
	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeMethodNotAllowed,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	)
	render.Render(w, r, problem)
}

func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
