package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licensed/internal/errors"
	"licensed/internal/license"
	"licensed/internal/middleware"
)

// LicenseService is the license engine as seen by the HTTP layer.
type LicenseService interface {
	AcquireLicense(ctx context.Context, clientID, baseURL, applicationID string) license.AcquireResult
	ValidateLicense(ctx context.Context, clientID, domain string) *license.ValidationResult
	GetCurrentLicense(ctx context.Context, clientID string) (*license.Record, error)
	GetLicenseStatus(ctx context.Context, clientID string) license.LicenseStatus
	GetUserLimits(ctx context.Context, clientID string) (*license.UserLimits, error)
	CheckUserLimit(ctx context.Context, clientID string, currentCount int) license.UserLimitCheck
	CacheStats() license.CacheStats
}

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	service      LicenseService
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	acquireLimit func(http.Handler) http.Handler
	logger       *slog.Logger
}

// NewLicenseHandler creates a new license handler. acquireLimit, when not
// nil, wraps the acquisition route only.
func NewLicenseHandler(service LicenseService, acquireLimit func(http.Handler) http.Handler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:      service,
		validator:    middleware.NewValidator(),
		errorHandler: apierrors.NewErrorHandler(logger, false),
		acquireLimit: acquireLimit,
		logger:       logger.With(slog.String("handler", "license")),
	}
}

// AcquireLicenseRequest is the POST /acquire payload.
type AcquireLicenseRequest struct {
	ClientID      string `json:"client_id" validate:"required,max=191"`
	BaseURL       string `json:"base_url" validate:"required"`
	ApplicationID string `json:"app_id,omitempty" validate:"omitempty,max=191"`
}

// Bind implements render.Binder.
func (a *AcquireLicenseRequest) Bind(r *http.Request) error {
	a.ClientID = strings.TrimSpace(a.ClientID)
	a.BaseURL = strings.TrimSpace(a.BaseURL)
	a.ApplicationID = strings.TrimSpace(a.ApplicationID)
	return nil
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	if h.acquireLimit != nil {
		r.With(h.acquireLimit).Post("/acquire", h.Acquire)
	} else {
		r.Post("/acquire", h.Acquire)
	}
	r.Get("/validate", h.Validate)
	r.Get("/cache/stats", h.CacheStats)

	r.Route("/{clientID}", func(r chi.Router) {
		r.Get("/", h.GetLicense)
		r.Get("/status", h.GetStatus)
		r.Get("/limits", h.GetLimits)
		r.Get("/check-limit", h.CheckLimit)
	})

	return r
}

// Acquire handles POST /api/license/acquire
func (h *LicenseHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	var req AcquireLicenseRequest
	if err := render.Bind(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	result := h.service.AcquireLicense(r.Context(), req.ClientID, req.BaseURL, req.ApplicationID)
	if !result.Success {
		h.logger.WarnContext(r.Context(), "license acquisition failed",
			slog.String("client_id", req.ClientID),
			slog.String("message", result.Message))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, result)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

// Validate handles GET /api/license/validate?client_id=&domain=
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		h.errorHandler.HandleError(w, r, license.ErrClientIDMissing)
		return
	}
	domain := strings.TrimSpace(r.URL.Query().Get("domain"))
	if domain == "" {
		domain = middleware.RequestDomain(r)
	}

	render.JSON(w, r, h.service.ValidateLicense(r.Context(), clientID, domain))
}

// GetLicense handles GET /api/license/{clientID}
func (h *LicenseHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	rec, err := h.service.GetCurrentLicense(r.Context(), clientID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if rec == nil {
		h.errorHandler.HandleError(w, r, license.ErrLicenseNotFound)
		return
	}
	render.JSON(w, r, rec)
}

// GetStatus handles GET /api/license/{clientID}/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.GetLicenseStatus(r.Context(), chi.URLParam(r, "clientID")))
}

// GetLimits handles GET /api/license/{clientID}/limits
func (h *LicenseHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.service.GetUserLimits(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"limits": limits,
	})
}

// CheckLimit handles GET /api/license/{clientID}/check-limit?count=N
func (h *LicenseHandler) CheckLimit(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count < 0 {
		h.errorHandler.HandleError(w, r, apierrors.NewValidationErrors([]apierrors.ValidationError{
			{Field: "count", Message: "count must be a non-negative integer"},
		}))
		return
	}

	render.JSON(w, r, h.service.CheckUserLimit(r.Context(), chi.URLParam(r, "clientID"), count))
}

// CacheStats handles GET /api/license/cache/stats
func (h *LicenseHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.CacheStats())
}
