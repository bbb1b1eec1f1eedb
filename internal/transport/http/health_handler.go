package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licensed/internal/license"
)

// HealthChecker produces the license engine health report.
type HealthChecker interface {
	PerformHealthCheck(ctx context.Context) *license.HealthCheckResult
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	checker   HealthChecker
	version   string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker HealthChecker, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		version:   version,
		startedAt: time.Now(),
		logger:    logger.With(slog.String("handler", "health")),
	}
}

// Routes returns a chi router for health endpoints
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HealthCheck)
	r.Get("/live", h.LivenessCheck)
	r.Get("/version", h.Version)
	return r
}

// HealthCheck handles GET /api/health. Degraded still returns 200.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	result := h.checker.PerformHealthCheck(r.Context())

	status := http.StatusOK
	if result.OverallStatus == license.HealthStatusUnhealthy {
		h.logger.WarnContext(r.Context(), "health check unhealthy",
			slog.String("message", result.Message))
		status = http.StatusServiceUnavailable
	}

	render.Status(r, status)
	render.JSON(w, r, result)
}

// LivenessCheck handles GET /api/health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Version handles GET /api/health/version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"version": h.version,
	})
}
