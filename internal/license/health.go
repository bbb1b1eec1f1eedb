package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HealthStatus is the overall or per-component health.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the health of one dependency.
type ComponentHealth struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  string                 `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheckResult is returned by LicenseHealthCheck.
type HealthCheckResult struct {
	OverallStatus HealthStatus                `json:"status"`
	Message       string                      `json:"message"`
	Timestamp     time.Time                   `json:"timestamp"`
	Duration      string                      `json:"duration"`
	TraceID       string                      `json:"trace_id,omitempty"`
	Components    map[string]*ComponentHealth `json:"components"`
}

// LicenseHealthCheck reports on the store, the authority configuration and
// the validation cache.
type LicenseHealthCheck struct {
	manager *Manager
	timeout time.Duration
}

// NewLicenseHealthCheck creates a health check bounded by timeout per
// component.
func NewLicenseHealthCheck(manager *Manager, timeout time.Duration) *LicenseHealthCheck {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LicenseHealthCheck{manager: manager, timeout: timeout}
}

// PerformHealthCheck runs every component check.
func (hc *LicenseHealthCheck) PerformHealthCheck(ctx context.Context) *HealthCheckResult {
	ctx, span := otel.Tracer("license-health").Start(ctx, "license.health_check",
		trace.WithAttributes(attribute.String("component", "license_health")),
	)
	defer span.End()

	start := time.Now()
	result := &HealthCheckResult{
		Timestamp: start,
		TraceID:   traceIDFromSpan(ctx),
		Components: map[string]*ComponentHealth{
			"credential_store":  hc.checkStore(ctx),
			"license_authority": hc.checkAuthority(),
			"validation_cache":  hc.checkCache(),
		},
	}

	result.OverallStatus = overallStatus(result.Components)
	result.Duration = time.Since(start).String()
	switch result.OverallStatus {
	case HealthStatusHealthy:
		result.Message = fmt.Sprintf("All %d license components are healthy", len(result.Components))
	case HealthStatusDegraded:
		result.Message = "License engine operational with degraded components"
	default:
		result.Message = "License engine unhealthy"
	}

	span.SetAttributes(attribute.String("health.overall_status", string(result.OverallStatus)))
	return result
}

func (hc *LicenseHealthCheck) checkStore(ctx context.Context) *ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	health := &ComponentHealth{Timestamp: start}
	if err := hc.manager.Ping(ctx); err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = "Credential store unreachable"
		health.Error = err.Error()
	} else {
		health.Status = HealthStatusHealthy
		health.Message = "Credential store reachable"
	}
	health.Duration = time.Since(start).String()
	return health
}

func (hc *LicenseHealthCheck) checkAuthority() *ComponentHealth {
	health := &ComponentHealth{Timestamp: time.Now()}
	if hc.manager.AuthorityConfigured() {
		health.Status = HealthStatusHealthy
		health.Message = "License authority configured"
		health.Metadata = map[string]interface{}{"url": hc.manager.authority.BaseURL()}
	} else {
		health.Status = HealthStatusDegraded
		health.Message = "No license authority configured, running local-only validation"
	}
	return health
}

func (hc *LicenseHealthCheck) checkCache() *ComponentHealth {
	stats := hc.manager.CacheStats()
	return &ComponentHealth{
		Status:    HealthStatusHealthy,
		Message:   "Validation cache operational",
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"entries":   stats.Entries,
			"hit_ratio": stats.HitRatio,
		},
	}
}

func overallStatus(components map[string]*ComponentHealth) HealthStatus {
	status := HealthStatusHealthy
	for _, health := range components {
		switch health.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

func traceIDFromSpan(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
