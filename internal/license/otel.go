package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"licensed/internal/infrastructure"
)

const (
	TracerName = "license-manager"
	MeterName  = "license-manager"
)

// LicenseMetrics holds the license engine's OpenTelemetry instruments.
type LicenseMetrics struct {
	AcquisitionAttempts metric.Int64Counter
	AcquisitionSuccess  metric.Int64Counter
	AcquisitionFailures metric.Int64Counter
	AcquisitionDuration metric.Float64Histogram

	ValidationAttempts    metric.Int64Counter
	ValidationSuccess     metric.Int64Counter
	ValidationFailures    metric.Int64Counter
	ValidationDuration    metric.Float64Histogram
	ValidationCacheHits   metric.Int64Counter
	ValidationCacheMisses metric.Int64Counter
	ValidationDeduped     metric.Int64Counter

	RemoteRequests  metric.Int64Counter
	DomainFallbacks metric.Int64Counter
}

// InitializeLicenseMetrics creates all license instruments on meter.
func InitializeLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	metrics := &LicenseMetrics{}

	var err error

	metrics.AcquisitionAttempts, err = meter.Int64Counter(
		"license_acquisition_attempts_total",
		metric.WithDescription("Total number of license acquisition attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition attempts counter: %w", err)
	}

	metrics.AcquisitionSuccess, err = meter.Int64Counter(
		"license_acquisition_success_total",
		metric.WithDescription("Total number of successful license acquisitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition success counter: %w", err)
	}

	metrics.AcquisitionFailures, err = meter.Int64Counter(
		"license_acquisition_failures_total",
		metric.WithDescription("Total number of failed license acquisitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition failures counter: %w", err)
	}

	metrics.AcquisitionDuration, err = meter.Float64Histogram(
		"license_acquisition_duration_seconds",
		metric.WithDescription("License acquisition duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition duration histogram: %w", err)
	}

	metrics.ValidationAttempts, err = meter.Int64Counter(
		"license_validation_attempts_total",
		metric.WithDescription("Total number of license validation checks"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}

	metrics.ValidationSuccess, err = meter.Int64Counter(
		"license_validation_success_total",
		metric.WithDescription("Total number of checks that found a valid license"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation success counter: %w", err)
	}

	metrics.ValidationFailures, err = meter.Int64Counter(
		"license_validation_failures_total",
		metric.WithDescription("Total number of checks that denied the license"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation failures counter: %w", err)
	}

	metrics.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation check duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	metrics.ValidationCacheHits, err = meter.Int64Counter(
		"license_validation_cache_hits_total",
		metric.WithDescription("Total number of license validation cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation cache hits counter: %w", err)
	}

	metrics.ValidationCacheMisses, err = meter.Int64Counter(
		"license_validation_cache_misses_total",
		metric.WithDescription("Total number of license validation cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation cache misses counter: %w", err)
	}

	metrics.ValidationDeduped, err = meter.Int64Counter(
		"license_validation_deduplicated_total",
		metric.WithDescription("Total number of validations that shared an in-flight check"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation dedup counter: %w", err)
	}

	metrics.RemoteRequests, err = meter.Int64Counter(
		"license_authority_requests_total",
		metric.WithDescription("Total number of requests to the license authority by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authority requests counter: %w", err)
	}

	metrics.DomainFallbacks, err = meter.Int64Counter(
		"license_domain_fallbacks_total",
		metric.WithDescription("Total number of candidate domains rejected with 403"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create domain fallbacks counter: %w", err)
	}

	return metrics, nil
}

// TraceAcquisition wraps acquisition with a span and metrics.
func (m *Manager) TraceAcquisition(ctx context.Context, clientID, applicationID string, fn func(ctx context.Context) error) error {
	tracer := otel.Tracer(TracerName)

	ctx, span := tracer.Start(ctx, "license.acquisition",
		trace.WithAttributes(
			attribute.String("license.operation", "acquisition"),
			attribute.String("license.client_id", clientID),
			attribute.String("license.application_id", applicationID),
			attribute.String("component", "license_manager"),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	m.recordAcquisitionMetrics(ctx, duration, err == nil)

	span.SetAttributes(
		attribute.Float64("license.duration_ms", float64(duration.Milliseconds())),
		attribute.Bool("license.success", err == nil),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("license.error_type", classifyLicenseError(err)))
	} else {
		span.SetStatus(codes.Ok, "License acquired")
		infrastructure.AddSpanEvent(ctx, "license.acquisition.success", map[string]interface{}{
			"client_id":      clientID,
			"audit_category": "license_security",
		})
	}

	return err
}

// TraceValidation wraps one underlying validation check with a span and
// metrics. Cache and dedup hits never reach it.
func (m *Manager) TraceValidation(ctx context.Context, clientID, domain string, fn func(ctx context.Context) *ValidationResult) *ValidationResult {
	tracer := otel.Tracer(TracerName)

	ctx, span := tracer.Start(ctx, "license.validation",
		trace.WithAttributes(
			attribute.String("license.operation", "validation"),
			attribute.String("license.client_id", clientID),
			attribute.String("license.domain", domain),
			attribute.String("component", "license_manager"),
		),
	)
	defer span.End()

	start := time.Now()
	result := fn(ctx)
	duration := time.Since(start)

	m.recordValidationMetrics(ctx, duration, result.Valid)

	span.SetAttributes(
		attribute.Float64("license.duration_ms", float64(duration.Milliseconds())),
		attribute.Bool("license.valid", result.Valid),
	)
	if result.Valid {
		span.SetStatus(codes.Ok, "License validation successful")
	} else {
		span.SetStatus(codes.Error, result.Message)
	}

	return result
}

func (m *Manager) recordAcquisitionMetrics(ctx context.Context, duration time.Duration, success bool) {
	if m.metrics == nil {
		return
	}

	labels := metric.WithAttributes(
		attribute.String("operation", "acquisition"),
		attribute.String("component", "license_manager"),
	)

	m.metrics.AcquisitionAttempts.Add(ctx, 1, labels)
	m.metrics.AcquisitionDuration.Record(ctx, duration.Seconds(), labels)

	if success {
		m.metrics.AcquisitionSuccess.Add(ctx, 1, labels)
	} else {
		m.metrics.AcquisitionFailures.Add(ctx, 1, labels)
	}
}

func (m *Manager) recordValidationMetrics(ctx context.Context, duration time.Duration, valid bool) {
	if m.metrics == nil {
		return
	}

	labels := metric.WithAttributes(
		attribute.String("operation", "validation"),
		attribute.String("component", "license_manager"),
	)

	m.metrics.ValidationAttempts.Add(ctx, 1, labels)
	m.metrics.ValidationDuration.Record(ctx, duration.Seconds(), labels)

	if valid {
		m.metrics.ValidationSuccess.Add(ctx, 1, labels)
	} else {
		m.metrics.ValidationFailures.Add(ctx, 1, labels)
	}
}

func (m *Manager) recordCacheLookup(ctx context.Context, hit bool) {
	if m.metrics == nil {
		return
	}
	if hit {
		m.metrics.ValidationCacheHits.Add(ctx, 1)
	} else {
		m.metrics.ValidationCacheMisses.Add(ctx, 1)
	}
}

func (m *Manager) recordDeduped(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	m.metrics.ValidationDeduped.Add(ctx, 1)
}

func (m *Manager) recordRemoteRequest(ctx context.Context, endpoint string, err error) {
	if m.metrics == nil {
		return
	}
	m.metrics.RemoteRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", classifyLicenseError(err)),
	))
	var rejected *DomainRejectedError
	if errors.As(err, &rejected) {
		m.metrics.DomainFallbacks.Add(ctx, 1)
	}
}
