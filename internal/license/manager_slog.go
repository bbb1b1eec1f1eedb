package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licensed/internal/infrastructure"
)

// logAction logs a license action with trace correlation and a matching
// span event.
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	logger := m.logger
	if logger == nil {
		logger = infrastructure.LoggerWithContext(ctx)
	}
	traceID := infrastructure.TraceIDFromContext(ctx)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		infrastructure.AddSpanEvent(ctx, "license."+action, map[string]interface{}{
			"action":    action,
			"result":    result,
			"component": "license_manager",
		})
	}

	allAttrs := []slog.Attr{
		slog.String("component", "license_manager"),
		slog.String("action", action),
		slog.String("result", result),
	}
	if traceID != "" {
		allAttrs = append(allAttrs, slog.String("otel_trace_id", traceID))
	}
	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(ctx, level, result, allAttrs...)
}

// logLicenseAction logs an action tied to a specific license. The key is
// masked and hashed; mutual keys and subscription payloads are never logged.
func (m *Manager) logLicenseAction(ctx context.Context, level slog.Level, action, result string, rec *Record, attrs ...slog.Attr) {
	if rec == nil {
		m.logAction(ctx, level, action, result, attrs...)
		return
	}

	maskedKey := maskLicenseKey(rec.LicenseKey)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("license.action", action),
			attribute.String("license.key_prefix", maskedKey),
			attribute.String("license.subscription_type", rec.SubscriptionType),
		)
	}

	licenseAttrs := []slog.Attr{
		slog.String("client_id", rec.ClientID),
		slog.String("application_id", rec.ApplicationID),
		slog.String("license_key_masked", maskedKey),
		slog.String("license_key_hash", hashLicenseKey(rec.LicenseKey)),
		slog.String("audit_category", "license_security"),
	}
	licenseAttrs = append(licenseAttrs, attrs...)

	m.logAction(ctx, level, action, result, licenseAttrs...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs,
			slog.String("error", err.Error()),
			slog.String("error_type", classifyLicenseError(err)),
		)
	}
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}

func (m *Manager) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

// maskLicenseKey masks the license key for logs.
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey returns a short stable digest for correlating log lines.
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum)[:16]
}
