package infrastructure

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"licensed/internal/config"
	"licensed/internal/shared/testutil"
)

func TestOTelConfigFrom(t *testing.T) {
	cfg := OTelConfigFrom(config.TelemetryConfig{
		ServiceName:    "licensed",
		ServiceVersion: "1.0.0",
		TraceExporter:  "stdout",
		MetricExporter: "none",
		SampleRatio:    0.25,
	})
	assert.Equal(t, "licensed", cfg.ServiceName)
	assert.Equal(t, "stdout", cfg.TraceExporter)
	assert.Equal(t, 0.25, cfg.SampleRatio)
}

func TestInitializeOTel(t *testing.T) {
	logger, _ := testutil.NewLogger()

	t.Run("no exporters", func(t *testing.T) {
		providers, err := InitializeOTel(&OTelConfig{ServiceName: "licensed", TraceExporter: "none", MetricExporter: "none"}, logger)
		require.NoError(t, err)
		assert.Nil(t, providers.TracerProvider)
		assert.Nil(t, providers.MeterProvider)
		assert.Nil(t, providers.PrometheusHTTP)
		assert.NotNil(t, providers.Meter)
		assert.NoError(t, providers.Shutdown(context.Background()))
	})

	t.Run("prometheus endpoint serves recorded metrics", func(t *testing.T) {
		providers, err := InitializeOTel(&OTelConfig{ServiceName: "licensed", MetricExporter: "prometheus"}, logger)
		require.NoError(t, err)
		defer providers.Shutdown(context.Background())

		httpMetrics, err := CreateHTTPMetrics(providers.Meter)
		require.NoError(t, err)
		httpMetrics.RequestsTotal.Add(context.Background(), 1)

		w := httptest.NewRecorder()
		providers.PrometheusHTTP.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "http_requests_total")
	})

	t.Run("initialising twice does not collide", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			providers, err := InitializeOTel(&OTelConfig{ServiceName: "licensed", MetricExporter: "prometheus"}, logger)
			require.NoError(t, err)
			require.NoError(t, providers.Shutdown(context.Background()))
		}
	})

	t.Run("stdout tracing", func(t *testing.T) {
		providers, err := InitializeOTel(&OTelConfig{ServiceName: "licensed", TraceExporter: "stdout", SampleRatio: 1}, logger)
		require.NoError(t, err)
		assert.NotNil(t, providers.TracerProvider)
		require.NoError(t, providers.Shutdown(context.Background()))
	})

	t.Run("unsupported exporters", func(t *testing.T) {
		_, err := InitializeOTel(&OTelConfig{TraceExporter: "jaeger"}, logger)
		assert.Error(t, err)
		_, err = InitializeOTel(&OTelConfig{MetricExporter: "statsd"}, logger)
		assert.Error(t, err)
	})
}

func TestCreateHTTPMetrics(t *testing.T) {
	logger, _ := testutil.NewLogger()
	providers, err := InitializeOTel(&OTelConfig{MetricExporter: "none"}, logger)
	require.NoError(t, err)

	m, err := CreateHTTPMetrics(providers.Meter)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RequestsTotal.Add(context.Background(), 1)
		m.RequestDuration.Record(context.Background(), 0.5)
		m.ActiveRequests.Add(context.Background(), 1, metric.WithAttributes())
	})
}

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "validate")
	assert.NotEmpty(t, TraceIDFromContext(ctx))

	AddSpanEvent(ctx, "candidate_rejected", map[string]interface{}{
		"domain":   "shop.example.com",
		"attempt":  2,
		"rejected": true,
		"ratio":    0.5,
		"other":    []string{"x"},
	})
	RecordError(ctx, errors.New("authority unreachable"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 2)
	assert.Equal(t, "candidate_rejected", spans[0].Events()[0].Name)
	assert.Equal(t, "authority unreachable", spans[0].Status().Description)

	assert.Empty(t, TraceIDFromContext(context.Background()))
	assert.NotPanics(t, func() {
		AddSpanEvent(context.Background(), "noop", nil)
		RecordError(context.Background(), errors.New("ignored"))
	})
}
