package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"licensed/internal/config"
)

// loggerState is the process logger and the log file behind it, if any.
var loggerState struct {
	mu     sync.Mutex
	logger *slog.Logger
	file   io.Closer
}

// contextKey is a type for context keys
type contextKey string

const (
	// TraceIDContextKey is the key for storing trace ID in context
	TraceIDContextKey contextKey = "trace_id"
)

// InitializeLogger creates the process logger and installs it as the slog
// default. Later calls return the same logger until CloseLogger runs.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	loggerState.mu.Lock()
	defer loggerState.mu.Unlock()

	if loggerState.logger != nil {
		return loggerState.logger, nil
	}

	logger, file, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	loggerState.logger = logger
	loggerState.file = file
	slog.SetDefault(logger)
	return logger, nil
}

// GetLogger returns the process logger, or slog.Default before
// InitializeLogger.
func GetLogger() *slog.Logger {
	loggerState.mu.Lock()
	defer loggerState.mu.Unlock()

	if loggerState.logger == nil {
		return slog.Default()
	}
	return loggerState.logger
}

// CloseLogger closes the log file, if one is open, and forgets the process
// logger so the next InitializeLogger builds a new one.
func CloseLogger() error {
	loggerState.mu.Lock()
	defer loggerState.mu.Unlock()

	var err error
	if loggerState.file != nil {
		err = loggerState.file.Close()
	}
	loggerState.logger = nil
	loggerState.file = nil
	return err
}

// NewLogger builds a JSON logger for cfg without touching process state.
// The closer is non-nil when cfg writes to a file.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	output, file, err := logOutput(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     parseLogLevel(cfg.Level),
	}
	return NewLoggerWithWriter(output, opts), file, nil
}

// logOutput resolves the configured destination: stdout, the log file, or
// both.
func logOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	mode := strings.ToLower(cfg.Output)
	if mode != "file" && mode != "both" {
		return os.Stdout, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.FilePath, err)
	}

	if mode == "both" {
		return io.MultiWriter(os.Stdout, file), file, nil
	}
	return file, file, nil
}

// NewLoggerWithWriter wraps a JSON handler on w with trace_id injection.
func NewLoggerWithWriter(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return slog.New(&traceHandler{Handler: slog.NewJSONHandler(w, opts)})
}

// traceHandler wraps a slog.Handler to automatically inject trace_id from context
type traceHandler struct {
	slog.Handler
}

// Handle adds trace_id to the record if present in context
func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if traceID := GetTraceID(ctx); traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs returns a new Handler with additional attributes
func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup returns a new Handler with the given group name
func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDContextKey).(string); ok {
		return traceID
	}
	return ""
}
