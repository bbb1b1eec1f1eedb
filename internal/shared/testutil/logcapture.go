package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// LogRecord is one captured log call with its attributes flattened,
// including those added through Logger.With.
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

type logSink struct {
	mu      sync.Mutex
	records []LogRecord
}

// LogCapture is a slog.Handler that keeps every record in memory.
type LogCapture struct {
	sink  *logSink
	attrs []slog.Attr
}

// NewLogger returns a logger writing into a fresh LogCapture.
func NewLogger() (*slog.Logger, *LogCapture) {
	capture := &LogCapture{sink: &logSink{}}
	return slog.New(capture), capture
}

func (h *LogCapture) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *LogCapture) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.records = append(h.sink.records, LogRecord{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

func (h *LogCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &LogCapture{sink: h.sink, attrs: merged}
}

// WithGroup is accepted but groups are not tracked.
func (h *LogCapture) WithGroup(string) slog.Handler {
	return h
}

// Records returns a copy of everything captured so far.
func (h *LogCapture) Records() []LogRecord {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	out := make([]LogRecord, len(h.sink.records))
	copy(out, h.sink.records)
	return out
}

// Find returns the records whose message contains substr.
func (h *LogCapture) Find(substr string) []LogRecord {
	var out []LogRecord
	for _, r := range h.Records() {
		if strings.Contains(r.Message, substr) {
			out = append(out, r)
		}
	}
	return out
}

// ContainsAttr reports whether any record carries key=value.
func (h *LogCapture) ContainsAttr(key string, value any) bool {
	for _, r := range h.Records() {
		if v, ok := r.Attrs[key]; ok && v == value {
			return true
		}
	}
	return false
}

// AnyAttrContains reports whether any attribute value of any record contains
// substr when printed as a string.
func (h *LogCapture) AnyAttrContains(substr string) bool {
	for _, r := range h.Records() {
		if strings.Contains(r.Message, substr) {
			return true
		}
		for _, v := range r.Attrs {
			if s, ok := v.(string); ok && strings.Contains(s, substr) {
				return true
			}
		}
	}
	return false
}

// AssertNoErrors fails t if an error-level record was captured.
func AssertNoErrors(t *testing.T, h *LogCapture) {
	t.Helper()
	for _, r := range h.Records() {
		if r.Level >= slog.LevelError {
			t.Errorf("unexpected error log: %s %v", r.Message, r.Attrs)
		}
	}
}
