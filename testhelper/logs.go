package testhelper

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// LogRecord is one captured log call with its attributes flattened.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogRecorder is a slog.Handler that keeps every record for assertions.
type LogRecorder struct {
	mu      *sync.Mutex
	records *[]LogRecord
	attrs   []slog.Attr
}

// NewLogRecorder returns a logger writing into a new recorder.
func NewLogRecorder() (*slog.Logger, *LogRecorder) {
	r := &LogRecorder{mu: &sync.Mutex{}, records: &[]LogRecord{}}
	return slog.New(r), r
}

func (r *LogRecorder) Enabled(context.Context, slog.Level) bool {
	return true
}

func (r *LogRecorder) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]any, len(r.attrs)+record.NumAttrs())
	for _, attr := range r.attrs {
		attrs[attr.Key] = attr.Value.Any()
	}

	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value.Any()
		return true
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	*r.records = append(*r.records, LogRecord{Level: record.Level, Message: record.Message, Attrs: attrs})

	return nil
}

func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogRecorder{mu: r.mu, records: r.records, attrs: append(slices.Clone(r.attrs), attrs...)}
}

// WithGroup is not needed by the code under test; groups are flattened.
func (r *LogRecorder) WithGroup(string) slog.Handler {
	return r
}

// Records returns every captured record.
func (r *LogRecorder) Records() []LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(*r.records)
}

// At returns the records captured at level.
func (r *LogRecorder) At(level slog.Level) []LogRecord {
	var out []LogRecord
	for _, record := range r.Records() {
		if record.Level == level {
			out = append(out, record)
		}
	}

	return out
}

// Messages returns the messages logged at level.
func (r *LogRecorder) Messages(level slog.Level) []string {
	var messages []string
	for _, record := range r.At(level) {
		messages = append(messages, record.Message)
	}

	return messages
}
