// Package logging provides the structured logger used across the worker.
package logging

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// Logger wraps a logrus entry carrying the service field.
type Logger struct {
	*logrus.Entry
}

// NewLogger creates a logger for the given service. Level is one of
// debug/info/warn/error; unknown values fall back to info.
func NewLogger(service, level string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)

	return &Logger{Entry: base.WithField("service", service)}
}

// WithField returns a logger with an extra structured field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithContext returns a logger annotated with the context's trace ID.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id := TraceIDFromContext(ctx); id != "" {
		return l.WithField("trace_id", id)
	}
	return l
}

// LogRequest logs one handled HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.WithContext(ctx).Entry.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	}).Info("request handled")
}

// NewTraceID generates a new request trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the context's trace ID, if any.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
