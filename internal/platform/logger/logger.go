package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const correlationKey contextKey = "correlation_id"

// Init installs a JSON slog handler as the process default.
// Call this once at startup, after loading config.
func Init(levelStr string) {
	InitWithWriter(levelStr, os.Stdout)
}

// InitWithWriter is Init with an explicit sink, used by tests.
func InitWithWriter(levelStr string, w io.Writer) {
	level := ParseLevel(levelStr)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
}

// ParseLevel maps a LOG_LEVEL string to a slog level, defaulting to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCorrelationID stores an id (request, agreement, job) used to tie log
// lines together.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID returns the id stored by WithCorrelationID, if any.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

// Logger provides structured logging for services
type Logger struct {
	correlationID string
	base          *slog.Logger
}

// New creates a logger with the correlation id carried by ctx
func New(ctx context.Context) *Logger {
	id := CorrelationID(ctx)
	if id == "" {
		id = "unknown"
	}
	return &Logger{correlationID: id, base: slog.Default()}
}

// With returns a copy carrying extra attributes on every line.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{correlationID: l.correlationID, base: l.base.With(args...)}
}

// LogError logs an error with context
func (l *Logger) LogError(operation string, err error) {
	l.base.Error("operation failed", "correlation_id", l.correlationID, "operation", operation, "error", err)
}

// LogErrorf logs a formatted error with context
func (l *Logger) LogErrorf(operation string, format string, args ...any) {
	l.base.Error(fmt.Sprintf(format, args...), "correlation_id", l.correlationID, "operation", operation)
}

// LogInfo logs an info message with context
func (l *Logger) LogInfo(operation string, message string) {
	l.base.Info(message, "correlation_id", l.correlationID, "operation", operation)
}

// LogInfof logs a formatted info message with context
func (l *Logger) LogInfof(operation string, format string, args ...any) {
	l.base.Info(fmt.Sprintf(format, args...), "correlation_id", l.correlationID, "operation", operation)
}

// LogWarnf logs a formatted warning with context
func (l *Logger) LogWarnf(operation string, format string, args ...any) {
	l.base.Warn(fmt.Sprintf(format, args...), "correlation_id", l.correlationID, "operation", operation)
}
