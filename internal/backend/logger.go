package backend

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger so backends log with consistent fields.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. If handler is
// nil, uses the default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{Logger: slog.New(handler)}
}

// WithBackend tags every record with the backend type.
func (l *Logger) WithBackend(t ForwardType) *Logger {
	return &Logger{Logger: l.With(slog.String("backend", t.String()))}
}
