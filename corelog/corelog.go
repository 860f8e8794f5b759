// Package corelog provides a thin wrapper over log/slog used by every
// subsystem that needs to log rather than propagate an error — the
// breaker trips, analytics drops/flush failures, and remote retries
// spec.md §7 calls out as "logged, not returned".
package corelog

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger so call sites depend on this package instead
// of log/slog directly, keeping the field-naming convention (With) in one
// place the way blueberrycongee-llmux/internal/observability/logger.go
// does for the gateway.
type Logger struct {
	logger *slog.Logger
}

// Config controls handler construction.
type Config struct {
	Level      slog.Level
	Output     io.Writer
	AddSource  bool
	JSONFormat bool
}

// New creates a Logger from cfg. A zero Config produces a text handler at
// Info level writing to stdout.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.JSONFormat {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	return &Logger{logger: slog.New(handler)}
}

// Nop returns a Logger that discards everything, for tests and demos that
// don't want log noise.
func Nop() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a derived Logger carrying additional structured fields,
// e.g. Logger.With("endpoint", name) before logging a breaker trip.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// Slog returns the underlying slog.Logger for call sites that need it
// directly (e.g. to pass into a library that accepts *slog.Logger).
func (l *Logger) Slog() *slog.Logger { return l.logger }
