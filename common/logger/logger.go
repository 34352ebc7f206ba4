// Package logger configures structured logging for the compiler and the
// composition runtime: tinted console output during development, JSON in
// production, and helpers that pin log lines to the composition instance
// and node they concern.
package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Options select the handler a logger writes through.
type Options struct {
	// Level is a slog level name ("debug", "info", "warn", "error").
	// Unrecognized values fall back to info.
	Level string

	// Format is "json" for machine-readable output; anything else gets
	// the tinted console handler.
	Format string

	// Output defaults to stdout.
	Output io.Writer
}

// Logger wraps slog.Logger with composition-aware helpers.
type Logger struct {
	*slog.Logger
}

// New creates a logger.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:     level,
			AddSource: level == slog.LevelDebug,
		})
	} else {
		handler = tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly, // HH:MM:SS
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything. Used in tests and as
// the default when no logger is supplied.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError + 1,
	}))}
}

// WithModule pins the logger to one compiled module.
func (l *Logger) WithModule(moduleKey string) *Logger {
	return &Logger{Logger: l.With("module", moduleKey)}
}

// WithComposition pins the logger to one composition instance.
func (l *Logger) WithComposition(compositionID string) *Logger {
	return &Logger{Logger: l.With("composition_id", compositionID)}
}

// WithNode pins the logger to one node within a composition instance.
// Node identifiers are only unique within their composition, so the pair
// travels together.
func (l *Logger) WithNode(compositionID, nodeID string) *Logger {
	return &Logger{Logger: l.With("composition_id", compositionID, "node_id", nodeID)}
}

// Err renders an error as a standard attribute.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}
