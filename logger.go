package recstore

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with storage-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithPath adds the backing file path (empty for memory tables).
func (l *Logger) WithPath(path string) *Logger {
	if path == "" {
		path = "(memory)"
	}
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithComponent tags records with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// LogLockCollision logs repeated failures to take an advisory lock.
func (l *Logger) LogLockCollision(ctx context.Context, collisions int, timeout int) {
	l.WarnContext(ctx, "lock collisions",
		"collisions", collisions,
		"timeout", timeout,
	)
}

// LogLockTimeout logs an advisory lock acquisition that gave up.
func (l *Logger) LogLockTimeout(ctx context.Context, collisions int, timeout int) {
	l.ErrorContext(ctx, "lock timed out",
		"collisions", collisions,
		"timeout", timeout,
	)
}

// LogResize logs an index rebuild.
func (l *Logger) LogResize(ctx context.Context, oldSize, newSize uint32, entries uint32) {
	l.DebugContext(ctx, "index resized",
		"old_size", oldSize,
		"new_size", newSize,
		"entries", entries,
	)
}

// LogTruncate logs a table truncation.
func (l *Logger) LogTruncate(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "truncate failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "truncated")
	}
}

// LogRepair logs a persistent cache that had to be recreated.
func (l *Logger) LogRepair(ctx context.Context, cause error, err error) {
	if err != nil {
		l.ErrorContext(ctx, "cache repair failed",
			"cause", cause,
			"error", err,
		)
	} else {
		l.WarnContext(ctx, "cache recreated",
			"cause", cause,
		)
	}
}

// LogEvict logs an eviction pass.
func (l *Logger) LogEvict(ctx context.Context, requested, evicted int) {
	l.DebugContext(ctx, "evicted",
		"requested", requested,
		"evicted", evicted,
	)
}
