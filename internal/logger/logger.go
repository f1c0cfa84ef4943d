// Package logger wraps slog with the contextual-field helpers the rest of
// the Coordinator chains onto every log line: run_id, token_id, node_id.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with Coordinator-specific contextual fields.
type Logger struct {
	*slog.Logger
}

// New builds a Logger. format "json" selects the production JSON handler;
// anything else falls back to tint's colored console handler.
func New(level, format string) *Logger {
	var handler slog.Handler

	logLevel := parseLevel(level)

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
			AddSource:  false,
		})
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext attaches trace_id from ctx, if present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID := ctx.Value(traceIDKey{}); traceID != nil {
		return &Logger{Logger: l.With("trace_id", traceID)}
	}
	return l
}

// WithFields returns a logger carrying the given fields on every call.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.With(args...)}
}

// WithRunID adds run_id to the logger context.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{Logger: l.With("run_id", runID)}
}

// WithTokenID adds token_id to the logger context.
func (l *Logger) WithTokenID(tokenID string) *Logger {
	return &Logger{Logger: l.With("token_id", tokenID)}
}

// WithNodeID adds node_id to the logger context.
func (l *Logger) WithNodeID(nodeID string) *Logger {
	return &Logger{Logger: l.With("node_id", nodeID)}
}

// Error logs an error with a stack trace attached, matching the verbosity
// the apply boundary needs when a Programming error surfaces.
func (l *Logger) Error(msg string, args ...any) {
	args = append(args, "stack", string(debug.Stack()))
	l.Logger.Error(msg, args...)
}

// ErrorContext is the context-aware counterpart of Error.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	args = append(args, "stack", string(debug.Stack()))
	l.Logger.ErrorContext(ctx, msg, args...)
}

type traceIDKey struct{}

// ContextWithTraceID stashes a trace id for WithContext to pick up later.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
