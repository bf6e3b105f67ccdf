// Package logging bridges context-scoped logr loggers and the process slog handler.
package logging

import (
	"context"
	"log/slog"

	"github.com/go-logr/logr"
)

// FromContext returns the logger stored in ctx, or one backed by the default slog handler
func FromContext(ctx context.Context) logr.Logger {
	if logger, err := logr.FromContext(ctx); err == nil {
		return logger
	}
	return logr.FromSlogHandler(slog.Default().Handler())
}

// NewContext returns a copy of ctx carrying logger
func NewContext(ctx context.Context, logger logr.Logger) context.Context {
	return logr.NewContext(ctx, logger)
}

// WithValues returns ctx with a logger that carries the additional key/value pairs
func WithValues(ctx context.Context, keysAndValues ...any) context.Context {
	return logr.NewContext(ctx, FromContext(ctx).WithValues(keysAndValues...))
}
