package middleware

import (
	"context"
	"log/slog"

	"github.com/xraph/conduit/task"
)

// Timeout bounds the handler by the record's Timeout when it is set.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *task.Record, next Handler) error {
		if r.Timeout <= 0 {
			return next(ctx)
		}
		logger.DebugContext(ctx, "task timeout set",
			slog.String("task_id", r.ID.String()),
			slog.Duration("timeout", r.Timeout),
		)
		ctx, cancel := context.WithTimeout(ctx, r.Timeout)
		defer cancel()
		return next(ctx)
	}
}
