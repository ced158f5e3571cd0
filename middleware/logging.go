package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conduit/task"
)

// Logging logs the start and outcome of each attempt. Records go through
// the context-aware slog methods so a logscope handler can tag them.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *task.Record, next Handler) error {
		logger.InfoContext(ctx, "task started",
			slog.String("task_name", r.Name),
			slog.String("task_id", r.ID.String()),
			slog.String("queue", r.Queue),
			slog.Int("attempt", r.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.ErrorContext(ctx, "task attempt failed",
				slog.String("task_name", r.Name),
				slog.String("task_id", r.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}
		logger.InfoContext(ctx, "task attempt succeeded",
			slog.String("task_name", r.Name),
			slog.String("task_id", r.ID.String()),
			slog.Duration("elapsed", elapsed),
		)
		return nil
	}
}
