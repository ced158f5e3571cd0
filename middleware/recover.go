package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/conduit/task"
)

// Recover converts a handler panic into an error so the task goes through
// the normal retry path instead of killing the worker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *task.Record, next Handler) (retErr error) {
		defer func() {
			if p := recover(); p != nil {
				logger.ErrorContext(ctx, "task handler panicked",
					slog.String("task_name", r.Name),
					slog.String("task_id", r.ID.String()),
					slog.Any("panic", p),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in task %s: %v", r.Name, p)
			}
		}()
		return next(ctx)
	}
}
