// Package middleware wraps task handler execution with cross-cutting
// behavior. A Middleware receives the record being executed and the next
// handler in the chain; it must call next unless it short-circuits.
//
//	chain := middleware.Chain(
//		middleware.Logging(logger),
//		middleware.Recover(logger),
//		middleware.Timeout(logger),
//	)
package middleware

import (
	"context"

	"github.com/xraph/conduit/task"
)

// Handler is the terminal function that runs the task.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler.
type Middleware func(ctx context.Context, r *task.Record, next Handler) error

// Chain composes mws into one Middleware. The first middleware is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, r *task.Record, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, r, prev)
			}
		}
		return h(ctx)
	}
}
