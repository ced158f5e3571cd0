// Package worker executes claimed task records. An Executor runs one
// attempt through middleware and the registered handler and decides the
// record's next state; a Pool runs a fixed number of dequeue loops that
// feed the Executor.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/backoff"
	"github.com/xraph/conduit/dlq"
	"github.com/xraph/conduit/ext"
	"github.com/xraph/conduit/logscope"
	"github.com/xraph/conduit/middleware"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

// Executor runs a single claimed attempt and persists its outcome.
type Executor struct {
	registry   *task.Registry
	extensions *ext.Registry
	store      task.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor. A nil dlqService disables dead-letter
// reporting; a nil strategy retries immediately.
func NewExecutor(
	registry *task.Registry,
	extensions *ext.Registry,
	store task.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bo == nil {
		bo = backoff.None
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs rec, which must already be claimed (PROCESSING, attempt
// counted). Everything it logs is tagged with rec's correlation id.
//
// On success the record is COMPLETED. A failed attempt with budget left is
// RETRYING and requeued after the backoff delay; without budget it is
// FAILED, pushed to the DLQ and the returned error wraps
// conduit.ErrRetryExhausted. An unknown task name fails at once. A pending
// cancel request turns the record CANCELLED instead of running it, and
// turns a later handler failure into CANCELLED as well.
//
// The returned error describes the attempt; the outcome has already been
// persisted, so callers only need to log it.
func (e *Executor) Execute(ctx context.Context, rec *task.Record) error {
	return logscope.Run(ctx, rec.CorrelationID, func(ctx context.Context) error {
		return e.execute(ctx, rec)
	})
}

func (e *Executor) execute(ctx context.Context, rec *task.Record) error {
	// Outcomes are persisted even when the attempt context was cancelled.
	pctx := context.WithoutCancel(ctx)

	entry, ok := e.registry.Get(rec.Name)
	if !ok {
		err := fmt.Errorf("%w: %q", conduit.ErrUnknownTask, rec.Name)
		return e.fail(pctx, rec, err)
	}

	if rec.CancelRequested {
		return e.cancel(pctx, rec)
	}

	e.extensions.EmitTaskStarted(ctx, rec)
	start := time.Now()
	err := e.mw(ctx, rec, func(ctx context.Context) error {
		return entry.Handler(ctx, rec.Args)
	})
	elapsed := time.Since(start)

	if err == nil {
		return e.complete(pctx, rec, elapsed)
	}
	err = fmt.Errorf("%w: %w", conduit.ErrHandler, err)
	if e.cancelRequested(pctx, rec) {
		return e.cancel(pctx, rec)
	}
	if rec.CanRetry() {
		return e.retry(pctx, rec, err)
	}
	return e.fail(pctx, rec, fmt.Errorf("%w after %d attempts: %w", conduit.ErrRetryExhausted, rec.Attempt, err))
}

// cancelRequested reports whether a cancel request reached the record while
// the handler ran.
func (e *Executor) cancelRequested(ctx context.Context, rec *task.Record) bool {
	if rec.CancelRequested {
		return true
	}
	latest, err := e.store.Get(ctx, rec.ID)
	if err != nil {
		return false
	}
	rec.CancelRequested = latest.CancelRequested
	return rec.CancelRequested
}

func (e *Executor) complete(ctx context.Context, rec *task.Record, elapsed time.Duration) error {
	rec.LastError = ""
	if err := e.transition(ctx, rec, status.Completed); err != nil {
		return err
	}
	if err := e.store.Update(ctx, rec); err != nil {
		return e.persistFailed(ctx, rec, err)
	}
	e.extensions.EmitTaskCompleted(ctx, rec, elapsed)
	e.logger.InfoContext(ctx, "task completed",
		slog.String("task_id", rec.ID.String()),
		slog.String("task_name", rec.Name),
		slog.Int("attempt", rec.Attempt),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

func (e *Executor) retry(ctx context.Context, rec *task.Record, cause error) error {
	delay := e.backoff.Delay(rec.Attempt)
	rec.LastError = cause.Error()
	if err := e.transition(ctx, rec, status.Retrying); err != nil {
		return err
	}
	rec.RunAt = time.Now().UTC().Add(delay)
	if err := e.store.Requeue(ctx, rec); err != nil {
		return e.persistFailed(ctx, rec, err)
	}
	e.extensions.EmitTaskRetrying(ctx, rec, rec.RunAt)
	e.logger.WarnContext(ctx, "task scheduled for retry",
		slog.String("task_id", rec.ID.String()),
		slog.String("task_name", rec.Name),
		slog.Int("attempt", rec.Attempt),
		slog.Int("max_attempts", rec.MaxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()),
	)
	return cause
}

func (e *Executor) fail(ctx context.Context, rec *task.Record, cause error) error {
	rec.LastError = cause.Error()
	if err := e.transition(ctx, rec, status.Failed); err != nil {
		return err
	}
	if err := e.store.Update(ctx, rec); err != nil {
		return e.persistFailed(ctx, rec, err)
	}
	if e.dlqService != nil {
		if err := e.dlqService.Push(ctx, rec, cause); err != nil {
			e.logger.ErrorContext(ctx, "failed to push task to dlq",
				slog.String("task_id", rec.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	e.extensions.EmitTaskFailed(ctx, rec, cause)
	e.logger.ErrorContext(ctx, "task failed",
		slog.String("task_id", rec.ID.String()),
		slog.String("task_name", rec.Name),
		slog.Int("attempt", rec.Attempt),
		slog.Int("max_attempts", rec.MaxAttempts),
		slog.String("error", cause.Error()),
	)
	return cause
}

func (e *Executor) cancel(ctx context.Context, rec *task.Record) error {
	if err := e.transition(ctx, rec, status.Cancelled); err != nil {
		return err
	}
	if err := e.store.Update(ctx, rec); err != nil {
		return e.persistFailed(ctx, rec, err)
	}
	e.extensions.EmitTaskCancelled(ctx, rec)
	e.logger.InfoContext(ctx, "task cancelled",
		slog.String("task_id", rec.ID.String()),
		slog.String("task_name", rec.Name),
		slog.Int("attempt", rec.Attempt),
	)
	return conduit.ErrCancelled
}

func (e *Executor) transition(ctx context.Context, rec *task.Record, next status.Status) error {
	if err := rec.Transition(next); err != nil {
		e.logger.ErrorContext(ctx, "task in unexpected state",
			slog.String("task_id", rec.ID.String()),
			slog.String("state", rec.State.String()),
			slog.String("next", next.String()),
		)
		return err
	}
	return nil
}

func (e *Executor) persistFailed(ctx context.Context, rec *task.Record, err error) error {
	e.logger.ErrorContext(ctx, "failed to persist task outcome",
		slog.String("task_id", rec.ID.String()),
		slog.String("state", rec.State.String()),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("worker: persist task %s: %w", rec.ID, err)
}
