// Package dispatcher is the caller-facing side of the task queue. Enqueue
// persists a record and returns; workers pick it up later. When the task
// broker is unavailable Enqueue fails fast with conduit.ErrBrokerUnavailable
// so the caller can carry on without the deferred work.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/broker"
	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/ext"
	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

// DefaultEnqueueTimeout bounds Enqueue when no timeout is configured.
const DefaultEnqueueTimeout = 5 * time.Second

// Canceller cancels tasks, including ones already running. worker.Pool
// implements it.
type Canceller interface {
	CancelTask(ctx context.Context, taskID id.TaskID) (*task.Record, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithExtensions sets the registry that receives enqueue and cancel events.
func WithExtensions(r *ext.Registry) Option {
	return func(d *Dispatcher) { d.extensions = r }
}

// WithAvailability sets the broker availability decided at startup.
func WithAvailability(a broker.Availability) Option {
	return func(d *Dispatcher) { d.availability = a }
}

// WithEnqueueTimeout bounds how long Enqueue waits for the store.
func WithEnqueueTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.enqueueTimeout = t
		}
	}
}

// WithCanceller routes Cancel through c so running tasks are interrupted.
func WithCanceller(c Canceller) Option {
	return func(d *Dispatcher) { d.canceller = c }
}

// Dispatcher enqueues, cancels and inspects tasks.
type Dispatcher struct {
	store          task.Store
	registry       *task.Registry
	extensions     *ext.Registry
	availability   broker.Availability
	canceller      Canceller
	enqueueTimeout time.Duration
	logger         *slog.Logger

	unavailableOnce sync.Once
}

// New creates a Dispatcher over store. A nil store makes the dispatcher
// permanently unavailable. Without WithAvailability the broker is assumed
// available.
func New(store task.Store, registry *task.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:          store,
		registry:       registry,
		availability:   broker.Available(),
		enqueueTimeout: DefaultEnqueueTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = task.NewRegistry()
	}
	if d.extensions == nil {
		d.extensions = ext.NewRegistry(d.logger)
	}
	if store == nil && d.availability.OK() {
		d.availability = broker.Unconfigured("task store")
	}
	return d
}

// Availability returns the availability the dispatcher was built with.
func (d *Dispatcher) Availability() broker.Availability { return d.availability }

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *task.Registry { return d.registry }

// Register installs a handler for name.
func (d *Dispatcher) Register(name string, handler task.HandlerFunc, opts ...task.Option) {
	d.registry.Register(name, handler, opts...)
}

// Enqueue persists a RECEIVED task and returns its id without waiting for
// a worker. A None cid is taken from ctx, or generated when ctx carries
// none. Options override those registered for name.
func (d *Dispatcher) Enqueue(ctx context.Context, name string, args task.Args, cid correlation.ID, opts ...task.Option) (id.TaskID, error) {
	if err := d.checkAvailable(ctx); err != nil {
		return id.Nil, err
	}
	if cid.IsNone() {
		cid = correlation.FromContext(ctx)
	}
	rec := d.registry.NewRecord(name, args, cid, opts...)

	sctx, cancel := context.WithTimeout(ctx, d.enqueueTimeout)
	defer cancel()
	if err := d.store.Enqueue(sctx, rec); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: enqueue timed out after %s", conduit.ErrBrokerUnavailable, d.enqueueTimeout)
		}
		d.logger.ErrorContext(ctx, "task enqueue failed",
			slog.String("task_name", name),
			slog.String("error", err.Error()),
		)
		return id.Nil, fmt.Errorf("dispatcher: enqueue %q: %w", name, err)
	}

	d.extensions.EmitTaskEnqueued(ctx, rec)
	d.logger.DebugContext(ctx, "task enqueued",
		slog.String("task_id", rec.ID.String()),
		slog.String("task_name", rec.Name),
		slog.String("queue", rec.Queue),
	)
	return rec.ID, nil
}

// EnqueueTyped converts args to task.Args and enqueues them.
//
// This is a function and not a method because methods cannot have type
// parameters.
func EnqueueTyped[T any](ctx context.Context, d *Dispatcher, name string, args T, cid correlation.ID, opts ...task.Option) (id.TaskID, error) {
	a, err := task.ArgsFrom(args)
	if err != nil {
		return id.Nil, fmt.Errorf("dispatcher: enqueue %q: %w", name, err)
	}
	return d.Enqueue(ctx, name, a, cid, opts...)
}

// Cancel cancels a queued task outright and asks a running or retrying one
// to stop. Cancelling a finished task fails with
// conduit.ErrInvalidTransition.
func (d *Dispatcher) Cancel(ctx context.Context, taskID id.TaskID) (*task.Record, error) {
	if err := d.checkAvailable(ctx); err != nil {
		return nil, err
	}
	var (
		rec *task.Record
		err error
	)
	if d.canceller != nil {
		rec, err = d.canceller.CancelTask(ctx, taskID)
	} else {
		rec, err = d.store.Cancel(ctx, taskID)
	}
	if err != nil {
		return nil, err
	}
	if rec.State == status.Cancelled {
		d.extensions.EmitTaskCancelled(ctx, rec)
	}
	d.logger.InfoContext(ctx, "task cancel requested",
		slog.String("task_id", taskID.String()),
		slog.String("state", rec.State.String()),
	)
	return rec, nil
}

// Get returns the task record.
func (d *Dispatcher) Get(ctx context.Context, taskID id.TaskID) (*task.Record, error) {
	if err := d.checkAvailable(ctx); err != nil {
		return nil, err
	}
	return d.store.Get(ctx, taskID)
}

// List returns task records matching opts.
func (d *Dispatcher) List(ctx context.Context, opts task.ListOpts) ([]*task.Record, error) {
	if err := d.checkAvailable(ctx); err != nil {
		return nil, err
	}
	return d.store.List(ctx, opts)
}

// checkAvailable logs the first rejection only.
func (d *Dispatcher) checkAvailable(ctx context.Context) error {
	err := d.availability.Err()
	if err == nil {
		return nil
	}
	d.unavailableOnce.Do(func() {
		d.logger.ErrorContext(ctx, "task broker unavailable, deferred work is skipped",
			slog.String("reason", d.availability.Reason()),
		)
	})
	return err
}
