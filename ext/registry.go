package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

type entry[H any] struct {
	name string
	hook H
}

type hooks[H any] []entry[H]

func (hs *hooks[H]) add(e Extension) {
	if h, ok := e.(H); ok {
		*hs = append(*hs, entry[H]{name: e.Name(), hook: h})
	}
}

// Registry dispatches events to registered extensions. Implementations are
// type-cached at registration so an emit only visits interested hooks.
// Register all extensions before the engine starts; Registry is not safe
// for concurrent Register.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	taskEnqueued    hooks[TaskEnqueued]
	taskStarted     hooks[TaskStarted]
	taskRetrying    hooks[TaskRetrying]
	taskCompleted   hooks[TaskCompleted]
	taskFailed      hooks[TaskFailed]
	taskCancelled   hooks[TaskCancelled]
	messageHandled  hooks[MessageHandled]
	messageRejected hooks[MessageRejected]
	shutdown        hooks[Shutdown]
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds e. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	r.taskEnqueued.add(e)
	r.taskStarted.add(e)
	r.taskRetrying.add(e)
	r.taskCompleted.add(e)
	r.taskFailed.add(e)
	r.taskCancelled.add(e)
	r.messageHandled.add(e)
	r.messageRejected.add(e)
	r.shutdown.add(e)
}

// Extensions returns the registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

func (r *Registry) EmitTaskEnqueued(ctx context.Context, rec *task.Record) {
	for _, e := range r.taskEnqueued {
		r.check(ctx, "OnTaskEnqueued", e.name, e.hook.OnTaskEnqueued(ctx, rec))
	}
}

func (r *Registry) EmitTaskStarted(ctx context.Context, rec *task.Record) {
	for _, e := range r.taskStarted {
		r.check(ctx, "OnTaskStarted", e.name, e.hook.OnTaskStarted(ctx, rec))
	}
}

func (r *Registry) EmitTaskRetrying(ctx context.Context, rec *task.Record, nextRunAt time.Time) {
	for _, e := range r.taskRetrying {
		r.check(ctx, "OnTaskRetrying", e.name, e.hook.OnTaskRetrying(ctx, rec, nextRunAt))
	}
}

func (r *Registry) EmitTaskCompleted(ctx context.Context, rec *task.Record, elapsed time.Duration) {
	for _, e := range r.taskCompleted {
		r.check(ctx, "OnTaskCompleted", e.name, e.hook.OnTaskCompleted(ctx, rec, elapsed))
	}
}

func (r *Registry) EmitTaskFailed(ctx context.Context, rec *task.Record, taskErr error) {
	for _, e := range r.taskFailed {
		r.check(ctx, "OnTaskFailed", e.name, e.hook.OnTaskFailed(ctx, rec, taskErr))
	}
}

func (r *Registry) EmitTaskCancelled(ctx context.Context, rec *task.Record) {
	for _, e := range r.taskCancelled {
		r.check(ctx, "OnTaskCancelled", e.name, e.hook.OnTaskCancelled(ctx, rec))
	}
}

func (r *Registry) EmitMessageHandled(ctx context.Context, topic string, id correlation.ID, outcome status.Status, elapsed time.Duration) {
	for _, e := range r.messageHandled {
		r.check(ctx, "OnMessageHandled", e.name, e.hook.OnMessageHandled(ctx, topic, id, outcome, elapsed))
	}
}

func (r *Registry) EmitMessageRejected(ctx context.Context, topic string, cause error) {
	for _, e := range r.messageRejected {
		r.check(ctx, "OnMessageRejected", e.name, e.hook.OnMessageRejected(ctx, topic, cause))
	}
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check(ctx, "OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

func (r *Registry) check(ctx context.Context, hook, name string, err error) {
	if err == nil {
		return
	}
	r.logger.WarnContext(ctx, "extension hook failed",
		slog.String("hook", hook),
		slog.String("extension", name),
		slog.String("error", err.Error()),
	)
}
