// Package ext lets extensions observe task and message lifecycle events.
// Each hook is its own interface, so an extension implements only the
// events it cares about. Hook errors are logged, never propagated into
// task or message processing.
package ext

import (
	"context"
	"time"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

// Extension is implemented by every extension.
type Extension interface {
	Name() string
}

// TaskEnqueued fires after a task is persisted.
type TaskEnqueued interface {
	OnTaskEnqueued(ctx context.Context, r *task.Record) error
}

// TaskStarted fires when a worker begins an attempt.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, r *task.Record) error
}

// TaskRetrying fires when a failed attempt is scheduled again.
type TaskRetrying interface {
	OnTaskRetrying(ctx context.Context, r *task.Record, nextRunAt time.Time) error
}

// TaskCompleted fires when a task reaches COMPLETED.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, r *task.Record, elapsed time.Duration) error
}

// TaskFailed fires when a task reaches FAILED.
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, r *task.Record, err error) error
}

// TaskCancelled fires when a task reaches CANCELLED.
type TaskCancelled interface {
	OnTaskCancelled(ctx context.Context, r *task.Record) error
}

// MessageHandled fires after an inbound message has been processed.
type MessageHandled interface {
	OnMessageHandled(ctx context.Context, topic string, id correlation.ID, outcome status.Status, elapsed time.Duration) error
}

// MessageRejected fires when an inbound message cannot be decoded.
type MessageRejected interface {
	OnMessageRejected(ctx context.Context, topic string, err error) error
}

// Shutdown fires once during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
