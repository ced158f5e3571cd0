// Package audithook turns task and message lifecycle events into audit
// events and hands them to a Recorder. Every event carries the correlation
// id of the unit of work it describes.
//
//	eng, _ := engine.New(ctx, cfg,
//	    engine.WithExtension(audithook.New(audithook.LogRecorder(logger),
//	        audithook.WithActions(audithook.ActionTaskFailed, audithook.ActionMessageRejected),
//	    )),
//	)
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/ext"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

var (
	_ ext.Extension       = (*Extension)(nil)
	_ ext.TaskEnqueued    = (*Extension)(nil)
	_ ext.TaskStarted     = (*Extension)(nil)
	_ ext.TaskRetrying    = (*Extension)(nil)
	_ ext.TaskCompleted   = (*Extension)(nil)
	_ ext.TaskFailed      = (*Extension)(nil)
	_ ext.TaskCancelled   = (*Extension)(nil)
	_ ext.MessageHandled  = (*Extension)(nil)
	_ ext.MessageRejected = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// RecorderFunc adapts a function to a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes each event as one structured log record. Recording
// through the event's context keeps the correlation id on the line.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []any{
			slog.String("action", evt.Action),
			slog.String("category", evt.Category),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		if len(evt.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", evt.Metadata))
		}
		logger.Log(ctx, level, "audit", attrs...)
		return nil
	})
}

// AuditEvent is one recorded lifecycle event.
type AuditEvent struct {
	Action        string         `json:"action"`
	Resource      string         `json:"resource"`
	Category      string         `json:"category"`
	ResourceID    string         `json:"resource_id,omitempty"`
	CorrelationID correlation.ID `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Outcome       string         `json:"outcome"`
	Severity      string         `json:"severity"`
	Reason        string         `json:"reason,omitempty"`
}

// Option configures an Extension.
type Option func(*Extension)

// WithActions restricts the extension to the listed actions. All actions
// are recorded by default.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithLogger sets the logger used to report recorder failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// Extension records lifecycle events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension recording through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{recorder: r, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnTaskEnqueued implements ext.TaskEnqueued.
func (e *Extension) OnTaskEnqueued(ctx context.Context, r *task.Record) error {
	return e.recordTask(ctx, ActionTaskEnqueued, SeverityInfo, OutcomeSuccess, r, nil,
		"max_attempts", r.MaxAttempts,
		"run_at", r.RunAt.Format(time.RFC3339),
	)
}

// OnTaskStarted implements ext.TaskStarted.
func (e *Extension) OnTaskStarted(ctx context.Context, r *task.Record) error {
	return e.recordTask(ctx, ActionTaskStarted, SeverityInfo, OutcomeSuccess, r, nil,
		"attempt", r.Attempt,
	)
}

// OnTaskRetrying implements ext.TaskRetrying.
func (e *Extension) OnTaskRetrying(ctx context.Context, r *task.Record, nextRunAt time.Time) error {
	return e.recordTask(ctx, ActionTaskRetrying, SeverityWarning, OutcomeFailure, r, nil,
		"attempt", r.Attempt,
		"max_attempts", r.MaxAttempts,
		"next_run_at", nextRunAt.Format(time.RFC3339),
		"last_error", r.LastError,
	)
}

// OnTaskCompleted implements ext.TaskCompleted.
func (e *Extension) OnTaskCompleted(ctx context.Context, r *task.Record, elapsed time.Duration) error {
	return e.recordTask(ctx, ActionTaskCompleted, SeverityInfo, OutcomeSuccess, r, nil,
		"attempt", r.Attempt,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnTaskFailed implements ext.TaskFailed.
func (e *Extension) OnTaskFailed(ctx context.Context, r *task.Record, taskErr error) error {
	return e.recordTask(ctx, ActionTaskFailed, SeverityCritical, OutcomeFailure, r, taskErr,
		"attempt", r.Attempt,
		"max_attempts", r.MaxAttempts,
	)
}

// OnTaskCancelled implements ext.TaskCancelled.
func (e *Extension) OnTaskCancelled(ctx context.Context, r *task.Record) error {
	return e.recordTask(ctx, ActionTaskCancelled, SeverityInfo, OutcomeSuccess, r, nil,
		"attempt", r.Attempt,
	)
}

// OnMessageHandled implements ext.MessageHandled. A FAILED outcome is
// recorded as a warning.
func (e *Extension) OnMessageHandled(ctx context.Context, topic string, cid correlation.ID, outcome status.Status, elapsed time.Duration) error {
	severity, result := SeverityInfo, OutcomeSuccess
	if outcome == status.Failed {
		severity, result = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, &AuditEvent{
		Action:        ActionMessageHandled,
		Resource:      ResourceTopic,
		Category:      CategoryMessage,
		ResourceID:    topic,
		CorrelationID: cid,
		Outcome:       result,
		Severity:      severity,
	}, nil,
		"status", outcome.String(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnMessageRejected implements ext.MessageRejected.
func (e *Extension) OnMessageRejected(ctx context.Context, topic string, cause error) error {
	return e.record(ctx, &AuditEvent{
		Action:        ActionMessageRejected,
		Resource:      ResourceTopic,
		Category:      CategoryMessage,
		ResourceID:    topic,
		CorrelationID: correlation.FromContext(ctx),
		Outcome:       OutcomeFailure,
		Severity:      SeverityWarning,
	}, cause)
}

func (e *Extension) recordTask(ctx context.Context, action, severity, outcome string, r *task.Record, err error, kvPairs ...any) error {
	kvPairs = append(kvPairs, "task_name", r.Name, "queue", r.Queue)
	return e.record(ctx, &AuditEvent{
		Action:        action,
		Resource:      ResourceTask,
		Category:      CategoryTask,
		ResourceID:    r.ID.String(),
		CorrelationID: r.CorrelationID,
		Outcome:       outcome,
		Severity:      severity,
	}, err, kvPairs...)
}

// record fills Metadata from kvPairs and err and sends evt if its action
// is enabled. Recorder failures are logged and swallowed.
func (e *Extension) record(ctx context.Context, evt *AuditEvent, err error, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}
	if err != nil {
		evt.Reason = err.Error()
		meta["error"] = err.Error()
	}
	evt.Metadata = meta

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.WarnContext(ctx, "audit_hook: failed to record audit event",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
