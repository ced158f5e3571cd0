// Package observability counts task and message lifecycle events with
// OpenTelemetry. Register the extension with the engine; with no
// MeterProvider configured the instruments are no-ops.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/ext"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

const meterName = "github.com/xraph/conduit/observability"

var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.TaskEnqueued    = (*MetricsExtension)(nil)
	_ ext.TaskCompleted   = (*MetricsExtension)(nil)
	_ ext.TaskFailed      = (*MetricsExtension)(nil)
	_ ext.TaskRetrying    = (*MetricsExtension)(nil)
	_ ext.TaskCancelled   = (*MetricsExtension)(nil)
	_ ext.MessageHandled  = (*MetricsExtension)(nil)
	_ ext.MessageRejected = (*MetricsExtension)(nil)
)

// MetricsExtension increments one counter per lifecycle event. Task
// counters carry task_name and queue attributes, message counters carry
// topic (and outcome for handled messages).
type MetricsExtension struct {
	TaskEnqueued    metric.Int64Counter
	TaskCompleted   metric.Int64Counter
	TaskFailed      metric.Int64Counter
	TaskRetried     metric.Int64Counter
	TaskCancelled   metric.Int64Counter
	MessageHandled  metric.Int64Counter
	MessageRejected metric.Int64Counter
}

// NewMetricsExtension uses the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter uses meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The API returns a usable no-op instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		TaskEnqueued:    counter("conduit.task.enqueued", "Tasks enqueued"),
		TaskCompleted:   counter("conduit.task.completed", "Tasks completed"),
		TaskFailed:      counter("conduit.task.failed", "Tasks failed terminally"),
		TaskRetried:     counter("conduit.task.retried", "Failed attempts scheduled for retry"),
		TaskCancelled:   counter("conduit.task.cancelled", "Tasks cancelled"),
		MessageHandled:  counter("conduit.message.handled", "Inbound messages handled"),
		MessageRejected: counter("conduit.message.rejected", "Inbound messages rejected before handling"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func taskAttrs(r *task.Record) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("task_name", r.Name),
		attribute.String("queue", r.Queue),
	)
}

func (m *MetricsExtension) OnTaskEnqueued(ctx context.Context, r *task.Record) error {
	m.TaskEnqueued.Add(ctx, 1, taskAttrs(r))
	return nil
}

func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, r *task.Record, _ time.Duration) error {
	m.TaskCompleted.Add(ctx, 1, taskAttrs(r))
	return nil
}

func (m *MetricsExtension) OnTaskFailed(ctx context.Context, r *task.Record, _ error) error {
	m.TaskFailed.Add(ctx, 1, taskAttrs(r))
	return nil
}

func (m *MetricsExtension) OnTaskRetrying(ctx context.Context, r *task.Record, _ time.Time) error {
	m.TaskRetried.Add(ctx, 1, taskAttrs(r))
	return nil
}

func (m *MetricsExtension) OnTaskCancelled(ctx context.Context, r *task.Record) error {
	m.TaskCancelled.Add(ctx, 1, taskAttrs(r))
	return nil
}

func (m *MetricsExtension) OnMessageHandled(ctx context.Context, topic string, _ correlation.ID, outcome status.Status, _ time.Duration) error {
	m.MessageHandled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("outcome", outcome.String()),
	))
	return nil
}

func (m *MetricsExtension) OnMessageRejected(ctx context.Context, topic string, _ error) error {
	m.MessageRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
	return nil
}
