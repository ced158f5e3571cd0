package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conduit/task"
)

const meterName = "github.com/xraph/conduit"

// Metrics records attempt duration and count with the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter records two instruments, both labelled with task_name,
// queue and status ("ok" or "error"):
//
//   - conduit.task.duration, a histogram of attempt time in seconds
//   - conduit.task.executions, a counter of attempts
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API still hands back no-op instruments.
	duration, _ := meter.Float64Histogram(
		"conduit.task.duration",
		metric.WithDescription("Duration of task attempts in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"conduit.task.executions",
		metric.WithDescription("Total number of task attempts"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, r *task.Record, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("task_name", r.Name),
			attribute.String("queue", r.Queue),
			attribute.String("status", outcome),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
