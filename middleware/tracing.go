package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conduit/task"
)

const tracerName = "github.com/xraph/conduit"

// Tracing wraps each attempt in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer wraps each attempt in a span named
// "conduit.task.execute". A handler error marks the span as failed.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, r *task.Record, next Handler) error {
		ctx, span := tracer.Start(ctx, "conduit.task.execute",
			trace.WithAttributes(
				attribute.String("conduit.task.id", r.ID.String()),
				attribute.String("conduit.task.name", r.Name),
				attribute.String("conduit.task.queue", r.Queue),
				attribute.Int("conduit.task.attempt", r.Attempt),
				attribute.String("conduit.correlation_id", r.CorrelationID.String()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
