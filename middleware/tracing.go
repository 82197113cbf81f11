package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ordersync/conveyor/job"
)

const tracerName = "github.com/ordersync/conveyor"

// Tracing creates an OpenTelemetry span around each job execution.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return func(next Handler) Handler {
		return func(ctx context.Context, j *job.Job) (*job.Result, error) {
			ctx, span := tracer.Start(ctx, "conveyor.job.execute",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("job.id", j.ID.String()),
					attribute.String("job.type", j.Type),
					attribute.String("job.queue", j.Queue),
					attribute.Int("job.attempt", j.Attempt),
					attribute.Int("job.priority", int(j.Priority)),
				),
			)
			defer span.End()

			result, err := next(ctx, j)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return result, err
			}

			span.SetStatus(codes.Ok, "")
			return result, nil
		}
	}
}
