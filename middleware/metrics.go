package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ordersync/conveyor/job"
)

const meterName = "github.com/ordersync/conveyor"

// Metrics records job execution counts and durations using OpenTelemetry
// metrics. Instrument creation failures are ignored; the otel SDK returns
// no-op instruments alongside the error.
func Metrics() Middleware {
	meter := otel.Meter(meterName)

	executions, _ := meter.Int64Counter("conveyor.job.executions",
		metric.WithDescription("Number of job executions"),
	)
	duration, _ := meter.Float64Histogram("conveyor.job.duration",
		metric.WithDescription("Job execution duration"),
		metric.WithUnit("s"),
	)

	return func(next Handler) Handler {
		return func(ctx context.Context, j *job.Job) (*job.Result, error) {
			start := time.Now()
			result, err := next(ctx, j)
			elapsed := time.Since(start)

			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			attrs := metric.WithAttributes(
				attribute.String("job.type", j.Type),
				attribute.String("job.queue", j.Queue),
				attribute.String("outcome", outcome),
			)
			executions.Add(ctx, 1, attrs)
			duration.Record(ctx, elapsed.Seconds(), attrs)

			return result, err
		}
	}
}
