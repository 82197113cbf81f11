package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/ordersync/conveyor/job"
)

// Logging logs each job execution with its outcome and duration.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, j *job.Job) (*job.Result, error) {
			start := time.Now()
			logger.Debug("job execution started",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("queue", j.Queue),
				slog.Int("attempt", j.Attempt),
			)

			result, err := next(ctx, j)
			elapsed := time.Since(start)

			if err != nil {
				logger.Warn("job execution failed",
					slog.String("job_id", j.ID.String()),
					slog.String("job_type", j.Type),
					slog.String("queue", j.Queue),
					slog.Int("attempt", j.Attempt),
					slog.Duration("elapsed", elapsed),
					slog.String("error", err.Error()),
				)
				return result, err
			}

			logger.Info("job executed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("queue", j.Queue),
				slog.Int("attempt", j.Attempt),
				slog.Duration("elapsed", elapsed),
			)
			return result, nil
		}
	}
}
