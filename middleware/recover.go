package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/job"
)

// Recover converts handler panics into execution errors so a panicking
// job fails (and retries) like any other failure instead of killing the
// worker goroutine.
func Recover(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, j *job.Job) (result *job.Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("job handler panicked",
						slog.String("job_id", j.ID.String()),
						slog.String("job_type", j.Type),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
					result = nil
					err = conveyor.NewExecutionError(fmt.Errorf("panic: %v", r))
				}
			}()
			return next(ctx, j)
		}
	}
}
