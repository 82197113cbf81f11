// Package ext defines the lifecycle hook system for conveyor. Hooks are
// notified of job lifecycle events (enqueued, completed, retrying, dead
// lettered, etc.) and can react to them — logging, metrics, paging, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. Hook errors are logged and never
// propagated into the processing pipeline.
package ext

import (
	"context"
	"time"

	"github.com/ordersync/conveyor/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, result *job.Result, elapsed time.Duration) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobCancelled is called when a job is cancelled or evicted.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobDLQ is called when a job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Operational hooks
// ──────────────────────────────────────────────────

// DLQAlert is called when the dead letter count crosses the configured
// threshold. Fired once per upward crossing, not per entry.
type DLQAlert interface {
	OnDLQAlert(ctx context.Context, count int64) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
