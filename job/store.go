package job

import (
	"context"
	"time"

	"github.com/ordersync/conveyor/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for jobs. The backend is the
// durable queue: it must guarantee that DequeueJobs hands each pending
// job to exactly one caller, and must never hand out a job whose RunAt
// is in the future.
type Store interface {
	// EnqueueJob persists a new job in pending status.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit due pending jobs from
	// the given queues for workerID: each claimed job is marked running
	// with its attempt counter incremented, then returned. Jobs are
	// ordered by priority (descending) then RunAt (ascending). The claim
	// is exclusive: no two callers ever receive the same job.
	DequeueJobs(ctx context.Context, workerID id.WorkerID, queues []string, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// CancelJob marks a waiting job (pending, failed, or timed_out)
	// cancelled and returns the updated record. Running and terminal
	// jobs are not touched; cancelling in-flight work is cooperative and
	// handled by the pool.
	CancelJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobsByStatus returns jobs matching the given status.
	ListJobsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// QueueDepth returns the number of waiting jobs (pending plus
	// retry-scheduled) in the queue. Consulted at enqueue time for
	// admission control.
	QueueDepth(ctx context.Context, queue string) (int64, error)

	// EvictOldestPending cancels the oldest pending job in the queue to
	// make room for a new one (drop-oldest overflow). Returns the
	// evicted job, or nil when the queue has no pending jobs.
	EvictOldestPending(ctx context.Context, queue string) (*Job, error)

	// PromoteDueJobs returns failed and timed-out jobs whose RunAt has
	// elapsed to pending status, making them eligible for dequeue again.
	// It reports how many jobs were promoted.
	PromoteDueJobs(ctx context.Context, now time.Time) (int, error)

	// AppendRetryAttempt appends one attempt record to the job's
	// retry history.
	AppendRetryAttempt(ctx context.Context, attempt *RetryAttempt) error

	// RetryHistory returns the job's retry attempts ordered by attempt
	// number.
	RetryHistory(ctx context.Context, jobID id.JobID) (History, error)
}
