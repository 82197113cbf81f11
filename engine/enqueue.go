package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
	"github.com/ordersync/conveyor/queue"
)

// Enqueue submits a typed payload as a new job. Per-type defaults from
// the registered definition apply first, then the call-site options.
//
// Package-level because Go does not allow generic methods.
func Enqueue[T any](ctx context.Context, e *Engine, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job type %q: %w", jobType, err)
	}
	return e.EnqueueRaw(ctx, jobType, data, opts...)
}

// EnqueueRaw submits a pre-serialized payload as a new job, applying
// queue admission control before the job is persisted.
func (e *Engine) EnqueueRaw(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	options := e.typeOptions(jobType)
	for _, opt := range opts {
		opt(&options)
	}
	if options.Queue == "" {
		options.Queue = e.cfg.DefaultQueue
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = e.maxAttempts()
	}

	now := time.Now()
	runAt := options.RunAt
	if runAt.IsZero() {
		runAt = now
	}

	j := &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Type:        jobType,
		Queue:       options.Queue,
		Payload:     payload,
		Status:      job.StatusPending,
		Priority:    options.Priority,
		MaxAttempts: options.MaxAttempts,
		RunAt:       runAt,
		Tags:        options.Tags,
		Metadata:    options.Metadata,
		Timeout:     options.Timeout,
	}

	if err := e.admit(ctx, j); err != nil {
		return nil, err
	}
	if err := e.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	e.conveyor.Logger().Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("queue", j.Queue),
		slog.Time("run_at", j.RunAt),
	)
	e.hooks.EmitJobEnqueued(ctx, j)
	return j, nil
}

// admit enforces the queue's depth limit. Block waits for space bounded
// by ctx; drop-newest rejects with ErrQueueFull; drop-oldest evicts and
// admits.
func (e *Engine) admit(ctx context.Context, j *job.Job) error {
	for {
		depth, err := e.store.QueueDepth(ctx, j.Queue)
		if err != nil {
			return fmt.Errorf("queue depth for %q: %w", j.Queue, err)
		}

		switch e.gates.Admit(j.Queue, depth) {
		case queue.Admit:
			return nil

		case queue.Reject:
			return fmt.Errorf("%w: %s", conveyor.ErrQueueFull, j.Queue)

		case queue.EvictOldest:
			evicted, err := e.store.EvictOldestPending(ctx, j.Queue)
			if err != nil {
				return fmt.Errorf("evict oldest from %q: %w", j.Queue, err)
			}
			if evicted != nil {
				e.conveyor.Logger().Warn("job evicted by queue overflow",
					slog.String("job_id", evicted.ID.String()),
					slog.String("queue", j.Queue),
				)
				e.hooks.EmitJobCancelled(ctx, evicted)
			}
			return nil

		case queue.Wait:
			t := time.NewTimer(e.pollInterval())
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}

// maxAttempts returns the configured default attempt budget for jobs
// that do not set their own.
func (e *Engine) maxAttempts() int {
	if e.cfg.Retry.MaxAttempts > 0 {
		return e.cfg.Retry.MaxAttempts
	}
	return 3
}

func (e *Engine) pollInterval() time.Duration {
	if e.cfg.PollInterval > 0 {
		return e.cfg.PollInterval
	}
	return 100 * time.Millisecond
}

// BatchItem is one job submission within a batch.
type BatchItem struct {
	Type    string
	Payload any
	Opts    []job.Option
}

// BatchError pairs a failed batch item with its error.
type BatchError struct {
	Index int
	Err   error
}

// BatchSummary reports the outcome of a batch enqueue.
type BatchSummary struct {
	Enqueued []*job.Job
	Failed   []BatchError
}

// EnqueueBatch submits items independently: one item's rejection does
// not abort the rest.
func (e *Engine) EnqueueBatch(ctx context.Context, items []BatchItem) (*BatchSummary, error) {
	summary := &BatchSummary{}
	for i, item := range items {
		data, err := json.Marshal(item.Payload)
		if err != nil {
			summary.Failed = append(summary.Failed, BatchError{Index: i, Err: err})
			continue
		}
		j, err := e.EnqueueRaw(ctx, item.Type, data, item.Opts...)
		if err != nil {
			summary.Failed = append(summary.Failed, BatchError{Index: i, Err: err})
			continue
		}
		summary.Enqueued = append(summary.Enqueued, j)
	}
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

// GetJob retrieves a job by its string ID.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	jid, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, jobID)
	}
	return e.store.GetJob(ctx, jid)
}

// RetryHistory returns the job's retry attempts.
func (e *Engine) RetryHistory(ctx context.Context, jobID string) (job.History, error) {
	jid, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, jobID)
	}
	return e.store.RetryHistory(ctx, jid)
}

// Cancel cancels a job. Waiting jobs are cancelled in the store; a job
// currently executing on this pool gets its context cancelled and is
// marked cancelled by its worker.
func (e *Engine) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	jid, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, jobID)
	}

	j, err := e.store.CancelJob(ctx, jid)
	if err == nil {
		e.conveyor.Logger().Info("job cancelled",
			slog.String("job_id", jid.String()),
		)
		e.hooks.EmitJobCancelled(ctx, j)
		return j, nil
	}
	if !errors.Is(err, conveyor.ErrInvalidTransition) {
		return nil, err
	}

	// Running here: cancel cooperatively and return the current snapshot.
	// The worker persists the cancelled outcome when the handler returns.
	if e.pool.CancelRunning(jid) {
		return e.store.GetJob(ctx, jid)
	}
	return nil, conveyor.ErrInvalidTransition
}
