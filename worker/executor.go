package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/dlq"
	"github.com/ordersync/conveyor/ext"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
	"github.com/ordersync/conveyor/middleware"
	"github.com/ordersync/conveyor/retry"
)

// Executor runs a single job through the middleware chain under a hard
// execution deadline and persists the outcome: completion, retry
// scheduling, cancellation, or dead lettering.
type Executor struct {
	store          job.Store
	registry       *job.Registry
	policy         retry.Policy
	deadLetters    *dlq.Service
	hooks          *ext.Registry
	logger         *slog.Logger
	defaultTimeout time.Duration
	handler        middleware.Handler
}

// NewExecutor creates an executor. The middlewares wrap handler lookup
// and invocation; the first middleware is outermost.
func NewExecutor(
	store job.Store,
	registry *job.Registry,
	policy retry.Policy,
	deadLetters *dlq.Service,
	hooks *ext.Registry,
	logger *slog.Logger,
	defaultTimeout time.Duration,
	mws ...middleware.Middleware,
) *Executor {
	e := &Executor{
		store:          store,
		registry:       registry,
		policy:         policy,
		deadLetters:    deadLetters,
		hooks:          hooks,
		logger:         logger,
		defaultTimeout: defaultTimeout,
	}
	e.handler = middleware.Chain(e.invoke, mws...)
	return e
}

// invoke is the innermost handler: registry lookup plus call.
func (e *Executor) invoke(ctx context.Context, j *job.Job) (*job.Result, error) {
	h, ok := e.registry.Get(j.Type)
	if !ok {
		return nil, conveyor.NewExecutionError(fmt.Errorf("no handler registered for job type %q", j.Type))
	}
	return h(ctx, j.Payload)
}

type execOutcome struct {
	res *job.Result
	err error
}

// Execute runs a claimed job to an outcome. The job must already be in
// running status (the dequeue claim does that). The deadline is hard:
// when it expires the handler goroutine is abandoned and the job is
// marked timed out regardless of whether the handler honors ctx.
//
// The returned error covers outcome persistence only; handler failures
// are absorbed into the retry/dead-letter flow.
func (e *Executor) Execute(ctx context.Context, j *job.Job, stats *Stats) error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	e.hooks.EmitJobStarted(ctx, j)
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan execOutcome, 1)
	go func() {
		res, err := e.handler(execCtx, j)
		done <- execOutcome{res, err}
	}()

	var res *job.Result
	var execErr error
	select {
	case out := <-done:
		res, execErr = out.res, out.err
	case <-execCtx.Done():
		// Deadline expiry or cooperative cancel. The handler goroutine
		// keeps running until it notices ctx; its eventual result is
		// discarded via the buffered channel.
		execErr = execCtx.Err()
	}
	elapsed := time.Since(start)

	// A handler can report failure through the result instead of an error.
	if execErr == nil && res != nil && !res.Success {
		execErr = conveyor.NewExecutionError(errors.New(res.Error))
	}

	// Outcomes must persist even when the worker context is already gone
	// (forced shutdown).
	persistCtx := context.WithoutCancel(ctx)

	switch {
	case execErr == nil:
		return e.complete(persistCtx, j, res, elapsed, stats)
	case conveyor.IsCancelled(execErr):
		return e.cancelled(persistCtx, j, stats)
	case conveyor.IsTimeout(execErr):
		return e.failed(persistCtx, j, job.StatusTimedOut, conveyor.NewTimeoutError(j.Type, execErr), stats)
	default:
		return e.failed(persistCtx, j, job.StatusFailed, execErr, stats)
	}
}

func (e *Executor) complete(ctx context.Context, j *job.Job, res *job.Result, elapsed time.Duration, stats *Stats) error {
	if err := j.MarkCompleted(time.Now()); err != nil {
		return err
	}
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("persist completed job %s: %w", j.ID, err)
	}
	stats.recordSuccess()
	e.hooks.EmitJobCompleted(ctx, j, res, elapsed)
	return nil
}

func (e *Executor) cancelled(ctx context.Context, j *job.Job, stats *Stats) error {
	if err := j.MarkCancelled(time.Now()); err != nil {
		return err
	}
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("persist cancelled job %s: %w", j.ID, err)
	}
	stats.recordCancel()
	e.logger.Info("job cancelled",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
	)
	e.hooks.EmitJobCancelled(ctx, j)
	return nil
}

// failed handles a failed or timed-out execution: schedule a retry when
// the policy and the job's attempt budget allow, dead letter otherwise.
func (e *Executor) failed(ctx context.Context, j *job.Job, status job.Status, execErr error, stats *Stats) error {
	now := time.Now()
	attempt := j.Attempt

	if status == job.StatusTimedOut {
		stats.recordTimeout()
	} else {
		stats.recordFailure()
	}

	delay, ok := e.policy.Delay(attempt, execErr)
	retriable := ok && attempt < j.MaxAttempts && e.policy.ShouldRetry(execErr)

	if retriable {
		runAt := now.Add(delay)
		if err := j.MarkFailed(status, execErr, runAt); err != nil {
			return err
		}
		if err := e.store.UpdateJob(ctx, j); err != nil {
			return fmt.Errorf("persist failed job %s: %w", j.ID, err)
		}
		e.appendAttempt(ctx, j, attempt, execErr, delay, now)
		e.logger.Info("job retry scheduled",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", execErr.Error()),
		)
		e.hooks.EmitJobRetrying(ctx, j, attempt, runAt)
		return nil
	}

	// Budget exhausted or the error is not retriable: dead letter.
	if err := j.MarkFailed(status, execErr, now); err != nil {
		return err
	}
	if err := j.MarkDead(now); err != nil {
		return err
	}
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("persist dead job %s: %w", j.ID, err)
	}
	e.appendAttempt(ctx, j, attempt, execErr, 0, now)
	stats.recordDeadLetter()
	e.hooks.EmitJobFailed(ctx, j, execErr)
	if _, err := e.deadLetters.Push(ctx, j, execErr); err != nil {
		e.logger.Error("dead letter push failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// appendAttempt records one failed execution in the retry history.
// History write failures are logged, never fatal.
func (e *Executor) appendAttempt(ctx context.Context, j *job.Job, attempt int, execErr error, delay time.Duration, at time.Time) {
	rec := &job.RetryAttempt{
		ID:      id.NewAttemptID(),
		JobID:   j.ID,
		Attempt: attempt,
		Error:   execErr.Error(),
		Delay:   delay,
		At:      at,
	}
	if err := e.store.AppendRetryAttempt(ctx, rec); err != nil {
		e.logger.Warn("retry history append failed",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
}
