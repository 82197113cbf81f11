package job

import (
	"time"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/id"
)

// Job represents a unit of deferred work to be processed by a worker.
// The payload is opaque at this layer; it is decoded by the handler
// registered for Type.
type Job struct {
	conveyor.Entity

	ID          id.JobID          `json:"id"`
	Type        string            `json:"type"`
	Queue       string            `json:"queue"`
	Payload     []byte            `json:"payload,omitempty"`
	Status      Status            `json:"status"`
	Priority    Priority          `json:"priority"`
	Attempt     int               `json:"attempt"`
	MaxAttempts int               `json:"max_attempts"`
	LastError   string            `json:"last_error,omitempty"`
	WorkerID    id.WorkerID       `json:"worker_id,omitempty"`
	RunAt       time.Time         `json:"run_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
}

// ShouldExecuteNow reports whether the job's scheduled run time has
// elapsed. Queues must never hand out a job for which this is false.
func (j *Job) ShouldExecuteNow(now time.Time) bool {
	return j.RunAt.IsZero() || !j.RunAt.After(now)
}

// TimedOut reports whether the elapsed time since the job started
// exceeds its timeout. The executor enforces the deadline itself; this
// predicate exists for store-side inspection of stuck jobs.
func (j *Job) TimedOut(now time.Time) bool {
	if j.StartedAt == nil || j.Timeout <= 0 {
		return false
	}
	return now.Sub(*j.StartedAt) > j.Timeout
}

// CanRetry reports whether the job is in a retryable status with retry
// budget remaining.
func (j *Job) CanRetry() bool {
	return j.Status.IsRetryable() && j.Attempt < j.MaxAttempts
}

// transition moves the job to next, or reports an illegal move.
func (j *Job) transition(next Status) error {
	if !j.Status.CanTransition(next) {
		return conveyor.ErrInvalidTransition
	}
	j.Status = next
	j.Touch()
	return nil
}

// MarkRunning records a successful claim by workerID: increments the
// attempt counter, stamps StartedAt, and sets the owner.
func (j *Job) MarkRunning(workerID id.WorkerID, now time.Time) error {
	if err := j.transition(StatusRunning); err != nil {
		return err
	}
	j.Attempt++
	j.WorkerID = workerID
	n := now
	j.StartedAt = &n
	return nil
}

// MarkCompleted records a successful execution.
func (j *Job) MarkCompleted(now time.Time) error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	n := now
	j.CompletedAt = &n
	return nil
}

// MarkFailed records a failed execution and schedules the retry at
// runAt. Pass StatusTimedOut for deadline expiry, StatusFailed otherwise.
func (j *Job) MarkFailed(status Status, execErr error, runAt time.Time) error {
	if status != StatusFailed && status != StatusTimedOut {
		return conveyor.ErrInvalidTransition
	}
	if err := j.transition(status); err != nil {
		return err
	}
	if execErr != nil {
		j.LastError = execErr.Error()
	}
	j.RunAt = runAt
	j.WorkerID = id.Nil
	return nil
}

// MarkPending returns a retry-delayed job to the pending set. Used by
// the due-check promotion; only failed and timed-out jobs qualify.
func (j *Job) MarkPending() error {
	return j.transition(StatusPending)
}

// MarkDead records retry exhaustion. The job enters the dead letter set.
func (j *Job) MarkDead(now time.Time) error {
	if err := j.transition(StatusDead); err != nil {
		return err
	}
	n := now
	j.CompletedAt = &n
	return nil
}

// MarkCancelled terminates the job from any non-terminal status.
func (j *Job) MarkCancelled(now time.Time) error {
	if j.Status.IsTerminal() {
		return conveyor.ErrJobTerminal
	}
	j.Status = StatusCancelled
	n := now
	j.CompletedAt = &n
	j.Touch()
	return nil
}
