package job

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed by a worker.
	StatusPending Status = "pending"
	// StatusRunning means a worker is currently executing the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the last execution failed; the job is waiting
	// for its retry delay to elapse.
	StatusFailed Status = "failed"
	// StatusTimedOut means the last execution exceeded its deadline; the
	// job is waiting for its retry delay to elapse.
	StatusTimedOut Status = "timed_out"
	// StatusCancelled means the job was explicitly cancelled. Terminal.
	StatusCancelled Status = "cancelled"
	// StatusDead means the job exhausted its retry budget and was moved
	// to the dead letter queue. Terminal.
	StatusDead Status = "dead"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusDead
}

// IsRetryable reports whether the job failed in a way that permits a
// retry, budget allowing.
func (s Status) IsRetryable() bool {
	return s == StatusFailed || s == StatusTimedOut
}

// IsActive reports whether the job is waiting or executing.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// validTransitions encodes the status state machine. Failed and timed
// out jobs cycle back to pending via the due-check promotion; every
// non-terminal state may be cancelled.
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusRunning, StatusCancelled},
	StatusRunning:  {StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled},
	StatusFailed:   {StatusPending, StatusDead, StatusCancelled},
	StatusTimedOut: {StatusPending, StatusDead, StatusCancelled},
}

// CanTransition reports whether the move from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
