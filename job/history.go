package job

import (
	"time"

	"github.com/ordersync/conveyor/id"
)

// RetryAttempt records one failed execution: the attempt number, a
// snapshot of the error, the computed retry delay, and when it happened.
type RetryAttempt struct {
	ID      id.AttemptID  `json:"id"`
	JobID   id.JobID      `json:"job_id"`
	Attempt int           `json:"attempt"`
	Error   string        `json:"error"`
	Delay   time.Duration `json:"delay"`
	At      time.Time     `json:"at"`
}

// History is the append-only, ordered sequence of retry attempts for one
// job. Only the owning worker appends; stores return it sorted by
// attempt number.
type History []*RetryAttempt

// Last returns the most recent attempt, or nil for an empty history.
func (h History) Last() *RetryAttempt {
	if len(h) == 0 {
		return nil
	}
	return h[len(h)-1]
}
