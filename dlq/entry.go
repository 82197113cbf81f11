package dlq

import (
	"time"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
)

// Entry is a dead lettered job with its failure context.
type Entry struct {
	conveyor.Entity

	// ID identifies this dead letter entry (not the job).
	ID id.DLQID `json:"id"`

	// Job is a snapshot of the job at the moment it died.
	Job *job.Job `json:"job"`

	// Reason is the final error message that killed the job.
	Reason string `json:"reason"`

	// Attempts is how many executions the job consumed before dying.
	Attempts int `json:"attempts"`

	// DeadAt is when the job entered the dead letter queue.
	DeadAt time.Time `json:"dead_at"`

	// ReplayedAt is set when the entry has been replayed as a new job.
	// Replayed entries remain in the queue for audit until purged.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// ReplayJobID is the ID of the job created by the replay, if any.
	ReplayJobID id.JobID `json:"replay_job_id,omitempty"`
}

// NewEntry creates a dead letter entry for the given job.
func NewEntry(j *job.Job, cause error) *Entry {
	reason := j.LastError
	if cause != nil {
		reason = cause.Error()
	}
	return &Entry{
		Entity:   conveyor.NewEntity(),
		ID:       id.NewDLQID(),
		Job:      j,
		Reason:   reason,
		Attempts: j.Attempt,
		DeadAt:   time.Now(),
	}
}

// Replayed reports whether this entry has already been replayed.
func (e *Entry) Replayed() bool { return e.ReplayedAt != nil }
