package job

import "time"

// Options configures per-job behavior such as retries, queue, and priority.
type Options struct {
	// MaxAttempts is the total execution budget before the job is
	// declared dead. Zero means the engine's configured default applies.
	MaxAttempts int

	// Queue is the queue name this job should be enqueued to.
	Queue string

	// Priority is the dequeue weighting hint.
	Priority Priority

	// Timeout is the hard deadline for one execution. Zero means the
	// engine default applies.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time

	// Tags label the job for filtering and dashboards.
	Tags []string

	// Metadata carries producer-defined key/value context.
	Metadata map[string]string
}

// DefaultOptions returns Options with sensible defaults. MaxAttempts is
// left zero so the engine's configured retry budget applies unless the
// definition or call site sets one.
func DefaultOptions() Options {
	return Options{
		Queue:    "default",
		Priority: PriorityNormal,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxAttempts sets the total execution budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority sets the job priority tier.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the hard deadline for one execution.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithTags labels the job.
func WithTags(tags ...string) Option {
	return func(o *Options) {
		o.Tags = append(o.Tags, tags...)
	}
}

// WithMetadata attaches a metadata key/value pair.
func WithMetadata(key, value string) Option {
	return func(o *Options) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string)
		}
		o.Metadata[key] = value
	}
}
