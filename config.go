package conveyor

import "time"

// Config holds the processing configuration for a Conveyor instance.
type Config struct {
	// WorkerCount is the number of worker loops to run. Each worker
	// executes at most one job at a time.
	WorkerCount int `mapstructure:"worker_count"`

	// DefaultQueue is the queue used when a job names none.
	DefaultQueue string `mapstructure:"default_queue"`

	// PollInterval is how long a worker sleeps after an empty dequeue.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// ErrorBackoff is how long a worker sleeps after a store error on
	// dequeue. Store errors are transient and never touch job state.
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`

	// DueCheckInterval is how often the scheduler scans for retry-delayed
	// jobs whose run-at has elapsed.
	DueCheckInterval time.Duration `mapstructure:"due_check_interval"`

	// DefaultTimeout is the hard execution deadline applied to jobs that
	// do not set their own.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// before in-flight jobs are cancelled.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Queues configures per-queue admission control. Queues not listed
	// have no depth or rate limits.
	Queues []QueueSettings `mapstructure:"queues"`

	// Retry configures the default retry policy.
	Retry RetrySettings `mapstructure:"retry"`

	// DeadLetter configures dead-letter retention and alerting.
	DeadLetter DeadLetterSettings `mapstructure:"dead_letter"`
}

// QueueSettings configures admission control for one named queue.
type QueueSettings struct {
	// Name is the queue identifier (must match the job's queue field).
	Name string `mapstructure:"name"`

	// Weight is the queue's share of the polling rotation. Higher weights
	// are polled more often; every configured queue is polled at least
	// once per rotation, bounding starvation. Minimum 1.
	Weight int `mapstructure:"weight"`

	// MaxDepth caps the number of waiting jobs. Zero means unbounded.
	// Exceeding MaxDepth at enqueue time triggers the overflow strategy.
	MaxDepth int64 `mapstructure:"max_depth"`

	// Overflow is the strategy applied when the queue is at MaxDepth:
	// "block", "drop_newest", or "drop_oldest".
	Overflow string `mapstructure:"overflow"`

	// RateLimit is the maximum sustained dequeues per second. Zero
	// disables rate limiting.
	RateLimit float64 `mapstructure:"rate_limit"`

	// RateBurst is the token-bucket burst size. Defaults to 1 when
	// RateLimit is set.
	RateBurst int `mapstructure:"rate_burst"`

	// MaxConcurrency limits simultaneously running jobs from this queue
	// across the local pool. Zero means no queue-specific limit.
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// RetrySettings configures the default exponential retry policy.
type RetrySettings struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	Jitter       float64       `mapstructure:"jitter"`
}

// DeadLetterSettings configures dead-letter retention and alerting.
type DeadLetterSettings struct {
	// MaxAge is how long entries are retained before the sweep purges
	// them. Zero disables age-based purging.
	MaxAge time.Duration `mapstructure:"max_age"`

	// MaxCount caps the number of retained entries; the sweep trims the
	// oldest beyond it. Zero means unbounded.
	MaxCount int64 `mapstructure:"max_count"`

	// Alert enables the threshold alert fired when the entry count
	// crosses MaxCount.
	Alert bool `mapstructure:"alert"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:      4,
		DefaultQueue:     "default",
		PollInterval:     100 * time.Millisecond,
		ErrorBackoff:     1 * time.Second,
		DueCheckInterval: 60 * time.Second,
		DefaultTimeout:   5 * time.Minute,
		ShutdownTimeout:  30 * time.Second,
		Retry: RetrySettings{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     1 * time.Hour,
			Multiplier:   2.0,
			Jitter:       0.1,
		},
		DeadLetter: DeadLetterSettings{
			MaxAge:   7 * 24 * time.Hour,
			MaxCount: 10000,
			Alert:    true,
		},
	}
}
