package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Overflow selects the behavior when a queue is at MaxDepth at enqueue
// time.
type Overflow string

const (
	// OverflowBlock refuses admission until space frees — strict
	// backpressure on the producer.
	OverflowBlock Overflow = "block"
	// OverflowDropNewest rejects the incoming job.
	OverflowDropNewest Overflow = "drop_newest"
	// OverflowDropOldest evicts the oldest pending job to admit the new
	// one.
	OverflowDropOldest Overflow = "drop_oldest"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	// Admit lets the job in.
	Admit Decision = iota
	// Reject refuses the job (drop-newest at capacity).
	Reject
	// EvictOldest admits the job after the caller evicts the oldest
	// pending job (drop-oldest at capacity).
	EvictOldest
	// Wait tells the producer to wait for space (block at capacity).
	Wait
)

// Config defines per-queue behavior.
type Config struct {
	// Name is the queue identifier (must match the job's queue field).
	Name string

	// Weight is the queue's share of the polling rotation. Every
	// configured queue appears at least once per rotation. Values below
	// 1 are treated as 1.
	Weight int

	// MaxDepth caps the number of waiting jobs. Zero means unbounded.
	MaxDepth int64

	// Strategy is applied when the queue is at MaxDepth. Empty defaults
	// to OverflowBlock.
	Strategy Overflow

	// RateLimit is the maximum sustained jobs per second that may be
	// executed from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously across the local worker pool. Zero means no
	// queue-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls queue admission, rate limiting, and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues: make(map[string]*queueState, len(configs)),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	if cfg.Weight < 1 {
		cfg.Weight = 1
	}
	if cfg.Strategy == "" {
		cfg.Strategy = OverflowBlock
	}
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Admit decides whether a job may enter the queue given its current
// depth. Unconfigured and unbounded queues always admit.
func (m *Manager) Admit(queue string, depth int64) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil || qs.config.MaxDepth <= 0 || depth < qs.config.MaxDepth {
		return Admit
	}

	switch qs.config.Strategy {
	case OverflowDropNewest:
		return Reject
	case OverflowDropOldest:
		return EvictOldest
	default:
		return Wait
	}
}

// Acquire checks the rate limit and concurrency cap for the queue
// before a claim attempt. If the attempt may proceed it increments the
// active counter and returns true. The caller MUST call Release when
// the attempt is over, whether or not a job was claimed.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return true
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return false
	}
	qs.active++
	return true
}

// Release decrements the active job count for the queue.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// SetQueueConfig dynamically updates (or creates) a queue configuration.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.queues[cfg.Name]
	qs := newQueueState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// Rotation expands the given queue names into the weighted polling
// order workers follow. A queue with weight w appears w times per
// cycle, interleaved round-robin so that every queue — including
// unconfigured ones, which get weight 1 — is visited at least once per
// rotation. This bounds starvation of low-weight queues.
func (m *Manager) Rotation(queues []string) []string {
	m.mu.Lock()
	remaining := make([]int, len(queues))
	total := 0
	for i, q := range queues {
		w := 1
		if qs := m.queues[q]; qs != nil {
			w = qs.config.Weight
		}
		remaining[i] = w
		total += w
	}
	m.mu.Unlock()

	rotation := make([]string, 0, total)
	for len(rotation) < total {
		for i, q := range queues {
			if remaining[i] > 0 {
				rotation = append(rotation, q)
				remaining[i]--
			}
		}
	}
	return rotation
}
