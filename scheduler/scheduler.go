// Package scheduler runs the periodic due check: promoting retry-delayed
// jobs whose run-at has elapsed back to pending, and applying the dead
// letter retention policy. One scheduler runs per process; promotion is
// idempotent, so concurrent processes stepping on each other is safe,
// just wasteful.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ordersync/conveyor/dlq"
	"github.com/ordersync/conveyor/job"
)

// Scheduler periodically promotes due jobs and sweeps the dead letter
// queue.
type Scheduler struct {
	store       job.Store
	deadLetters *dlq.Service
	logger      *slog.Logger
	interval    time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a scheduler with the given due-check interval.
func New(store job.Store, deadLetters *dlq.Service, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Scheduler{
		store:       store,
		deadLetters: deadLetters,
		logger:      logger,
		interval:    interval,
	}
}

// Start begins the tick loop. It runs one immediate check so jobs that
// came due while the process was down are picked up right away.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go s.run(ctx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
}

// Stop terminates the tick loop and waits for the in-progress check.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.Check(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check runs one due-check pass: promote due retries, then sweep the
// dead letter queue. Exported so callers can force a pass in tests or
// admin tooling.
func (s *Scheduler) Check(ctx context.Context) {
	promoted, err := s.store.PromoteDueJobs(ctx, time.Now())
	if err != nil {
		s.logger.Warn("due-job promotion failed", slog.String("error", err.Error()))
	} else if promoted > 0 {
		s.logger.Info("due jobs promoted", slog.Int("count", promoted))
	}

	if err := s.deadLetters.Sweep(ctx); err != nil {
		s.logger.Warn("dead letter sweep failed", slog.String("error", err.Error()))
	}
}
