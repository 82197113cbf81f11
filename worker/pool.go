package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
	"github.com/ordersync/conveyor/queue"
)

// runTracker maps in-flight job IDs to their cancel functions so the
// pool can cooperatively cancel a running job.
type runTracker struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newRunTracker() *runTracker {
	return &runTracker{cancels: make(map[string]context.CancelFunc)}
}

func (t *runTracker) register(jobID id.JobID, cancel context.CancelFunc) {
	t.mu.Lock()
	t.cancels[jobID.String()] = cancel
	t.mu.Unlock()
}

func (t *runTracker) unregister(jobID id.JobID) {
	t.mu.Lock()
	delete(t.cancels, jobID.String())
	t.mu.Unlock()
}

// cancel cancels the job's execution context if it is in flight.
func (t *runTracker) cancel(jobID id.JobID) bool {
	t.mu.Lock()
	cancel, ok := t.cancels[jobID.String()]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Pool owns a fixed set of workers sharing one store, executor, and
// queue gate. Start spins up the worker loops; Stop drains them
// gracefully and force-cancels in-flight jobs after the shutdown
// timeout.
type Pool struct {
	cfg      conveyor.Config
	store    job.Store
	executor *Executor
	gates    *queue.Manager
	logger   *slog.Logger
	tracker  *runTracker

	mu         sync.Mutex
	workers    []*Worker
	loopCancel context.CancelFunc
	jobsCancel context.CancelFunc
	wg         sync.WaitGroup
	started    bool
}

// NewPool creates a worker pool. Workers are created at Start.
func NewPool(cfg conveyor.Config, store job.Store, executor *Executor, gates *queue.Manager, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:      cfg,
		store:    store,
		executor: executor,
		gates:    gates,
		logger:   logger,
		tracker:  newRunTracker(),
	}
}

// queueNames returns the polling universe: every configured queue plus
// the default queue.
func (p *Pool) queueNames() []string {
	names := make([]string, 0, len(p.cfg.Queues)+1)
	seen := make(map[string]bool, len(p.cfg.Queues)+1)
	for _, q := range p.cfg.Queues {
		if !seen[q.Name] {
			names = append(names, q.Name)
			seen[q.Name] = true
		}
	}
	if p.cfg.DefaultQueue != "" && !seen[p.cfg.DefaultQueue] {
		names = append(names, p.cfg.DefaultQueue)
	}
	return names
}

// Start creates and starts the worker loops. The pool runs until Stop;
// worker lifetimes are not tied to the passed context.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	jobsCtx, jobsCancel := context.WithCancel(context.Background())
	p.loopCancel = loopCancel
	p.jobsCancel = jobsCancel

	rotation := p.gates.Rotation(p.queueNames())
	count := p.cfg.WorkerCount
	if count < 1 {
		count = 1
	}

	p.workers = make([]*Worker, 0, count)
	for range count {
		w := newWorker(
			p.store, p.executor, p.gates, p.tracker, p.logger,
			p.cfg.PollInterval, p.cfg.ErrorBackoff, rotation,
		)
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(loopCtx, jobsCtx)
		}()
	}

	p.started = true
	p.logger.Info("worker pool started",
		slog.Int("workers", count),
		slog.Int("queues", len(rotation)),
	)
	return nil
}

// Stop drains the pool: workers stop claiming immediately and in-flight
// jobs get until the shutdown timeout to finish, after which their
// contexts are cancelled and they are marked cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	loopCancel, jobsCancel := p.loopCancel, p.jobsCancel
	p.mu.Unlock()

	loopCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timeout := p.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-done:
	case <-t.C:
		p.logger.Warn("shutdown timeout; cancelling in-flight jobs")
		jobsCancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		jobsCancel()
		return ctx.Err()
	}

	jobsCancel()
	p.logger.Info("worker pool stopped")
	return nil
}

// CancelRunning cooperatively cancels a job currently executing on this
// pool. Returns false when the job is not in flight here.
func (p *Pool) CancelRunning(jobID id.JobID) bool {
	return p.tracker.cancel(jobID)
}

// PauseAll pauses every worker. In-flight jobs run to their outcome.
func (p *Pool) PauseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.Pause()
	}
}

// ResumeAll resumes every paused worker.
func (p *Pool) ResumeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.Resume()
	}
}

// Workers returns the pool's workers.
func (p *Pool) Workers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Worker returns the worker with the given ID.
func (p *Pool) Worker(workerID id.WorkerID) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.id == workerID {
			return w, nil
		}
	}
	return nil, conveyor.ErrWorkerNotFound
}

// Stats aggregates execution counters across all workers.
func (p *Pool) Stats() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total Snapshot
	for _, w := range p.workers {
		total.merge(w.stats.Snapshot())
	}
	return total
}
