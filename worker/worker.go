package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
	"github.com/ordersync/conveyor/queue"
)

// State is the lifecycle state of a worker.
type State string

const (
	// StateStarting means the worker is initializing.
	StateStarting State = "starting"
	// StateRunning means the worker is polling and executing jobs.
	StateRunning State = "running"
	// StatePaused means the worker finishes its in-flight job but claims
	// no new work until resumed.
	StatePaused State = "paused"
	// StateStopping means shutdown has begun; the in-flight job drains.
	StateStopping State = "stopping"
	// StateStopped means the worker loop has exited cleanly.
	StateStopped State = "stopped"
	// StateFailed means the worker gave up after persistent store errors.
	StateFailed State = "failed"
)

// maxConsecutiveErrors is how many dequeue errors in a row a worker
// tolerates before declaring itself failed and exiting its loop.
const maxConsecutiveErrors = 10

// Worker is a single processing loop. It polls queues in the weighted
// rotation order and executes at most one job at a time.
type Worker struct {
	id       id.WorkerID
	store    job.Store
	executor *Executor
	gates    *queue.Manager
	tracker  *runTracker
	logger   *slog.Logger
	stats    *Stats

	pollInterval time.Duration
	errorBackoff time.Duration
	rotation     []string

	mu    sync.Mutex
	state State
}

func newWorker(
	store job.Store,
	executor *Executor,
	gates *queue.Manager,
	tracker *runTracker,
	logger *slog.Logger,
	pollInterval, errorBackoff time.Duration,
	rotation []string,
) *Worker {
	wid := id.NewWorkerID()
	return &Worker{
		id:           wid,
		store:        store,
		executor:     executor,
		gates:        gates,
		tracker:      tracker,
		logger:       logger.With(slog.String("worker_id", wid.String())),
		stats:        &Stats{},
		pollInterval: pollInterval,
		errorBackoff: errorBackoff,
		rotation:     rotation,
		state:        StateStarting,
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() id.WorkerID { return w.id }

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stats returns a snapshot of the worker's execution counters.
func (w *Worker) Stats() Snapshot { return w.stats.Snapshot() }

// Pause stops the worker from claiming new jobs. The in-flight job, if
// any, runs to its outcome. Pausing a worker that is still starting
// takes effect before its first poll. No-op once stopping has begun.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateStarting || w.state == StateRunning {
		w.state = StatePaused
		w.logger.Info("worker paused")
	}
}

// Resume lets a paused worker claim jobs again.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StatePaused {
		w.state = StateRunning
		w.logger.Info("worker resumed")
	}
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// compareAndSetState transitions from one state to next only if the
// current state matches from. Used to avoid clobbering a pause.
func (w *Worker) compareAndSetState(from, next State) {
	w.mu.Lock()
	if w.state == from {
		w.state = next
	}
	w.mu.Unlock()
}

// run is the worker loop. loopCtx governs the loop itself: its
// cancellation starts a graceful drain. jobsCtx is the parent of every
// job execution context and is cancelled only at forced shutdown.
func (w *Worker) run(loopCtx, jobsCtx context.Context) {
	w.compareAndSetState(StateStarting, StateRunning)
	w.logger.Info("worker started")

	errStreak := 0
	for {
		select {
		case <-loopCtx.Done():
			w.setState(StateStopping)
			w.logger.Info("worker stopping")
			w.setState(StateStopped)
			return
		default:
		}

		if w.State() == StatePaused {
			w.sleep(loopCtx, w.pollInterval)
			continue
		}

		worked, err := w.pollOnce(loopCtx, jobsCtx)
		switch {
		case err != nil:
			errStreak++
			if errStreak >= maxConsecutiveErrors {
				w.setState(StateFailed)
				w.logger.Error("worker failed: store unreachable",
					slog.Int("consecutive_errors", errStreak),
					slog.String("error", err.Error()),
				)
				return
			}
			w.logger.Warn("dequeue error",
				slog.String("error", err.Error()),
			)
			w.sleep(loopCtx, w.errorBackoff)
		case worked:
			errStreak = 0
		default:
			errStreak = 0
			w.sleep(loopCtx, w.pollInterval)
		}
	}
}

// pollOnce walks the rotation once, executing the first job it can
// claim. Queues gated by rate or concurrency limits are skipped this
// pass; the rotation revisits them next time around.
func (w *Worker) pollOnce(loopCtx, jobsCtx context.Context) (bool, error) {
	for _, q := range w.rotation {
		if loopCtx.Err() != nil {
			return false, nil
		}
		if !w.gates.Acquire(q) {
			continue
		}

		jobs, err := w.store.DequeueJobs(loopCtx, w.id, []string{q}, 1)
		if err != nil {
			w.gates.Release(q)
			if loopCtx.Err() != nil {
				return false, nil
			}
			return false, err
		}
		if len(jobs) == 0 {
			w.gates.Release(q)
			continue
		}

		w.execute(jobsCtx, jobs[0])
		w.gates.Release(q)
		return true, nil
	}
	return false, nil
}

// execute runs one job under a tracked, cancellable context so the pool
// can cooperatively cancel it by ID.
func (w *Worker) execute(jobsCtx context.Context, j *job.Job) {
	jobCtx, cancel := context.WithCancel(jobsCtx)
	defer cancel()

	w.tracker.register(j.ID, cancel)
	defer w.tracker.unregister(j.ID)

	if err := w.executor.Execute(jobCtx, j, w.stats); err != nil {
		w.logger.Error("job outcome persistence failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
