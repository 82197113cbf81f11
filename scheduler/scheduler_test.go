package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/dlq"
	"github.com/ordersync/conveyor/ext"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
	"github.com/ordersync/conveyor/scheduler"
	"github.com/ordersync/conveyor/store/memory"
)

func newTestScheduler(t *testing.T, interval time.Duration, settings conveyor.DeadLetterSettings) (*scheduler.Scheduler, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.New()
	hooks := ext.NewRegistry(logger)
	deadLetters := dlq.NewService(s, s, hooks, logger, settings)
	return scheduler.New(s, deadLetters, logger, interval), s
}

// failedDueJob returns a stored job in failed status whose retry run-at
// has already elapsed.
func failedDueJob(t *testing.T, s *memory.Store) *job.Job {
	t.Helper()
	ctx := context.Background()
	j := &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Type:        "sync_inventory",
		Queue:       "default",
		Status:      job.StatusPending,
		Priority:    job.PriorityNormal,
		MaxAttempts: 3,
		RunAt:       time.Now().Add(-time.Minute),
	}
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	claimed, err := s.DequeueJobs(ctx, id.NewWorkerID(), []string{"default"}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim failed: jobs=%d err=%v", len(claimed), err)
	}
	c := claimed[0]
	if err := c.MarkFailed(job.StatusFailed, errors.New("boom"), time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := s.UpdateJob(ctx, c); err != nil {
		t.Fatalf("update error: %v", err)
	}
	return c
}

func TestScheduler_CheckPromotesDueJobs(t *testing.T) {
	sched, s := newTestScheduler(t, time.Hour, conveyor.DeadLetterSettings{})
	ctx := context.Background()

	j := failedDueJob(t, s)
	sched.Check(ctx)

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusPending {
		t.Errorf("Status = %s after check, want pending", got.Status)
	}
}

func TestScheduler_CheckSweepsDeadLetters(t *testing.T) {
	sched, s := newTestScheduler(t, time.Hour, conveyor.DeadLetterSettings{MaxAge: time.Hour})
	ctx := context.Background()

	stale := dlq.NewEntry(&job.Job{
		Entity: conveyor.NewEntity(),
		ID:     id.NewJobID(),
		Type:   "send_email",
		Queue:  "emails",
		Status: job.StatusDead,
	}, errors.New("boom"))
	stale.DeadAt = time.Now().Add(-2 * time.Hour)
	if err := s.PushEntry(ctx, stale); err != nil {
		t.Fatalf("push entry: %v", err)
	}

	sched.Check(ctx)
	n, _ := s.CountEntries(ctx)
	if n != 0 {
		t.Errorf("entries after sweep = %d, want 0", n)
	}
}

func TestScheduler_StartRunsChecks(t *testing.T) {
	sched, s := newTestScheduler(t, 10*time.Millisecond, conveyor.DeadLetterSettings{})
	j := failedDueJob(t, s)

	sched.Start()
	defer sched.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := s.GetJob(context.Background(), j.ID)
		if got.Status == job.StatusPending {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("due job never promoted by running scheduler")
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	sched, _ := newTestScheduler(t, 10*time.Millisecond, conveyor.DeadLetterSettings{})
	sched.Start()
	sched.Start()
	sched.Stop()
	sched.Stop()
}
