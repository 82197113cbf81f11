package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/dlq"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
	"github.com/ordersync/conveyor/store/memory"
)

func newJob(queue string, priority job.Priority, runAt time.Time) *job.Job {
	return &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Type:        "test",
		Queue:       queue,
		Status:      job.StatusPending,
		Priority:    priority,
		MaxAttempts: 3,
		RunAt:       runAt,
	}
}

func TestStore_EnqueueAndGet(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("default", job.PriorityNormal, time.Now())
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.ID != j.ID || got.Queue != "default" {
		t.Errorf("got %+v, want ID %s queue default", got, j.ID)
	}

	// Returned job is a copy; mutating it must not touch the store.
	got.Queue = "mutated"
	again, _ := s.GetJob(ctx, j.ID)
	if again.Queue != "default" {
		t.Error("store job mutated through returned copy")
	}
}

func TestStore_EnqueueDuplicate(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("default", job.PriorityNormal, time.Now())
	_ = s.EnqueueJob(ctx, j)
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Errorf("duplicate enqueue error = %v, want ErrJobAlreadyExists", err)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := memory.New()
	if _, err := s.GetJob(context.Background(), id.NewJobID()); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("get missing error = %v, want ErrJobNotFound", err)
	}
}

func TestStore_DequeueOrdersByPriorityThenTime(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now()

	low := newJob("default", job.PriorityLow, now.Add(-3*time.Second))
	normal := newJob("default", job.PriorityNormal, now.Add(-2*time.Second))
	high := newJob("default", job.PriorityHigh, now.Add(-1*time.Second))
	for _, j := range []*job.Job{low, normal, high} {
		_ = s.EnqueueJob(ctx, j)
	}

	wid := id.NewWorkerID()
	claimed, err := s.DequeueJobs(ctx, wid, []string{"default"}, 3)
	if err != nil {
		t.Fatalf("dequeue error: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed %d jobs, want 3", len(claimed))
	}
	wantOrder := []id.JobID{high.ID, normal.ID, low.ID}
	for i, want := range wantOrder {
		if claimed[i].ID != want {
			t.Errorf("claimed[%d] = %s, want %s", i, claimed[i].ID, want)
		}
	}
}

func TestStore_DequeueMarksRunning(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("default", job.PriorityNormal, time.Now())
	_ = s.EnqueueJob(ctx, j)

	wid := id.NewWorkerID()
	claimed, _ := s.DequeueJobs(ctx, wid, []string{"default"}, 1)
	if len(claimed) != 1 {
		t.Fatal("no job claimed")
	}
	got := claimed[0]
	if got.Status != job.StatusRunning {
		t.Errorf("Status = %s, want running", got.Status)
	}
	if got.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", got.Attempt)
	}
	if got.WorkerID != wid {
		t.Errorf("WorkerID = %s, want %s", got.WorkerID, wid)
	}
}

func TestStore_DequeueSkipsFutureJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	future := newJob("default", job.PriorityHigh, time.Now().Add(time.Hour))
	_ = s.EnqueueJob(ctx, future)

	claimed, err := s.DequeueJobs(ctx, id.NewWorkerID(), []string{"default"}, 10)
	if err != nil {
		t.Fatalf("dequeue error: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d future jobs, want 0", len(claimed))
	}
}

func TestStore_DequeueRespectsQueueFilter(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	emails := newJob("emails", job.PriorityNormal, time.Now())
	webhooks := newJob("webhooks", job.PriorityNormal, time.Now())
	_ = s.EnqueueJob(ctx, emails)
	_ = s.EnqueueJob(ctx, webhooks)

	claimed, _ := s.DequeueJobs(ctx, id.NewWorkerID(), []string{"emails"}, 10)
	if len(claimed) != 1 || claimed[0].ID != emails.ID {
		t.Errorf("claimed = %v, want only the emails job", claimed)
	}
}

func TestStore_DequeueClaimIsExclusive(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	const total = 50
	for range total {
		_ = s.EnqueueJob(ctx, newJob("default", job.PriorityNormal, time.Now()))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wid := id.NewWorkerID()
			for {
				claimed, err := s.DequeueJobs(ctx, wid, []string{"default"}, 3)
				if err != nil {
					t.Errorf("dequeue error: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, j := range claimed {
					seen[j.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("claimed %d distinct jobs, want %d", len(seen), total)
	}
	for jobID, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times, want exactly once", jobID, n)
		}
	}
}

func TestStore_CancelWaitingJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("default", job.PriorityNormal, time.Now())
	_ = s.EnqueueJob(ctx, j)

	got, err := s.CancelJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", got.Status)
	}
}

func TestStore_CancelRunningJobRefused(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("default", job.PriorityNormal, time.Now())
	_ = s.EnqueueJob(ctx, j)
	_, _ = s.DequeueJobs(ctx, id.NewWorkerID(), []string{"default"}, 1)

	if _, err := s.CancelJob(ctx, j.ID); !errors.Is(err, conveyor.ErrInvalidTransition) {
		t.Errorf("cancel running error = %v, want ErrInvalidTransition", err)
	}
}

func TestStore_CancelTerminalJobRefused(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("default", job.PriorityNormal, time.Now())
	_ = s.EnqueueJob(ctx, j)
	got, _ := s.CancelJob(ctx, j.ID)
	if got == nil {
		t.Fatal("first cancel failed")
	}

	if _, err := s.CancelJob(ctx, j.ID); !errors.Is(err, conveyor.ErrJobTerminal) {
		t.Errorf("cancel terminal error = %v, want ErrJobTerminal", err)
	}
}

func TestStore_QueueDepthCountsWaitingOnly(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now()

	pending := newJob("default", job.PriorityNormal, now)
	retryScheduled := newJob("default", job.PriorityNormal, now)
	running := newJob("default", job.PriorityNormal, now)
	_ = s.EnqueueJob(ctx, pending)
	_ = s.EnqueueJob(ctx, retryScheduled)
	_ = s.EnqueueJob(ctx, running)

	// Put one into failed and one into running.
	claimed, _ := s.DequeueJobs(ctx, id.NewWorkerID(), []string{"default"}, 2)
	if len(claimed) != 2 {
		t.Fatalf("claimed %d, want 2", len(claimed))
	}
	failed := claimed[0]
	_ = failed.MarkFailed(job.StatusFailed, errors.New("boom"), now.Add(time.Minute))
	_ = s.UpdateJob(ctx, failed)

	depth, err := s.QueueDepth(ctx, "default")
	if err != nil {
		t.Fatalf("depth error: %v", err)
	}
	// 1 pending + 1 failed (retry-scheduled); the running one is excluded.
	if depth != 2 {
		t.Errorf("QueueDepth = %d, want 2", depth)
	}
}

func TestStore_EvictOldestPending(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	older := newJob("default", job.PriorityHigh, time.Now())
	older.CreatedAt = time.Now().Add(-time.Minute)
	newer := newJob("default", job.PriorityLow, time.Now())
	_ = s.EnqueueJob(ctx, older)
	_ = s.EnqueueJob(ctx, newer)

	evicted, err := s.EvictOldestPending(ctx, "default")
	if err != nil {
		t.Fatalf("evict error: %v", err)
	}
	// Eviction is by age, not priority.
	if evicted == nil || evicted.ID != older.ID {
		t.Fatalf("evicted = %v, want the older job %s", evicted, older.ID)
	}
	if evicted.Status != job.StatusCancelled {
		t.Errorf("evicted Status = %s, want cancelled", evicted.Status)
	}

	depth, _ := s.QueueDepth(ctx, "default")
	if depth != 1 {
		t.Errorf("depth after evict = %d, want 1", depth)
	}
}

func TestStore_EvictOldestPendingEmptyQueue(t *testing.T) {
	s := memory.New()
	evicted, err := s.EvictOldestPending(context.Background(), "empty")
	if err != nil {
		t.Fatalf("evict error: %v", err)
	}
	if evicted != nil {
		t.Errorf("evicted = %v, want nil", evicted)
	}
}

func TestStore_PromoteDueJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now()

	j := newJob("default", job.PriorityNormal, now)
	_ = s.EnqueueJob(ctx, j)
	claimed, _ := s.DequeueJobs(ctx, id.NewWorkerID(), []string{"default"}, 1)
	failed := claimed[0]
	_ = failed.MarkFailed(job.StatusFailed, errors.New("boom"), now.Add(50*time.Millisecond))
	_ = s.UpdateJob(ctx, failed)

	// Not yet due.
	n, err := s.PromoteDueJobs(ctx, now)
	if err != nil {
		t.Fatalf("promote error: %v", err)
	}
	if n != 0 {
		t.Errorf("promoted %d before due, want 0", n)
	}

	// Due now.
	n, _ = s.PromoteDueJobs(ctx, now.Add(time.Second))
	if n != 1 {
		t.Errorf("promoted %d, want 1", n)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusPending {
		t.Errorf("Status after promote = %s, want pending", got.Status)
	}
}

func TestStore_RetryHistory(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	jid := id.NewJobID()
	for i := 2; i >= 1; i-- {
		_ = s.AppendRetryAttempt(ctx, &job.RetryAttempt{
			ID:      id.NewAttemptID(),
			JobID:   jid,
			Attempt: i,
			Error:   "boom",
			Delay:   time.Second,
			At:      time.Now(),
		})
	}

	h, err := s.RetryHistory(ctx, jid)
	if err != nil {
		t.Fatalf("history error: %v", err)
	}
	if len(h) != 2 {
		t.Fatalf("history len = %d, want 2", len(h))
	}
	// Sorted by attempt regardless of append order.
	if h[0].Attempt != 1 || h[1].Attempt != 2 {
		t.Errorf("history order = [%d, %d], want [1, 2]", h[0].Attempt, h[1].Attempt)
	}
}

func TestStore_ListAndCountJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for range 3 {
		_ = s.EnqueueJob(ctx, newJob("emails", job.PriorityNormal, time.Now()))
	}
	_ = s.EnqueueJob(ctx, newJob("webhooks", job.PriorityNormal, time.Now()))

	jobs, err := s.ListJobsByStatus(ctx, job.StatusPending, job.ListOpts{Queue: "emails"})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("list len = %d, want 3", len(jobs))
	}

	n, _ := s.CountJobs(ctx, job.CountOpts{Status: job.StatusPending})
	if n != 4 {
		t.Errorf("count all pending = %d, want 4", n)
	}
	n, _ = s.CountJobs(ctx, job.CountOpts{Queue: "webhooks"})
	if n != 1 {
		t.Errorf("count webhooks = %d, want 1", n)
	}
}

func TestStore_ClosedStoreRefusesOperations(t *testing.T) {
	s := memory.New()
	_ = s.Close()

	if err := s.EnqueueJob(context.Background(), newJob("default", job.PriorityNormal, time.Now())); !errors.Is(err, conveyor.ErrStoreClosed) {
		t.Errorf("enqueue on closed store error = %v, want ErrStoreClosed", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, conveyor.ErrStoreClosed) {
		t.Errorf("ping on closed store error = %v, want ErrStoreClosed", err)
	}
}

// ──────────────────────────────────────────────────
// Dead letter store
// ──────────────────────────────────────────────────

func newEntry(queue string, deadAt time.Time) *dlq.Entry {
	j := newJob(queue, job.PriorityNormal, time.Now())
	e := dlq.NewEntry(j, errors.New("exhausted"))
	e.DeadAt = deadAt
	return e
}

func TestStore_DLQPushGetList(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	e1 := newEntry("emails", time.Now().Add(-time.Hour))
	e2 := newEntry("webhooks", time.Now())
	_ = s.PushEntry(ctx, e1)
	_ = s.PushEntry(ctx, e2)

	got, err := s.GetEntry(ctx, e1.ID)
	if err != nil {
		t.Fatalf("get entry error: %v", err)
	}
	if got.Reason != "exhausted" {
		t.Errorf("Reason = %q, want %q", got.Reason, "exhausted")
	}

	all, _ := s.ListEntries(ctx, dlq.ListOpts{})
	if len(all) != 2 {
		t.Errorf("list len = %d, want 2", len(all))
	}

	filtered, _ := s.ListEntries(ctx, dlq.ListOpts{Queue: "emails"})
	if len(filtered) != 1 || filtered[0].ID != e1.ID {
		t.Errorf("filtered list = %v, want only the emails entry", filtered)
	}
}

func TestStore_DLQMarkReplayed(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	e := newEntry("default", time.Now())
	_ = s.PushEntry(ctx, e)

	replayID := id.NewJobID()
	at := time.Now()
	if err := s.MarkEntryReplayed(ctx, e.ID, replayID, at); err != nil {
		t.Fatalf("mark replayed error: %v", err)
	}

	got, _ := s.GetEntry(ctx, e.ID)
	if !got.Replayed() {
		t.Error("entry not marked replayed")
	}
	if got.ReplayJobID != replayID {
		t.Errorf("ReplayJobID = %s, want %s", got.ReplayJobID, replayID)
	}
}

func TestStore_DLQPurgeBefore(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now()

	_ = s.PushEntry(ctx, newEntry("default", now.Add(-48*time.Hour)))
	_ = s.PushEntry(ctx, newEntry("default", now.Add(-1*time.Hour)))

	removed, err := s.PurgeEntriesBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge error: %v", err)
	}
	if removed != 1 {
		t.Errorf("purged %d, want 1", removed)
	}
	n, _ := s.CountEntries(ctx)
	if n != 1 {
		t.Errorf("count after purge = %d, want 1", n)
	}
}

func TestStore_DLQTrim(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now()

	var oldest *dlq.Entry
	for i := range 5 {
		e := newEntry("default", now.Add(time.Duration(i)*time.Minute))
		if i == 0 {
			oldest = e
		}
		_ = s.PushEntry(ctx, e)
	}

	removed, err := s.TrimEntries(ctx, 3)
	if err != nil {
		t.Fatalf("trim error: %v", err)
	}
	if removed != 2 {
		t.Errorf("trimmed %d, want 2", removed)
	}

	// The oldest entries go first.
	if _, err := s.GetEntry(ctx, oldest.ID); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Errorf("oldest entry still present after trim, err = %v", err)
	}
	n, _ := s.CountEntries(ctx)
	if n != 3 {
		t.Errorf("count after trim = %d, want 3", n)
	}
}
