package job_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
)

func newTestJob() *job.Job {
	return &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Type:        "send_email",
		Queue:       "default",
		Status:      job.StatusPending,
		Priority:    job.PriorityNormal,
		MaxAttempts: 3,
		RunAt:       time.Now(),
	}
}

func TestStatus_Predicates(t *testing.T) {
	tests := []struct {
		status    job.Status
		terminal  bool
		retryable bool
		active    bool
	}{
		{job.StatusPending, false, false, true},
		{job.StatusRunning, false, false, true},
		{job.StatusCompleted, true, false, false},
		{job.StatusFailed, false, true, false},
		{job.StatusTimedOut, false, true, false},
		{job.StatusCancelled, true, false, false},
		{job.StatusDead, true, false, false},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.IsRetryable(); got != tt.retryable {
			t.Errorf("%s.IsRetryable() = %v, want %v", tt.status, got, tt.retryable)
		}
		if got := tt.status.IsActive(); got != tt.active {
			t.Errorf("%s.IsActive() = %v, want %v", tt.status, got, tt.active)
		}
	}
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to job.Status
		want     bool
	}{
		{job.StatusPending, job.StatusRunning, true},
		{job.StatusPending, job.StatusCancelled, true},
		{job.StatusPending, job.StatusCompleted, false},
		{job.StatusRunning, job.StatusCompleted, true},
		{job.StatusRunning, job.StatusFailed, true},
		{job.StatusRunning, job.StatusTimedOut, true},
		{job.StatusRunning, job.StatusPending, false},
		{job.StatusFailed, job.StatusPending, true},
		{job.StatusFailed, job.StatusDead, true},
		{job.StatusTimedOut, job.StatusPending, true},
		{job.StatusTimedOut, job.StatusDead, true},
		{job.StatusCompleted, job.StatusRunning, false},
		{job.StatusDead, job.StatusPending, false},
		{job.StatusCancelled, job.StatusRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestJob_ShouldExecuteNow(t *testing.T) {
	now := time.Now()

	j := newTestJob()
	j.RunAt = now.Add(-time.Second)
	if !j.ShouldExecuteNow(now) {
		t.Error("past RunAt: ShouldExecuteNow() = false, want true")
	}

	j.RunAt = now.Add(time.Hour)
	if j.ShouldExecuteNow(now) {
		t.Error("future RunAt: ShouldExecuteNow() = true, want false")
	}

	j.RunAt = time.Time{}
	if !j.ShouldExecuteNow(now) {
		t.Error("zero RunAt: ShouldExecuteNow() = false, want true")
	}
}

func TestJob_MarkRunning(t *testing.T) {
	j := newTestJob()
	wid := id.NewWorkerID()
	now := time.Now()

	if err := j.MarkRunning(wid, now); err != nil {
		t.Fatalf("MarkRunning error: %v", err)
	}
	if j.Status != job.StatusRunning {
		t.Errorf("Status = %s, want %s", j.Status, job.StatusRunning)
	}
	if j.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", j.Attempt)
	}
	if j.WorkerID != wid {
		t.Errorf("WorkerID = %s, want %s", j.WorkerID, wid)
	}
	if j.StartedAt == nil || !j.StartedAt.Equal(now) {
		t.Errorf("StartedAt = %v, want %v", j.StartedAt, now)
	}

	// Running again is illegal.
	if err := j.MarkRunning(wid, now); !errors.Is(err, conveyor.ErrInvalidTransition) {
		t.Errorf("second MarkRunning error = %v, want ErrInvalidTransition", err)
	}
}

func TestJob_MarkFailed_SchedulesRetry(t *testing.T) {
	j := newTestJob()
	wid := id.NewWorkerID()
	now := time.Now()
	_ = j.MarkRunning(wid, now)

	runAt := now.Add(2 * time.Second)
	if err := j.MarkFailed(job.StatusFailed, errors.New("smtp unavailable"), runAt); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	if j.Status != job.StatusFailed {
		t.Errorf("Status = %s, want %s", j.Status, job.StatusFailed)
	}
	if j.LastError != "smtp unavailable" {
		t.Errorf("LastError = %q, want %q", j.LastError, "smtp unavailable")
	}
	if !j.RunAt.Equal(runAt) {
		t.Errorf("RunAt = %v, want %v", j.RunAt, runAt)
	}
	if !j.WorkerID.IsNil() {
		t.Errorf("WorkerID = %s, want nil (released on failure)", j.WorkerID)
	}
}

func TestJob_MarkFailed_RejectsOtherStatuses(t *testing.T) {
	j := newTestJob()
	_ = j.MarkRunning(id.NewWorkerID(), time.Now())

	err := j.MarkFailed(job.StatusCompleted, errors.New("boom"), time.Now())
	if !errors.Is(err, conveyor.ErrInvalidTransition) {
		t.Errorf("MarkFailed(completed) error = %v, want ErrInvalidTransition", err)
	}
}

func TestJob_CanRetry(t *testing.T) {
	j := newTestJob()
	j.MaxAttempts = 2
	now := time.Now()

	_ = j.MarkRunning(id.NewWorkerID(), now)
	_ = j.MarkFailed(job.StatusFailed, errors.New("boom"), now)
	if !j.CanRetry() {
		t.Error("after attempt 1 of 2: CanRetry() = false, want true")
	}

	_ = j.MarkPending()
	_ = j.MarkRunning(id.NewWorkerID(), now)
	_ = j.MarkFailed(job.StatusTimedOut, errors.New("deadline"), now)
	if j.CanRetry() {
		t.Error("after attempt 2 of 2: CanRetry() = true, want false")
	}
}

func TestJob_MarkDead(t *testing.T) {
	j := newTestJob()
	now := time.Now()
	_ = j.MarkRunning(id.NewWorkerID(), now)
	_ = j.MarkFailed(job.StatusFailed, errors.New("boom"), now)

	if err := j.MarkDead(now); err != nil {
		t.Fatalf("MarkDead error: %v", err)
	}
	if j.Status != job.StatusDead {
		t.Errorf("Status = %s, want %s", j.Status, job.StatusDead)
	}

	// Dead is terminal.
	if err := j.MarkPending(); !errors.Is(err, conveyor.ErrInvalidTransition) {
		t.Errorf("MarkPending on dead job error = %v, want ErrInvalidTransition", err)
	}
}

func TestJob_MarkCancelled(t *testing.T) {
	for _, status := range []job.Status{job.StatusPending, job.StatusRunning, job.StatusFailed, job.StatusTimedOut} {
		j := newTestJob()
		j.Status = status
		if err := j.MarkCancelled(time.Now()); err != nil {
			t.Errorf("MarkCancelled from %s error: %v", status, err)
		}
		if j.Status != job.StatusCancelled {
			t.Errorf("Status after cancel from %s = %s, want cancelled", status, j.Status)
		}
	}

	for _, status := range []job.Status{job.StatusCompleted, job.StatusCancelled, job.StatusDead} {
		j := newTestJob()
		j.Status = status
		if err := j.MarkCancelled(time.Now()); !errors.Is(err, conveyor.ErrJobTerminal) {
			t.Errorf("MarkCancelled from %s error = %v, want ErrJobTerminal", status, err)
		}
	}
}

func TestJob_TimedOut(t *testing.T) {
	j := newTestJob()
	now := time.Now()

	if j.TimedOut(now) {
		t.Error("not started: TimedOut() = true, want false")
	}

	started := now.Add(-10 * time.Second)
	j.StartedAt = &started
	j.Timeout = 5 * time.Second
	if !j.TimedOut(now) {
		t.Error("started 10s ago with 5s timeout: TimedOut() = false, want true")
	}

	j.Timeout = 30 * time.Second
	if j.TimedOut(now) {
		t.Error("started 10s ago with 30s timeout: TimedOut() = true, want false")
	}
}

func TestHistory_Last(t *testing.T) {
	var h job.History
	if h.Last() != nil {
		t.Error("empty History.Last() != nil")
	}

	h = job.History{
		{Attempt: 1, Error: "first"},
		{Attempt: 2, Error: "second"},
	}
	if got := h.Last(); got == nil || got.Attempt != 2 {
		t.Errorf("Last() = %+v, want attempt 2", got)
	}
}

func TestJob_JSONRoundTrip(t *testing.T) {
	started := time.Now().UTC().Add(-time.Minute)
	completed := time.Now().UTC()
	orig := &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Type:        "send_email",
		Queue:       "emails",
		Payload:     []byte(`{"to":"ops@example.com"}`),
		Status:      job.StatusCompleted,
		Priority:    job.PriorityHigh,
		Attempt:     2,
		MaxAttempts: 5,
		LastError:   "smtp refused",
		WorkerID:    id.NewWorkerID(),
		RunAt:       time.Now().UTC().Add(-2 * time.Minute),
		StartedAt:   &started,
		CompletedAt: &completed,
		Tags:        []string{"billing", "urgent"},
		Metadata:    map[string]string{"tenant": "acme", "region": "eu"},
		Timeout:     30 * time.Second,
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var got job.Job
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if got.ID != orig.ID {
		t.Errorf("ID = %s, want %s", got.ID, orig.ID)
	}
	if got.Type != orig.Type || got.Queue != orig.Queue {
		t.Errorf("type/queue = %s/%s, want %s/%s", got.Type, got.Queue, orig.Type, orig.Queue)
	}
	if string(got.Payload) != string(orig.Payload) {
		t.Errorf("Payload = %s, want %s", got.Payload, orig.Payload)
	}
	if got.Status != orig.Status {
		t.Errorf("Status = %s, want %s", got.Status, orig.Status)
	}
	if got.Priority != orig.Priority {
		t.Errorf("Priority = %v, want %v", got.Priority, orig.Priority)
	}
	if got.Attempt != orig.Attempt || got.MaxAttempts != orig.MaxAttempts {
		t.Errorf("attempt/max = %d/%d, want %d/%d", got.Attempt, got.MaxAttempts, orig.Attempt, orig.MaxAttempts)
	}
	if got.LastError != orig.LastError {
		t.Errorf("LastError = %q, want %q", got.LastError, orig.LastError)
	}
	if got.WorkerID != orig.WorkerID {
		t.Errorf("WorkerID = %s, want %s", got.WorkerID, orig.WorkerID)
	}
	if !got.RunAt.Equal(orig.RunAt) {
		t.Errorf("RunAt = %v, want %v", got.RunAt, orig.RunAt)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(*orig.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, orig.StartedAt)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(*orig.CompletedAt) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, orig.CompletedAt)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "billing" || got.Tags[1] != "urgent" {
		t.Errorf("Tags = %v, want %v", got.Tags, orig.Tags)
	}
	if len(got.Metadata) != 2 || got.Metadata["tenant"] != "acme" || got.Metadata["region"] != "eu" {
		t.Errorf("Metadata = %v, want %v", got.Metadata, orig.Metadata)
	}
	if got.Timeout != orig.Timeout {
		t.Errorf("Timeout = %v, want %v", got.Timeout, orig.Timeout)
	}
	if !got.CreatedAt.Equal(orig.CreatedAt) || !got.UpdatedAt.Equal(orig.UpdatedAt) {
		t.Errorf("timestamps = %v/%v, want %v/%v", got.CreatedAt, got.UpdatedAt, orig.CreatedAt, orig.UpdatedAt)
	}
}
