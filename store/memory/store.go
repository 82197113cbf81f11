// Package memory provides an in-memory store for development and tests.
// All state is process-local and lost on restart. The implementation is
// a single mutex over plain maps; claims are exclusive because every
// operation runs under the lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/dlq"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*job.Job
	history map[string]job.History
	entries []*dlq.Entry
	closed  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		history: make(map[string]job.History),
	}
}

// Migrate is a no-op for the memory backend.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return conveyor.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return conveyor.ErrStoreClosed
	}
	return nil
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// EnqueueJob stores a new job.
func (s *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		return conveyor.ErrJobAlreadyExists
	}
	s.jobs[key] = cloneJob(j)
	return nil
}

// DequeueJobs claims up to limit due pending jobs from the given queues
// for workerID. Claims are exclusive under the store lock.
func (s *Store) DequeueJobs(_ context.Context, workerID id.WorkerID, queues []string, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	queueSet := make(map[string]bool, len(queues))
	for _, q := range queues {
		queueSet[q] = true
	}

	now := time.Now()
	var due []*job.Job
	for _, j := range s.jobs {
		if j.Status == job.StatusPending && queueSet[j.Queue] && j.ShouldExecuteNow(now) {
			due = append(due, j)
		}
	}

	// Priority descending, then scheduled time ascending, then age.
	sort.Slice(due, func(a, b int) bool {
		if due[a].Priority != due[b].Priority {
			return due[a].Priority > due[b].Priority
		}
		if !due[a].RunAt.Equal(due[b].RunAt) {
			return due[a].RunAt.Before(due[b].RunAt)
		}
		return due[a].CreatedAt.Before(due[b].CreatedAt)
	})

	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*job.Job, 0, len(due))
	for _, j := range due {
		if err := j.MarkRunning(workerID, now); err != nil {
			continue
		}
		claimed = append(claimed, cloneJob(j))
	}
	return claimed, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// UpdateJob replaces the stored job.
func (s *Store) UpdateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := j.ID.String()
	if _, ok := s.jobs[key]; !ok {
		return conveyor.ErrJobNotFound
	}
	s.jobs[key] = cloneJob(j)
	return nil
}

// DeleteJob removes a job and its retry history.
func (s *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := jobID.String()
	if _, ok := s.jobs[key]; !ok {
		return conveyor.ErrJobNotFound
	}
	delete(s.jobs, key)
	delete(s.history, key)
	return nil
}

// CancelJob cancels a waiting job. Running jobs return
// ErrInvalidTransition (cancel them through the pool); terminal jobs
// return ErrJobTerminal.
func (s *Store) CancelJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	switch {
	case j.Status.IsTerminal():
		return nil, conveyor.ErrJobTerminal
	case j.Status == job.StatusRunning:
		return nil, conveyor.ErrInvalidTransition
	}
	if err := j.MarkCancelled(time.Now()); err != nil {
		return nil, err
	}
	return cloneJob(j), nil
}

// ListJobsByStatus returns jobs with the given status, oldest first.
func (s *Store) ListJobsByStatus(_ context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var matched []*job.Job
	for _, j := range s.jobs {
		if j.Status != status {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool {
		return matched[a].CreatedAt.Before(matched[b].CreatedAt)
	})

	matched = paginate(matched, opts.Offset, opts.Limit)
	out := make([]*job.Job, len(matched))
	for i, j := range matched {
		out[i] = cloneJob(j)
	}
	return out, nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	for _, j := range s.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		n++
	}
	return n, nil
}

// QueueDepth counts waiting jobs (pending plus retry-scheduled) in the
// queue.
func (s *Store) QueueDepth(_ context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		if j.Status == job.StatusPending || j.Status.IsRetryable() {
			n++
		}
	}
	return n, nil
}

// EvictOldestPending cancels the oldest pending job in the queue.
func (s *Store) EvictOldestPending(_ context.Context, queue string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var oldest *job.Job
	for _, j := range s.jobs {
		if j.Status != job.StatusPending || j.Queue != queue {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	if err := oldest.MarkCancelled(time.Now()); err != nil {
		return nil, err
	}
	return cloneJob(oldest), nil
}

// PromoteDueJobs moves failed and timed-out jobs whose retry delay has
// elapsed back to pending.
func (s *Store) PromoteDueJobs(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	promoted := 0
	for _, j := range s.jobs {
		if j.Status.IsRetryable() && j.ShouldExecuteNow(now) {
			if err := j.MarkPending(); err == nil {
				promoted++
			}
		}
	}
	return promoted, nil
}

// AppendRetryAttempt appends an attempt record to the job's history.
func (s *Store) AppendRetryAttempt(_ context.Context, attempt *job.RetryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	cp := *attempt
	key := attempt.JobID.String()
	s.history[key] = append(s.history[key], &cp)
	return nil
}

// RetryHistory returns the job's attempts ordered by attempt number.
func (s *Store) RetryHistory(_ context.Context, jobID id.JobID) (job.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	h := s.history[jobID.String()]
	out := make(job.History, len(h))
	for i, a := range h {
		cp := *a
		out[i] = &cp
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Attempt < out[b].Attempt })
	return out, nil
}

// ──────────────────────────────────────────────────
// Dead letter store
// ──────────────────────────────────────────────────

// PushEntry appends a dead letter entry.
func (s *Store) PushEntry(_ context.Context, e *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.entries = append(s.entries, cloneEntry(e))
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	for _, e := range s.entries {
		if e.ID == entryID {
			return cloneEntry(e), nil
		}
	}
	return nil, conveyor.ErrDLQNotFound
}

// ListEntries returns entries matching opts, oldest first.
func (s *Store) ListEntries(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var matched []*dlq.Entry
	for _, e := range s.entries {
		if opts.Queue != "" && e.Job.Queue != opts.Queue {
			continue
		}
		if opts.JobType != "" && e.Job.Type != opts.JobType {
			continue
		}
		matched = append(matched, e)
	}

	matched = paginate(matched, opts.Offset, opts.Limit)
	out := make([]*dlq.Entry, len(matched))
	for i, e := range matched {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

// MarkEntryReplayed records the replay of an entry.
func (s *Store) MarkEntryReplayed(_ context.Context, entryID id.DLQID, newJobID id.JobID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, e := range s.entries {
		if e.ID == entryID {
			t := at
			e.ReplayedAt = &t
			e.ReplayJobID = newJobID
			e.Touch()
			return nil
		}
	}
	return conveyor.ErrDLQNotFound
}

// DeleteEntry removes a single entry.
func (s *Store) DeleteEntry(_ context.Context, entryID id.DLQID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for i, e := range s.entries {
		if e.ID == entryID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return conveyor.ErrDLQNotFound
}

// PurgeEntriesBefore removes entries that died before the cutoff.
func (s *Store) PurgeEntriesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if e.DeadAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

// TrimEntries removes the oldest entries until at most keep remain.
func (s *Store) TrimEntries(_ context.Context, keep int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	excess := int64(len(s.entries)) - keep
	if excess <= 0 {
		return 0, nil
	}
	// Entries are appended in death order, so the head is oldest.
	s.entries = append([]*dlq.Entry(nil), s.entries[excess:]...)
	return excess, nil
}

// CountEntries returns the number of retained entries.
func (s *Store) CountEntries(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return int64(len(s.entries)), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func cloneJob(j *job.Job) *job.Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	if j.Tags != nil {
		cp.Tags = append([]string(nil), j.Tags...)
	}
	if j.Metadata != nil {
		cp.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func cloneEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	cp.Job = cloneJob(e.Job)
	if e.ReplayedAt != nil {
		t := *e.ReplayedAt
		cp.ReplayedAt = &t
	}
	return &cp
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
