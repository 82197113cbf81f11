// Package redis provides a Redis-backed store. Job records are JSON
// values; per-queue sorted sets order due work by priority and schedule
// future work by run-at. Claims use ZPOPMIN, which is atomic, so no two
// workers ever receive the same job.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
)

// Store is a Redis implementation of store.Store.
type Store struct {
	client redis.UniversalClient
}

// New creates a store on an existing Redis client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// NewFromOptions dials Redis with the given options.
func NewFromOptions(opts *redis.Options) *Store {
	return &Store{client: redis.NewClient(opts)}
}

// Migrate is a no-op; Redis needs no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// readyScore composes priority and run-at into one ZSET score so a
// single ZPOPMIN yields highest priority first, earliest run-at within
// a priority.
func readyScore(j *job.Job) float64 {
	return float64(j.RunAt.UnixMilli()) - float64(j.Priority)*priorityWeight
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// EnqueueJob stores the job and places it on the ready or scheduled set
// depending on its run-at.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if exists > 0 {
		return conveyor.ErrJobAlreadyExists
	}

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	now := time.Now()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, queuesKey(), j.Queue)
	pipe.SAdd(ctx, statusKey(string(j.Status)), j.ID.String())
	if j.ShouldExecuteNow(now) {
		pipe.ZAdd(ctx, readyKey(j.Queue), redis.Z{Score: readyScore(j), Member: j.ID.String()})
	} else {
		pipe.ZAdd(ctx, scheduledKey(j.Queue), redis.Z{Score: float64(j.RunAt.UnixMilli()), Member: j.ID.String()})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// DequeueJobs pops due jobs off the ready sets. Each pop is atomic, so
// the claim is exclusive; the subsequent record update is ours alone.
func (s *Store) DequeueJobs(ctx context.Context, workerID id.WorkerID, queues []string, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now()
	var claimed []*job.Job

	for _, q := range queues {
		for len(claimed) < limit {
			popped, err := s.client.ZPopMin(ctx, readyKey(q), 1).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return claimed, fmt.Errorf("redis zpopmin: %w", err)
			}
			if len(popped) == 0 {
				break
			}

			jobID, _ := popped[0].Member.(string)
			j, err := s.loadJob(ctx, jobID)
			if err != nil {
				if errors.Is(err, conveyor.ErrJobNotFound) {
					continue // stale ready member
				}
				return claimed, err
			}
			if j.Status != job.StatusPending || !j.ShouldExecuteNow(now) {
				continue
			}
			if err := j.MarkRunning(workerID, now); err != nil {
				continue
			}
			if err := s.saveJob(ctx, j, job.StatusPending); err != nil {
				return claimed, err
			}
			claimed = append(claimed, j)
		}
		if len(claimed) >= limit {
			break
		}
	}
	return claimed, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.loadJob(ctx, jobID.String())
}

// UpdateJob persists the job and moves its index membership. Retryable
// outcomes land on the scheduled set; promoted jobs land on ready.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	old, err := s.loadJob(ctx, j.ID.String())
	if err != nil {
		return err
	}
	return s.saveJob(ctx, j, old.Status)
}

// DeleteJob removes the job record, its indexes, and its history.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	j, err := s.loadJob(ctx, jobID.String())
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jobID.String()), historyKey(jobID.String()))
	pipe.SRem(ctx, statusKey(string(j.Status)), jobID.String())
	pipe.ZRem(ctx, readyKey(j.Queue), jobID.String())
	pipe.ZRem(ctx, scheduledKey(j.Queue), jobID.String())
	_, err = pipe.Exec(ctx)
	return err
}

// CancelJob cancels a waiting job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.loadJob(ctx, jobID.String())
	if err != nil {
		return nil, err
	}
	switch {
	case j.Status.IsTerminal():
		return nil, conveyor.ErrJobTerminal
	case j.Status == job.StatusRunning:
		return nil, conveyor.ErrInvalidTransition
	}
	prev := j.Status
	if err := j.MarkCancelled(time.Now()); err != nil {
		return nil, err
	}
	if err := s.saveJob(ctx, j, prev); err != nil {
		return nil, err
	}
	return j, nil
}

// ListJobsByStatus returns jobs with the given status via the status
// index set, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, statusKey(string(status))).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jobID := range ids {
		j, err := s.loadJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, conveyor.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}
	sortJobsByCreation(jobs)
	return paginateJobs(jobs, opts.Offset, opts.Limit), nil
}

// CountJobs counts jobs matching opts. Status-only counts use SCARD;
// queue filters walk the index.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.Status != "" && opts.Queue == "" {
		return s.client.SCard(ctx, statusKey(string(opts.Status))).Result()
	}

	statuses := allStatuses()
	if opts.Status != "" {
		statuses = []job.Status{opts.Status}
	}
	var n int64
	for _, st := range statuses {
		ids, err := s.client.SMembers(ctx, statusKey(string(st))).Result()
		if err != nil {
			return 0, fmt.Errorf("redis smembers: %w", err)
		}
		for _, jobID := range ids {
			j, err := s.loadJob(ctx, jobID)
			if err != nil {
				if errors.Is(err, conveyor.ErrJobNotFound) {
					continue
				}
				return 0, err
			}
			if opts.Queue == "" || j.Queue == opts.Queue {
				n++
			}
		}
	}
	return n, nil
}

// QueueDepth is the size of the queue's ready and scheduled sets.
func (s *Store) QueueDepth(ctx context.Context, queue string) (int64, error) {
	pipe := s.client.Pipeline()
	ready := pipe.ZCard(ctx, readyKey(queue))
	scheduled := pipe.ZCard(ctx, scheduledKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return ready.Val() + scheduled.Val(), nil
}

// EvictOldestPending cancels the oldest pending job in the queue. The
// ready set orders by priority, not age, so candidates are compared by
// creation time in-process.
func (s *Store) EvictOldestPending(ctx context.Context, queue string) (*job.Job, error) {
	ids, err := s.client.ZRange(ctx, readyKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}

	var oldest *job.Job
	for _, jobID := range ids {
		j, err := s.loadJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, conveyor.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		if j.Status != job.StatusPending {
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
	if err := s.saveJob(ctx, oldest, job.StatusPending); err != nil {
		return nil, err
	}
	return oldest, nil
}

// PromoteDueJobs moves due members of every scheduled set back to
// pending on the ready set.
func (s *Store) PromoteDueJobs(ctx context.Context, now time.Time) (int, error) {
	queues, err := s.client.SMembers(ctx, queuesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers: %w", err)
	}

	nowMilli := fmt.Sprintf("%d", now.UnixMilli())
	promoted := 0
	for _, q := range queues {
		ids, err := s.client.ZRangeByScore(ctx, scheduledKey(q), &redis.ZRangeBy{
			Min: "-inf", Max: nowMilli,
		}).Result()
		if err != nil {
			return promoted, fmt.Errorf("redis zrangebyscore: %w", err)
		}
		for _, jobID := range ids {
			j, err := s.loadJob(ctx, jobID)
			if err != nil {
				if errors.Is(err, conveyor.ErrJobNotFound) {
					s.client.ZRem(ctx, scheduledKey(q), jobID)
					continue
				}
				return promoted, err
			}

			prev := j.Status
			switch {
			case j.Status.IsRetryable():
				if err := j.MarkPending(); err != nil {
					continue
				}
			case j.Status == job.StatusPending:
				// Scheduled-at-creation job coming due; no transition.
			default:
				s.client.ZRem(ctx, scheduledKey(q), jobID)
				continue
			}

			if err := s.saveJob(ctx, j, prev); err != nil {
				return promoted, err
			}
			if prev.IsRetryable() {
				promoted++
			}
		}
	}
	return promoted, nil
}

// AppendRetryAttempt appends the attempt to the job's history list.
func (s *Store) AppendRetryAttempt(ctx context.Context, attempt *job.RetryAttempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	return s.client.RPush(ctx, historyKey(attempt.JobID.String()), data).Err()
}

// RetryHistory returns the job's attempts in append order.
func (s *Store) RetryHistory(ctx context.Context, jobID id.JobID) (job.History, error) {
	raw, err := s.client.LRange(ctx, historyKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	h := make(job.History, 0, len(raw))
	for _, item := range raw {
		var a job.RetryAttempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("unmarshal attempt: %w", err)
		}
		h = append(h, &a)
	}
	return h, nil
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

func (s *Store) loadJob(ctx context.Context, jobID string) (*job.Job, error) {
	data, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, conveyor.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, nil
}

// saveJob writes the record and reconciles index membership given the
// job's previous status.
func (s *Store) saveJob(ctx context.Context, j *job.Job, prevStatus job.Status) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	now := time.Now()
	jobID := j.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(jobID), data, 0)
	if prevStatus != j.Status {
		pipe.SRem(ctx, statusKey(string(prevStatus)), jobID)
		pipe.SAdd(ctx, statusKey(string(j.Status)), jobID)
	}

	// Membership in the ordering sets follows the new status.
	pipe.ZRem(ctx, readyKey(j.Queue), jobID)
	pipe.ZRem(ctx, scheduledKey(j.Queue), jobID)
	switch {
	case j.Status == job.StatusPending && j.ShouldExecuteNow(now):
		pipe.ZAdd(ctx, readyKey(j.Queue), redis.Z{Score: readyScore(j), Member: jobID})
	case j.Status == job.StatusPending || j.Status.IsRetryable():
		pipe.ZAdd(ctx, scheduledKey(j.Queue), redis.Z{Score: float64(j.RunAt.UnixMilli()), Member: jobID})
	}

	_, err = pipe.Exec(ctx)
	return err
}

func allStatuses() []job.Status {
	return []job.Status{
		job.StatusPending, job.StatusRunning, job.StatusCompleted,
		job.StatusFailed, job.StatusTimedOut, job.StatusCancelled, job.StatusDead,
	}
}

func sortJobsByCreation(jobs []*job.Job) {
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
}

func paginateJobs(jobs []*job.Job, offset, limit int) []*job.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
