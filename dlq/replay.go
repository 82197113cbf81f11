package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
)

// Replay re-enqueues a dead lettered job as a fresh job: new ID, zeroed
// attempt counter, pending status, eligible to run immediately. The
// original entry stays in the dead letter queue, marked replayed, until
// the retention sweep removes it. An entry can be replayed only once.
func (s *Service) Replay(ctx context.Context, entryID string) (*job.Job, error) {
	did, err := parseEntryID(entryID)
	if err != nil {
		return nil, err
	}

	e, err := s.store.GetEntry(ctx, did)
	if err != nil {
		return nil, err
	}
	if e.Replayed() {
		return nil, fmt.Errorf("dlq entry %s already replayed as %s", e.ID, e.ReplayJobID)
	}

	orig := e.Job
	now := time.Now()
	replay := &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Type:        orig.Type,
		Queue:       orig.Queue,
		Payload:     orig.Payload,
		Status:      job.StatusPending,
		Priority:    orig.Priority,
		MaxAttempts: orig.MaxAttempts,
		RunAt:       now,
		Tags:        orig.Tags,
		Metadata:    orig.Metadata,
		Timeout:     orig.Timeout,
	}

	if err := s.jobs.EnqueueJob(ctx, replay); err != nil {
		return nil, fmt.Errorf("enqueue replay job: %w", err)
	}
	if err := s.store.MarkEntryReplayed(ctx, e.ID, replay.ID, now); err != nil {
		return nil, fmt.Errorf("mark entry replayed: %w", err)
	}

	s.logger.Info("dead letter entry replayed",
		slog.String("entry_id", e.ID.String()),
		slog.String("original_job_id", orig.ID.String()),
		slog.String("replay_job_id", replay.ID.String()),
	)
	s.hooks.EmitJobEnqueued(ctx, replay)
	return replay, nil
}

// ReplayAll replays every entry matching opts, skipping already-replayed
// entries. It returns the jobs created. The first store error aborts the
// batch; jobs already replayed stay replayed.
func (s *Service) ReplayAll(ctx context.Context, opts ListOpts) ([]*job.Job, error) {
	entries, err := s.store.ListEntries(ctx, opts)
	if err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(entries))
	for _, e := range entries {
		if e.Replayed() {
			continue
		}
		j, err := s.Replay(ctx, e.ID.String())
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func parseEntryID(entryID string) (id.DLQID, error) {
	did, err := id.ParseDLQID(entryID)
	if err != nil {
		return id.DLQID{}, fmt.Errorf("%w: %s", conveyor.ErrDLQNotFound, entryID)
	}
	return did, nil
}
