package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/dlq"
	"github.com/ordersync/conveyor/id"
)

// Dead letter entries live as JSON values indexed by a ZSET scored by
// dead-at, so retention sweeps are range operations.

// PushEntry persists a dead letter entry.
func (s *Store) PushEntry(ctx context.Context, e *dlq.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqEntryKey(e.ID.String()), data, 0)
	pipe.ZAdd(ctx, dlqKey(), redis.Z{Score: float64(e.DeadAt.UnixMilli()), Member: e.ID.String()})
	_, err = pipe.Exec(ctx)
	return err
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.loadEntry(ctx, entryID.String())
}

// ListEntries returns entries matching opts, oldest first.
func (s *Store) ListEntries(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRange(ctx, dlqKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, entryID := range ids {
		e, err := s.loadEntry(ctx, entryID)
		if err != nil {
			if errors.Is(err, conveyor.ErrDLQNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Queue != "" && e.Job.Queue != opts.Queue {
			continue
		}
		if opts.JobType != "" && e.Job.Type != opts.JobType {
			continue
		}
		entries = append(entries, e)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// MarkEntryReplayed records the replay of an entry.
func (s *Store) MarkEntryReplayed(ctx context.Context, entryID id.DLQID, newJobID id.JobID, at time.Time) error {
	e, err := s.loadEntry(ctx, entryID.String())
	if err != nil {
		return err
	}
	t := at
	e.ReplayedAt = &t
	e.ReplayJobID = newJobID
	e.Touch()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	return s.client.Set(ctx, dlqEntryKey(entryID.String()), data, 0).Err()
}

// DeleteEntry removes a single entry.
func (s *Store) DeleteEntry(ctx context.Context, entryID id.DLQID) error {
	removed, err := s.client.ZRem(ctx, dlqKey(), entryID.String()).Result()
	if err != nil {
		return fmt.Errorf("redis zrem: %w", err)
	}
	if removed == 0 {
		return conveyor.ErrDLQNotFound
	}
	return s.client.Del(ctx, dlqEntryKey(entryID.String())).Err()
}

// PurgeEntriesBefore removes entries that died before the cutoff.
func (s *Store) PurgeEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	max := fmt.Sprintf("(%d", cutoff.UnixMilli())
	ids, err := s.client.ZRangeByScore(ctx, dlqKey(), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	return s.removeEntries(ctx, ids)
}

// TrimEntries removes the oldest entries until at most keep remain.
func (s *Store) TrimEntries(ctx context.Context, keep int64) (int64, error) {
	total, err := s.client.ZCard(ctx, dlqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	excess := total - keep
	if excess <= 0 {
		return 0, nil
	}
	ids, err := s.client.ZRange(ctx, dlqKey(), 0, excess-1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrange: %w", err)
	}
	return s.removeEntries(ctx, ids)
}

// CountEntries returns the number of retained entries.
func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, dlqKey()).Result()
}

func (s *Store) loadEntry(ctx context.Context, entryID string) (*dlq.Entry, error) {
	data, err := s.client.Get(ctx, dlqEntryKey(entryID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, conveyor.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e dlq.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal dlq entry: %w", err)
	}
	return &e, nil
}

func (s *Store) removeEntries(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := s.client.TxPipeline()
	for _, entryID := range ids {
		pipe.ZRem(ctx, dlqKey(), entryID)
		pipe.Del(ctx, dlqEntryKey(entryID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
