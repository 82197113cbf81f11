package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/dlq"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
)

const dlqColumns = `id, job, queue, job_type, reason, attempts, dead_at,
	replayed_at, replay_job_id, created_at, updated_at`

// PushEntry inserts a dead letter row. The job snapshot is stored as
// JSONB; queue and type are denormalized for filtering.
func (s *Store) PushEntry(ctx context.Context, e *dlq.Entry) error {
	jobJSON, err := json.Marshal(e.Job)
	if err != nil {
		return fmt.Errorf("marshal dlq job: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conveyor_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, jobJSON, e.Job.Queue, e.Job.Type, e.Reason, e.Attempts, e.DeadAt,
		e.ReplayedAt, e.ReplayJobID, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres dlq push: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM conveyor_dlq WHERE id = $1`, entryID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conveyor.ErrDLQNotFound
	}
	return e, err
}

// ListEntries returns entries matching opts, oldest first.
func (s *Store) ListEntries(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM conveyor_dlq WHERE true`
	args := []any{}
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(` AND queue = $%d`, len(args))
	}
	if opts.JobType != "" {
		args = append(args, opts.JobType)
		query += fmt.Sprintf(` AND job_type = $%d`, len(args))
	}
	query += ` ORDER BY dead_at ASC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres dlq list: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres scan dlq entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkEntryReplayed records the replay of an entry.
func (s *Store) MarkEntryReplayed(ctx context.Context, entryID id.DLQID, newJobID id.JobID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_dlq
		SET replayed_at = $2, replay_job_id = $3, updated_at = now()
		WHERE id = $1`,
		entryID, at, newJobID,
	)
	if err != nil {
		return fmt.Errorf("postgres dlq mark replayed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrDLQNotFound
	}
	return nil
}

// DeleteEntry removes a single entry.
func (s *Store) DeleteEntry(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_dlq WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("postgres dlq delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrDLQNotFound
	}
	return nil
}

// PurgeEntriesBefore removes entries that died before the cutoff.
func (s *Store) PurgeEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conveyor_dlq WHERE dead_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres dlq purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TrimEntries removes the oldest entries until at most keep remain.
func (s *Store) TrimEntries(ctx context.Context, keep int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM conveyor_dlq
		WHERE id IN (
			SELECT id FROM conveyor_dlq
			ORDER BY dead_at DESC
			OFFSET $1
		)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres dlq trim: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountEntries returns the number of retained entries.
func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM conveyor_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres dlq count: %w", err)
	}
	return n, nil
}

func scanEntry(row pgx.Row) (*dlq.Entry, error) {
	var e dlq.Entry
	var jobJSON []byte
	var queue, jobType string
	err := row.Scan(
		&e.ID, &jobJSON, &queue, &jobType, &e.Reason, &e.Attempts, &e.DeadAt,
		&e.ReplayedAt, &e.ReplayJobID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	var j job.Job
	if err := json.Unmarshal(jobJSON, &j); err != nil {
		return nil, fmt.Errorf("unmarshal dlq job: %w", err)
	}
	e.Job = &j
	return &e, nil
}
