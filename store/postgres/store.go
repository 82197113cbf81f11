// Package postgres provides a PostgreSQL-backed store using pgx. The
// dequeue claim relies on FOR UPDATE SKIP LOCKED, so concurrent workers
// never contend on or double-claim the same row.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
)

//go:embed schema.sql
var schema string

// Store is a PostgreSQL implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store on an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect dials PostgreSQL with the given DSN.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const jobColumns = `id, type, queue, payload, status, priority, attempt, max_attempts,
	last_error, worker_id, run_at, started_at, completed_at, tags, metadata, timeout_ms,
	created_at, updated_at`

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// EnqueueJob inserts a new job row.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	metadata, err := marshalMetadata(j.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		j.ID, j.Type, j.Queue, j.Payload, j.Status, j.Priority, j.Attempt, j.MaxAttempts,
		j.LastError, j.WorkerID, j.RunAt, j.StartedAt, j.CompletedAt, j.Tags, metadata,
		j.Timeout.Milliseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("postgres enqueue: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit due pending jobs with SKIP LOCKED and
// marks them running for workerID in one statement.
func (s *Store) DequeueJobs(ctx context.Context, workerID id.WorkerID, queues []string, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			SELECT id FROM conveyor_jobs
			WHERE status = 'pending' AND queue = ANY($2) AND run_at <= now()
			ORDER BY priority DESC, run_at ASC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE conveyor_jobs j
		SET status = 'running', attempt = j.attempt + 1, worker_id = $1,
			started_at = now(), updated_at = now()
		FROM claimed
		WHERE j.id = claimed.id
		RETURNING `+prefixColumns("j", jobColumns),
		workerID, queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres dequeue: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conveyor.ErrJobNotFound
	}
	return j, err
}

// UpdateJob persists all mutable job fields.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	metadata, err := marshalMetadata(j.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET status = $2, priority = $3, attempt = $4, max_attempts = $5,
			last_error = $6, worker_id = $7, run_at = $8, started_at = $9,
			completed_at = $10, tags = $11, metadata = $12, timeout_ms = $13,
			updated_at = $14
		WHERE id = $1`,
		j.ID, j.Status, j.Priority, j.Attempt, j.MaxAttempts,
		j.LastError, j.WorkerID, j.RunAt, j.StartedAt,
		j.CompletedAt, j.Tags, metadata, j.Timeout.Milliseconds(),
		j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes the job row and its retry history.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM conveyor_retry_attempts WHERE job_id = $1`, jobID)
	return err
}

// CancelJob cancels a waiting job in one guarded update.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conveyor_jobs
		SET status = 'cancelled', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'failed', 'timed_out')
		RETURNING `+jobColumns,
		jobID,
	)
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// No row matched: distinguish absent, running, and terminal.
	existing, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	if existing.Status.IsTerminal() {
		return nil, conveyor.ErrJobTerminal
	}
	return nil, conveyor.ErrInvalidTransition
}

// ListJobsByStatus returns jobs with the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE status = $1`
	args := []any{status}
	if opts.Queue != "" {
		query += ` AND queue = $2`
		args = append(args, opts.Queue)
	}
	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres list: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountJobs counts jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT count(*) FROM conveyor_jobs WHERE true`
	args := []any{}
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(` AND queue = $%d`, len(args))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres count: %w", err)
	}
	return n, nil
}

// QueueDepth counts waiting jobs in the queue.
func (s *Store) QueueDepth(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM conveyor_jobs
		WHERE queue = $1 AND status IN ('pending', 'failed', 'timed_out')`,
		queue,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres queue depth: %w", err)
	}
	return n, nil
}

// EvictOldestPending cancels the oldest pending job in the queue.
func (s *Store) EvictOldestPending(ctx context.Context, queue string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		WITH victim AS (
			SELECT id FROM conveyor_jobs
			WHERE queue = $1 AND status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE conveyor_jobs j
		SET status = 'cancelled', completed_at = now(), updated_at = now()
		FROM victim
		WHERE j.id = victim.id
		RETURNING `+prefixColumns("j", jobColumns),
		queue,
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// PromoteDueJobs returns due failed and timed-out jobs to pending.
func (s *Store) PromoteDueJobs(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET status = 'pending', updated_at = now()
		WHERE status IN ('failed', 'timed_out') AND run_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres promote: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AppendRetryAttempt inserts one attempt record.
func (s *Store) AppendRetryAttempt(ctx context.Context, attempt *job.RetryAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_retry_attempts (id, job_id, attempt, error, delay_ms, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		attempt.ID, attempt.JobID, attempt.Attempt, attempt.Error,
		attempt.Delay.Milliseconds(), attempt.At,
	)
	if err != nil {
		return fmt.Errorf("postgres append attempt: %w", err)
	}
	return nil
}

// RetryHistory returns the job's attempts ordered by attempt number.
func (s *Store) RetryHistory(ctx context.Context, jobID id.JobID) (job.History, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, attempt, error, delay_ms, at
		FROM conveyor_retry_attempts
		WHERE job_id = $1
		ORDER BY attempt ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres history: %w", err)
	}
	defer rows.Close()

	var h job.History
	for rows.Next() {
		var a job.RetryAttempt
		var delayMS int64
		if err := rows.Scan(&a.ID, &a.JobID, &a.Attempt, &a.Error, &delayMS, &a.At); err != nil {
			return nil, fmt.Errorf("postgres scan attempt: %w", err)
		}
		a.Delay = time.Duration(delayMS) * time.Millisecond
		h = append(h, &a)
	}
	return h, rows.Err()
}
