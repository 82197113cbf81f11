package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ordersync/conveyor/job"
)

// prefixColumns qualifies a comma-separated column list with a table
// alias for RETURNING clauses in multi-table statements.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	var metadata []byte
	var timeoutMS int64
	err := row.Scan(
		&j.ID, &j.Type, &j.Queue, &j.Payload, &j.Status, &j.Priority,
		&j.Attempt, &j.MaxAttempts, &j.LastError, &j.WorkerID, &j.RunAt,
		&j.StartedAt, &j.CompletedAt, &j.Tags, &metadata, &timeoutMS,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Timeout = time.Duration(timeoutMS) * time.Millisecond
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &j.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// isUniqueViolation reports whether err is a primary key conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
