package dlq

import (
	"context"
	"time"

	"github.com/ordersync/conveyor/id"
)

// ListOpts controls dead letter listing.
type ListOpts struct {
	// Limit caps the number of entries returned. Zero means no limit.
	Limit int
	// Offset skips that many entries (entries are ordered by DeadAt,
	// oldest first).
	Offset int
	// Queue filters to entries whose job belonged to the given queue.
	// Empty matches all queues.
	Queue string
	// JobType filters to entries for a specific job type. Empty matches
	// all types.
	JobType string
}

// Store is the persistence interface for dead letter entries.
type Store interface {
	// PushEntry persists a new dead letter entry.
	PushEntry(ctx context.Context, e *Entry) error

	// GetEntry retrieves an entry by ID. Returns conveyor.ErrDLQNotFound
	// when absent.
	GetEntry(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ListEntries returns entries matching opts, ordered oldest first.
	ListEntries(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// MarkEntryReplayed records that an entry was replayed into a new job.
	MarkEntryReplayed(ctx context.Context, entryID id.DLQID, newJobID id.JobID, at time.Time) error

	// DeleteEntry removes a single entry.
	DeleteEntry(ctx context.Context, entryID id.DLQID) error

	// PurgeEntriesBefore removes entries that died before the cutoff and
	// returns how many were removed.
	PurgeEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// TrimEntries removes the oldest entries until at most keep remain,
	// returning how many were removed.
	TrimEntries(ctx context.Context, keep int64) (int64, error)

	// CountEntries returns the total number of entries.
	CountEntries(ctx context.Context) (int64, error)
}
