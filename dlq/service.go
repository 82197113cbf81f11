package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/ext"
	"github.com/ordersync/conveyor/job"
)

// Service coordinates dead letter operations: pushing dead jobs,
// threshold alerting, retention sweeps, and replay.
type Service struct {
	store    Store
	jobs     job.Store
	hooks    *ext.Registry
	logger   *slog.Logger
	settings conveyor.DeadLetterSettings

	mu      sync.Mutex
	alerted bool
}

// NewService creates a dead letter service. jobs is the job store used
// to re-enqueue replayed entries.
func NewService(store Store, jobs job.Store, hooks *ext.Registry, logger *slog.Logger, settings conveyor.DeadLetterSettings) *Service {
	return &Service{
		store:    store,
		jobs:     jobs,
		hooks:    hooks,
		logger:   logger,
		settings: settings,
	}
}

// Push moves a dead job into the dead letter queue and fires the
// threshold alert when the entry count crosses MaxCount. The alert is
// edge-triggered: it fires once per upward crossing, not per entry.
func (s *Service) Push(ctx context.Context, j *job.Job, cause error) (*Entry, error) {
	e := NewEntry(j, cause)
	if err := s.store.PushEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("push dead letter entry: %w", err)
	}

	s.logger.Warn("job dead lettered",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("queue", j.Queue),
		slog.Int("attempts", e.Attempts),
		slog.String("reason", e.Reason),
	)
	s.hooks.EmitJobDLQ(ctx, j, cause)

	s.checkThreshold(ctx)
	return e, nil
}

// Get retrieves a dead letter entry by ID.
func (s *Service) Get(ctx context.Context, entryID string) (*Entry, error) {
	did, err := parseEntryID(entryID)
	if err != nil {
		return nil, err
	}
	return s.store.GetEntry(ctx, did)
}

// List returns dead letter entries matching opts, oldest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListEntries(ctx, opts)
}

// Count returns the number of retained dead letter entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountEntries(ctx)
}

// Delete removes a single entry.
func (s *Service) Delete(ctx context.Context, entryID string) error {
	did, err := parseEntryID(entryID)
	if err != nil {
		return err
	}
	return s.store.DeleteEntry(ctx, did)
}

// Sweep applies the retention policy: entries older than MaxAge are
// purged, then the oldest entries beyond MaxCount are trimmed. Called
// periodically by the scheduler.
func (s *Service) Sweep(ctx context.Context) error {
	var purged, trimmed int64
	var err error

	if s.settings.MaxAge > 0 {
		cutoff := time.Now().Add(-s.settings.MaxAge)
		purged, err = s.store.PurgeEntriesBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purge dead letter entries: %w", err)
		}
	}

	if s.settings.MaxCount > 0 {
		trimmed, err = s.store.TrimEntries(ctx, s.settings.MaxCount)
		if err != nil {
			return fmt.Errorf("trim dead letter entries: %w", err)
		}
	}

	if purged > 0 || trimmed > 0 {
		s.logger.Info("dead letter sweep",
			slog.Int64("purged", purged),
			slog.Int64("trimmed", trimmed),
		)
	}

	// Re-arm the alert if the sweep brought the count back under the
	// threshold.
	s.checkThreshold(ctx)
	return nil
}

// checkThreshold fires the DLQ alert when the count is at or above
// MaxCount and re-arms it when the count drops below.
func (s *Service) checkThreshold(ctx context.Context) {
	if !s.settings.Alert || s.settings.MaxCount <= 0 {
		return
	}

	count, err := s.store.CountEntries(ctx)
	if err != nil {
		s.logger.Warn("dead letter count failed", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if count >= s.settings.MaxCount {
		if !s.alerted {
			s.alerted = true
			s.logger.Warn("dead letter threshold crossed",
				slog.Int64("count", count),
				slog.Int64("threshold", s.settings.MaxCount),
			)
			s.hooks.EmitDLQAlert(ctx, count)
		}
		return
	}
	s.alerted = false
}
