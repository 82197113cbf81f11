// Package store defines the composite persistence interface and hosts
// the backend implementations (memory, redis, postgres).
package store

import (
	"context"

	"github.com/ordersync/conveyor/dlq"
	"github.com/ordersync/conveyor/job"
)

// Store is the full persistence contract a backend must satisfy: the
// job queue, the dead letter queue, and lifecycle management. One
// backend instance serves all subsystems.
type Store interface {
	job.Store
	dlq.Store

	// Migrate creates or upgrades the backend schema. Safe to call on
	// every startup.
	Migrate(ctx context.Context) error

	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases backend resources. The store is unusable afterwards.
	Close() error
}
