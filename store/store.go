// Package store defines the aggregate persistence interface. Each subsystem
// (job, dlq, schedule) defines its own store interface. The composite Store
// composes them. Backends: Postgres, SQLite, Redis, MongoDB, and Memory.
package store

import (
	"context"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/schedule"
)

// Store is the aggregate persistence interface.
// A single backend implements all of the subsystem stores.
type Store interface {
	job.Store
	dlq.Store
	schedule.Ledger

	// Migrate creates or updates the backend schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
