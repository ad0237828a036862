package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/schedule"
)

// Collection name constants.
const (
	colJobs   = "conveyor_jobs"
	colFailed = "conveyor_failed_jobs"
	colLedger = "conveyor_schedule_ledger"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store       = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ schedule.Ledger = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store. The caller owns the client lifecycle;
// Close does not disconnect it.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all conveyor collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: conveyor/mongo: migrate %s indexes: %w", conveyor.ErrMigrationFailed, col, err)
		}
		s.logger.Debug("mongo indexes ensured", slog.String("collection", col), slog.Int("count", len(models)))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

// migrationIndexes returns the index definitions for all conveyor collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// Claim index: unreserved records by queue in availability order.
			{
				Keys: bson.D{
					{Key: "reserved_at", Value: 1},
					{Key: "queue", Value: 1},
					{Key: "available_at", Value: 1},
					{Key: "_id", Value: 1},
				},
				Options: options.Index().SetName("conveyor_claim"),
			},
		},
		colFailed: {
			{Keys: bson.D{
				{Key: "queue", Value: 1},
				{Key: "failed_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "original_job_id", Value: 1}}},
		},
	}
}
