package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Service provides the operator-facing operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
	now      func() time.Time
}

// NewService creates a failed job service. jobStore receives records
// re-enqueued by Retry.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore, now: time.Now}
}

// Push snapshots rec into the failed job store with jobErr as the
// exception text.
func (s *Service) Push(ctx context.Context, rec *job.Record, jobErr error) error {
	exception := "unknown error"
	if jobErr != nil {
		exception = jobErr.Error()
	}
	entry := &Entry{
		ID:            id.NewFailedJobID(),
		OriginalJobID: rec.ID,
		JobName:       rec.Name(),
		Queue:         rec.Queue,
		Payload:       append([]byte(nil), rec.Payload...),
		Exception:     exception,
		Attempts:      rec.Attempts,
		MaxAttempts:   rec.MaxAttempts,
		FailedAt:      s.now().UTC(),
	}
	return s.store.PushFailed(ctx, entry)
}

// Retry re-enqueues the entry as a fresh record with zero attempts,
// available immediately, and then deletes the entry.
func (s *Service) Retry(ctx context.Context, entryID id.FailedJobID) (*job.Record, error) {
	entry, err := s.store.GetFailed(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &job.Record{
		ID:          id.NewJobID(),
		Queue:       entry.Queue,
		Payload:     append([]byte(nil), entry.Payload...),
		MaxAttempts: entry.MaxAttempts,
		AvailableAt: now,
		CreatedAt:   now,
	}
	if rec.Queue == "" {
		rec.Queue = job.DefaultQueue
	}
	if rec.MaxAttempts <= 0 {
		rec.MaxAttempts = job.DefaultMaxAttempts
	}

	if err := s.jobStore.EnqueueJob(ctx, rec); err != nil {
		return nil, fmt.Errorf("dlq: re-enqueue %s: %w", entryID, err)
	}
	if err := s.store.DeleteFailed(ctx, entryID); err != nil {
		// The record is already live again; report the stale entry.
		return rec, fmt.Errorf("dlq: delete %s after retry: %w", entryID, err)
	}
	return rec, nil
}

// RetryAll retries every entry in queue (all queues when empty) and
// returns the re-enqueued records. Failures are joined and do not stop
// the remaining entries.
func (s *Service) RetryAll(ctx context.Context, queue string) ([]*job.Record, error) {
	entries, err := s.store.ListFailed(ctx, ListOpts{Queue: queue})
	if err != nil {
		return nil, err
	}

	var (
		out  []*job.Record
		errs []error
	)
	for _, e := range entries {
		rec, err := s.Retry(ctx, e.ID)
		if rec != nil {
			out = append(out, rec)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// Flush discards every entry in queue, or all entries when queue is empty.
func (s *Service) Flush(ctx context.Context, queue string) (int64, error) {
	return s.store.PurgeFailed(ctx, queue)
}

// Store returns the underlying failed job store for list, get and count.
func (s *Service) Store() Store {
	return s.store
}
