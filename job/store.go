package job

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
)

// ListOpts controls pagination and filtering for record listings.
type ListOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Status filters by derived status at Now. Empty means all.
	Status Status
	// Now is the instant Status is evaluated at. Zero means time.Now.
	Now time.Time
	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int
	// Offset is the number of records to skip.
	Offset int
}

// CountOpts controls filtering for record counts.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Now is the instant statuses are evaluated at. Zero means time.Now.
	Now time.Time
}

// Counts is the number of records in each derived status.
type Counts struct {
	Pending  int64 `json:"pending"`
	Delayed  int64 `json:"delayed"`
	Reserved int64 `json:"reserved"`
}

// Total returns the sum of all statuses.
func (c Counts) Total() int64 { return c.Pending + c.Delayed + c.Reserved }

// Store is the durable table of pending and in-flight records.
//
// ClaimNext is the only operation requiring atomicity: under any number of
// concurrent callers a record is handed to at most one of them while its
// reservation stands.
type Store interface {
	// EnqueueJob inserts a new record.
	EnqueueJob(ctx context.Context, r *Record) error

	// ClaimNext atomically reserves the unreserved record with the oldest
	// AvailableAt <= now among queues (all queues when empty), setting
	// ReservedAt to now. It returns conveyor.ErrNoJobAvailable when nothing
	// is eligible.
	ClaimNext(ctx context.Context, queues []string, now time.Time) (*Record, error)

	// ReleaseJob clears the reservation without touching Attempts.
	ReleaseJob(ctx context.Context, jobID id.JobID) error

	// RequeueJob clears the reservation, increments Attempts, and makes the
	// record available again at availableAt.
	RequeueJob(ctx context.Context, jobID id.JobID, availableAt time.Time, lastErr string) error

	// DeleteJob removes a record.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ReapStalled increments Stalls on every record reserved before cutoff.
	// Records still within maxStalls are released and returned in released;
	// the rest keep a fresh reservation at now and are returned in
	// exhausted so the caller can dead-letter them.
	ReapStalled(ctx context.Context, cutoff, now time.Time, maxStalls int) (released, exhausted []*Record, err error)

	// GetJob retrieves a record by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Record, error)

	// ListJobs returns records ordered by AvailableAt.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Record, error)

	// CountJobs returns per-status counts.
	CountJobs(ctx context.Context, opts CountOpts) (Counts, error)
}
