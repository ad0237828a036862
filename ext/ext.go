// Package ext defines lifecycle hooks for conveyor.
// Each hook is a separate interface so extensions opt in only to the
// events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/conveyor/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job record hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a record is inserted.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, r *job.Record) error
}

// JobClaimed is called when a worker reserves a record, before its
// handler runs.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, r *job.Record) error
}

// JobSucceeded is called after a handler returns nil and the record is
// deleted.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, r *job.Record, elapsed time.Duration) error
}

// JobRetrying is called when a failed record is requeued. attempt is the
// number of attempts made so far.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, r *job.Record, attempt int, availableAt time.Time, err error) error
}

// JobDeadLettered is called after a record is moved to the failed job store.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, r *job.Record, err error) error
}

// JobReleased is called when a reservation is given up without counting
// an attempt, which happens when shutdown interrupts a handler.
type JobReleased interface {
	OnJobReleased(ctx context.Context, r *job.Record) error
}

// JobReaped is called for each stalled record found by the reaper.
// exhausted is true when the record ran out of stalls and is being
// dead-lettered.
type JobReaped interface {
	OnJobReaped(ctx context.Context, r *job.Record, exhausted bool) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// ScheduleExecuted is called after each recurring job execution.
// err is nil when the handler succeeded.
type ScheduleExecuted interface {
	OnScheduleExecuted(ctx context.Context, jobName string, at time.Time, elapsed time.Duration, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
