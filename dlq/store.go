package dlq

import (
	"context"

	"github.com/xraph/conveyor/id"
)

// ListOpts controls pagination and filtering for failed job listings.
type ListOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Store is the append-mostly table of failed jobs.
type Store interface {
	// PushFailed appends an entry.
	PushFailed(ctx context.Context, entry *Entry) error

	// ListFailed returns entries ordered by FailedAt, oldest first.
	ListFailed(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetFailed retrieves an entry by ID.
	GetFailed(ctx context.Context, entryID id.FailedJobID) (*Entry, error)

	// DeleteFailed removes an entry.
	DeleteFailed(ctx context.Context, entryID id.FailedJobID) error

	// PurgeFailed removes every entry in queue, or every entry when queue
	// is empty. It returns the number removed.
	PurgeFailed(ctx context.Context, queue string) (int64, error)

	// CountFailed counts entries in queue, or all entries when queue is empty.
	CountFailed(ctx context.Context, queue string) (int64, error)
}
