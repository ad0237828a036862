// Package memory provides an in-memory store.Store for tests and
// development. A single mutex guards all state, which makes ClaimNext
// trivially atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/schedule"
)

// Ensure Store implements every subsystem store at compile time.
// store.Store cannot be imported here (import cycle in tests).
var (
	_ job.Store       = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ schedule.Ledger = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	jobs   map[string]*job.Record
	failed map[string]*dlq.Entry
	ledger []schedule.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:   make(map[string]*job.Record),
		failed: make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob stores a copy of r.
func (m *Store) EnqueueJob(_ context.Context, r *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conveyor.ErrJobAlreadyExists
	}
	m.jobs[key] = r.Clone()
	return nil
}

// ClaimNext reserves the claimable record with the oldest AvailableAt.
func (m *Store) ClaimNext(_ context.Context, queues []string, now time.Time) (*job.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	var best *job.Record
	for _, r := range m.jobs {
		if !r.Claimable(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[r.Queue]; !ok {
				continue
			}
		}
		if best == nil || job.Before(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, conveyor.ErrNoJobAvailable
	}

	at := now.UTC()
	best.ReservedAt = &at
	return best.Clone(), nil
}

// ReleaseJob clears the reservation.
func (m *Store) ReleaseJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	r.ReservedAt = nil
	return nil
}

// RequeueJob clears the reservation, counts the attempt, and reschedules.
func (m *Store) RequeueJob(_ context.Context, jobID id.JobID, availableAt time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	r.ReservedAt = nil
	r.Attempts++
	r.AvailableAt = availableAt.UTC()
	r.LastError = lastErr
	return nil
}

// DeleteJob removes a record by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return conveyor.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ReapStalled releases or exhausts records reserved before cutoff.
func (m *Store) ReapStalled(_ context.Context, cutoff, now time.Time, maxStalls int) (released, exhausted []*job.Record, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.jobs {
		if r.ReservedAt == nil || !r.ReservedAt.Before(cutoff) {
			continue
		}
		r.Stalls++
		if r.Stalls <= maxStalls {
			r.ReservedAt = nil
			released = append(released, r.Clone())
			continue
		}
		at := now.UTC()
		r.ReservedAt = &at
		exhausted = append(exhausted, r.Clone())
	}
	job.SortByAvailability(released)
	job.SortByAvailability(exhausted)
	return released, exhausted, nil
}

// GetJob retrieves a record by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	return r.Clone(), nil
}

// ListJobs returns records ordered by AvailableAt.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result := make([]*job.Record, 0, len(m.jobs))
	for _, r := range m.jobs {
		if opts.Queue != "" && r.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && job.StatusAt(r, now) != opts.Status {
			continue
		}
		result = append(result, r.Clone())
	}
	job.SortByAvailability(result)
	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountJobs returns per-status counts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (job.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var c job.Counts
	for _, r := range m.jobs {
		if opts.Queue != "" && r.Queue != opts.Queue {
			continue
		}
		switch job.StatusAt(r, now) {
		case job.StatusPending:
			c.Pending++
		case job.StatusDelayed:
			c.Delayed++
		case job.StatusReserved:
			c.Reserved++
		}
	}
	return c, nil
}

// ──────────────────────────────────────────────────
// Failed job store
// ──────────────────────────────────────────────────

// PushFailed appends a failed job entry.
func (m *Store) PushFailed(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	cp.Payload = append([]byte(nil), entry.Payload...)
	m.failed[entry.ID.String()] = &cp
	return nil
}

// ListFailed returns entries ordered by FailedAt.
func (m *Store) ListFailed(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.failed))
	for _, e := range m.failed {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].FailedAt.Equal(result[k].FailedAt) {
			return result[i].FailedAt.Before(result[k].FailedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetFailed retrieves a failed job entry by ID.
func (m *Store) GetFailed(_ context.Context, entryID id.FailedJobID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.failed[entryID.String()]
	if !ok {
		return nil, conveyor.ErrFailedJobNotFound
	}
	cp := *e
	return &cp, nil
}

// DeleteFailed removes a failed job entry.
func (m *Store) DeleteFailed(_ context.Context, entryID id.FailedJobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.failed[key]; !ok {
		return conveyor.ErrFailedJobNotFound
	}
	delete(m.failed, key)
	return nil
}

// PurgeFailed removes entries in queue, or every entry when queue is empty.
func (m *Store) PurgeFailed(_ context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.failed {
		if queue != "" && e.Queue != queue {
			continue
		}
		delete(m.failed, key)
		n++
	}
	return n, nil
}

// CountFailed counts entries in queue, or all entries when queue is empty.
func (m *Store) CountFailed(_ context.Context, queue string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if queue == "" {
		return int64(len(m.failed)), nil
	}
	var n int64
	for _, e := range m.failed {
		if e.Queue == queue {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Schedule ledger
// ──────────────────────────────────────────────────

// LoadLedger returns a copy of the saved ledger.
func (m *Store) LoadLedger(_ context.Context) ([]schedule.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]schedule.Entry, len(m.ledger))
	for i, e := range m.ledger {
		out[i] = e.Clone()
	}
	return out, nil
}

// SaveLedger replaces the ledger.
func (m *Store) SaveLedger(_ context.Context, entries []schedule.Entry) error {
	cp := make([]schedule.Entry, len(entries))
	for i, e := range entries {
		cp[i] = e.Clone()
	}
	sort.SliceStable(cp, func(i, k int) bool { return cp[i].JobName < cp[k].JobName })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = cp
	return nil
}

// ──────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
