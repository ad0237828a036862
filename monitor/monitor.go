// Package monitor reports read-only queue statistics.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/job"
)

// Stats is a point-in-time count of jobs by state. Processing is the
// number of reserved records.
type Stats struct {
	Queue      string `json:"queue,omitempty"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Delayed    int64  `json:"delayed"`
	Failed     int64  `json:"failed"`
	Total      int64  `json:"total"`
}

// Monitor derives Stats from a job store and a failed job store.
type Monitor struct {
	jobs   job.Store
	failed dlq.Store
	now    func() time.Time
}

// New creates a Monitor.
func New(jobs job.Store, failed dlq.Store) *Monitor {
	return &Monitor{jobs: jobs, failed: failed, now: time.Now}
}

// Stats returns the counts for queue, or for every queue when queue is
// empty. Statuses are evaluated at the current time.
func (m *Monitor) Stats(ctx context.Context, queue string) (Stats, error) {
	return m.StatsAt(ctx, queue, m.now().UTC())
}

// StatsAt is Stats evaluated at now.
func (m *Monitor) StatsAt(ctx context.Context, queue string, now time.Time) (Stats, error) {
	counts, err := m.jobs.CountJobs(ctx, job.CountOpts{Queue: queue, Now: now})
	if err != nil {
		return Stats{}, fmt.Errorf("monitor: count jobs: %w", err)
	}
	failed, err := m.failed.CountFailed(ctx, queue)
	if err != nil {
		return Stats{}, fmt.Errorf("monitor: count failed: %w", err)
	}

	s := Stats{
		Queue:      queue,
		Pending:    counts.Pending,
		Processing: counts.Reserved,
		Delayed:    counts.Delayed,
		Failed:     failed,
	}
	s.Total = s.Pending + s.Processing + s.Delayed + s.Failed
	return s, nil
}

// StatsByQueue returns one Stats per queue, in the order given.
func (m *Monitor) StatsByQueue(ctx context.Context, queues []string) ([]Stats, error) {
	now := m.now().UTC()
	out := make([]Stats, 0, len(queues))
	for _, q := range queues {
		s, err := m.StatsAt(ctx, q, now)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
