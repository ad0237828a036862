// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/schedule"
	"github.com/xraph/conveyor/store"
)

// Factory returns an empty, migrated store. It should register cleanup
// with t.
type Factory func(t *testing.T) store.Store

// Run runs the full suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"ClaimOrder", testClaimOrder},
		{"ClaimQueues", testClaimQueues},
		{"ClaimSkipsDelayedAndReserved", testClaimSkipsDelayedAndReserved},
		{"ClaimAtMostOnce", testClaimAtMostOnce},
		{"Release", testRelease},
		{"Requeue", testRequeue},
		{"Delete", testDelete},
		{"ReapStalled", testReapStalled},
		{"ReapExhausted", testReapExhausted},
		{"ListAndCount", testListAndCount},
		{"FailedJobs", testFailedJobs},
		{"Ledger", testLedger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// base is a fixed instant with whole-millisecond precision so every
// backend round-trips it exactly.
var base = time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)

// NewRecord builds a claimable record in queue available at at.
func NewRecord(t *testing.T, queue string, at time.Time) *job.Record {
	t.Helper()
	r, err := job.New("storetest.job", []byte(`{"n":1}`), at, job.WithQueue(queue))
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	return r
}

func enqueue(t *testing.T, s store.Store, rs ...*job.Record) {
	t.Helper()
	for _, r := range rs {
		if err := s.EnqueueJob(context.Background(), r); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
}

func claim(t *testing.T, s store.Store, queues []string, now time.Time) *job.Record {
	t.Helper()
	r, err := s.ClaimNext(context.Background(), queues, now)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	return r
}

func testEnqueueAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := NewRecord(t, "default", base)
	enqueue(t, s, r)

	if err := s.EnqueueJob(ctx, r); !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Fatalf("duplicate EnqueueJob = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != r.ID || got.Queue != "default" || string(got.Payload) != string(r.Payload) {
		t.Errorf("GetJob = %+v, want %+v", got, r)
	}
	if got.MaxAttempts != job.DefaultMaxAttempts || got.Attempts != 0 {
		t.Errorf("attempts = %d/%d", got.Attempts, got.MaxAttempts)
	}
	if !got.AvailableAt.Equal(base) || got.ReservedAt != nil {
		t.Errorf("AvailableAt = %v, ReservedAt = %v", got.AvailableAt, got.ReservedAt)
	}
	if got.Name() != "storetest.job" {
		t.Errorf("Name = %q", got.Name())
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("GetJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func testClaimOrder(t *testing.T, s store.Store) {
	late := NewRecord(t, "default", base.Add(2*time.Second))
	early := NewRecord(t, "default", base)
	middle := NewRecord(t, "default", base.Add(time.Second))
	enqueue(t, s, late, early, middle)

	now := base.Add(time.Minute)
	for _, want := range []*job.Record{early, middle, late} {
		got := claim(t, s, nil, now)
		if got.ID != want.ID {
			t.Fatalf("claimed %s, want %s", got.ID, want.ID)
		}
		if got.ReservedAt == nil || !got.ReservedAt.Equal(now) {
			t.Errorf("ReservedAt = %v, want %v", got.ReservedAt, now)
		}
	}
	if _, err := s.ClaimNext(context.Background(), nil, now); !errors.Is(err, conveyor.ErrNoJobAvailable) {
		t.Fatalf("ClaimNext on drained store = %v, want ErrNoJobAvailable", err)
	}
}

func testClaimQueues(t *testing.T, s store.Store) {
	emails := NewRecord(t, "emails", base)
	reports := NewRecord(t, "reports", base)
	enqueue(t, s, emails, reports)

	now := base.Add(time.Second)
	if _, err := s.ClaimNext(context.Background(), []string{"other"}, now); !errors.Is(err, conveyor.ErrNoJobAvailable) {
		t.Fatalf("ClaimNext(other) = %v, want ErrNoJobAvailable", err)
	}
	if got := claim(t, s, []string{"reports"}, now); got.ID != reports.ID {
		t.Errorf("claimed %s from reports, want %s", got.ID, reports.ID)
	}
	if got := claim(t, s, []string{"emails", "reports"}, now); got.ID != emails.ID {
		t.Errorf("claimed %s, want %s", got.ID, emails.ID)
	}
}

func testClaimSkipsDelayedAndReserved(t *testing.T, s store.Store) {
	delayed := NewRecord(t, "default", base.Add(time.Hour))
	enqueue(t, s, delayed)

	ctx := context.Background()
	if _, err := s.ClaimNext(ctx, nil, base); !errors.Is(err, conveyor.ErrNoJobAvailable) {
		t.Fatalf("delayed record was claimable: %v", err)
	}

	got := claim(t, s, nil, base.Add(time.Hour))
	if got.ID != delayed.ID {
		t.Fatalf("claimed %s, want %s", got.ID, delayed.ID)
	}
	if _, err := s.ClaimNext(ctx, nil, base.Add(2*time.Hour)); !errors.Is(err, conveyor.ErrNoJobAvailable) {
		t.Fatalf("reserved record was claimable: %v", err)
	}
}

func testClaimAtMostOnce(t *testing.T, s store.Store) {
	const jobs, claimers = 20, 8
	for i := range jobs {
		enqueue(t, s, NewRecord(t, "default", base.Add(time.Duration(i)*time.Millisecond)))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
		errs    = make(chan error, claimers)
	)
	now := base.Add(time.Minute)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				r, err := s.ClaimNext(context.Background(), []string{"default"}, now)
				if errors.Is(err, conveyor.ErrNoJobAvailable) {
					return
				}
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				claimed[r.ID.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ClaimNext: %v", err)
	}

	if len(claimed) != jobs {
		t.Fatalf("claimed %d distinct records, want %d", len(claimed), jobs)
	}
	for key, n := range claimed {
		if n != 1 {
			t.Errorf("record %s claimed %d times", key, n)
		}
	}
}

func testRelease(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := NewRecord(t, "default", base)
	enqueue(t, s, r)
	claim(t, s, nil, base)

	if err := s.ReleaseJob(ctx, r.ID); err != nil {
		t.Fatalf("ReleaseJob: %v", err)
	}
	got, err := s.GetJob(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ReservedAt != nil || got.Attempts != 0 {
		t.Errorf("after release: ReservedAt = %v, Attempts = %d", got.ReservedAt, got.Attempts)
	}
	if again := claim(t, s, nil, base); again.ID != r.ID {
		t.Errorf("released record not claimable again")
	}

	if err := s.ReleaseJob(ctx, id.NewJobID()); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("ReleaseJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func testRequeue(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := NewRecord(t, "default", base)
	enqueue(t, s, r)
	claim(t, s, nil, base)

	retryAt := base.Add(30 * time.Second)
	if err := s.RequeueJob(ctx, r.ID, retryAt, "boom"); err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}
	got, err := s.GetJob(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Attempts != 1 || got.ReservedAt != nil || !got.AvailableAt.Equal(retryAt) || got.LastError != "boom" {
		t.Errorf("after requeue: %+v", got)
	}
	if _, err := s.ClaimNext(ctx, nil, base.Add(time.Second)); !errors.Is(err, conveyor.ErrNoJobAvailable) {
		t.Errorf("requeued record claimable before its time: %v", err)
	}
	claim(t, s, nil, retryAt)

	if err := s.RequeueJob(ctx, id.NewJobID(), retryAt, ""); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("RequeueJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := NewRecord(t, "default", base)
	enqueue(t, s, r)

	if err := s.DeleteJob(ctx, r.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, r.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("GetJob after delete = %v, want ErrJobNotFound", err)
	}
	if err := s.DeleteJob(ctx, r.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("second DeleteJob = %v, want ErrJobNotFound", err)
	}
}

func testReapStalled(t *testing.T, s store.Store) {
	ctx := context.Background()
	stuck := NewRecord(t, "default", base)
	fresh := NewRecord(t, "default", base.Add(time.Millisecond))
	enqueue(t, s, stuck, fresh)

	// The first claimant dies right after claiming.
	claim(t, s, nil, base)
	claim(t, s, nil, base.Add(10*time.Minute))

	now := base.Add(12 * time.Minute)
	released, exhausted, err := s.ReapStalled(ctx, now.Add(-5*time.Minute), now, 3)
	if err != nil {
		t.Fatalf("ReapStalled: %v", err)
	}
	if len(released) != 1 || released[0].ID != stuck.ID {
		t.Fatalf("released = %v, want only %s", released, stuck.ID)
	}
	if len(exhausted) != 0 {
		t.Fatalf("exhausted = %v, want none", exhausted)
	}

	got := claim(t, s, nil, now)
	if got.ID != stuck.ID {
		t.Fatalf("claimed %s after reap, want %s", got.ID, stuck.ID)
	}
	if got.Attempts != 0 || got.Stalls != 1 {
		t.Errorf("Attempts = %d, Stalls = %d, want 0 and 1", got.Attempts, got.Stalls)
	}
}

func testReapExhausted(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := NewRecord(t, "default", base)
	enqueue(t, s, r)

	now := base
	for round := 1; round <= 2; round++ {
		claim(t, s, nil, now)
		now = now.Add(10 * time.Minute)
		released, exhausted, err := s.ReapStalled(ctx, now.Add(-5*time.Minute), now, 1)
		if err != nil {
			t.Fatalf("ReapStalled: %v", err)
		}
		if round == 1 && (len(released) != 1 || len(exhausted) != 0) {
			t.Fatalf("round 1: released %d, exhausted %d", len(released), len(exhausted))
		}
		if round == 2 {
			if len(released) != 0 || len(exhausted) != 1 {
				t.Fatalf("round 2: released %d, exhausted %d", len(released), len(exhausted))
			}
			if exhausted[0].Stalls != 2 {
				t.Errorf("Stalls = %d, want 2", exhausted[0].Stalls)
			}
		}
	}

	// The exhausted record stays reserved so no worker picks it up while
	// the caller dead-letters it.
	got, err := s.GetJob(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ReservedAt == nil || !got.ReservedAt.Equal(now) {
		t.Errorf("ReservedAt = %v, want %v", got.ReservedAt, now)
	}
}

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base.Add(time.Minute)

	pending1 := NewRecord(t, "a", base)
	pending2 := NewRecord(t, "b", base.Add(time.Second))
	delayed := NewRecord(t, "a", now.Add(time.Hour))
	reserved := NewRecord(t, "a", base.Add(-time.Second))
	enqueue(t, s, pending1, pending2, delayed, reserved)
	if got := claim(t, s, []string{"a"}, now); got.ID != reserved.ID {
		t.Fatalf("claimed %s, want %s", got.ID, reserved.ID)
	}

	counts, err := s.CountJobs(ctx, job.CountOpts{Now: now})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if counts != (job.Counts{Pending: 2, Delayed: 1, Reserved: 1}) {
		t.Errorf("CountJobs = %+v", counts)
	}
	counts, err = s.CountJobs(ctx, job.CountOpts{Queue: "b", Now: now})
	if err != nil {
		t.Fatalf("CountJobs(b): %v", err)
	}
	if counts != (job.Counts{Pending: 1}) {
		t.Errorf("CountJobs(b) = %+v", counts)
	}

	all, err := s.ListJobs(ctx, job.ListOpts{Now: now})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 4 || all[0].ID != reserved.ID || all[3].ID != delayed.ID {
		t.Errorf("ListJobs order wrong: %v", ids(all))
	}

	pending, err := s.ListJobs(ctx, job.ListOpts{Status: job.StatusPending, Now: now})
	if err != nil {
		t.Fatalf("ListJobs(pending): %v", err)
	}
	if len(pending) != 2 || pending[0].ID != pending1.ID {
		t.Errorf("ListJobs(pending) = %v", ids(pending))
	}

	page, err := s.ListJobs(ctx, job.ListOpts{Queue: "a", Now: now, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListJobs(page): %v", err)
	}
	if len(page) != 1 || page[0].ID != pending1.ID {
		t.Errorf("ListJobs(page) = %v", ids(page))
	}
}

func testFailedJobs(t *testing.T, s store.Store) {
	ctx := context.Background()

	push := func(queue string, at time.Time) *dlq.Entry {
		e := &dlq.Entry{
			ID:            id.NewFailedJobID(),
			OriginalJobID: id.NewJobID(),
			JobName:       "storetest.job",
			Queue:         queue,
			Payload:       []byte(`{"n":1}`),
			Exception:     "boom",
			Attempts:      3,
			MaxAttempts:   3,
			FailedAt:      at,
		}
		if err := s.PushFailed(ctx, e); err != nil {
			t.Fatalf("PushFailed: %v", err)
		}
		return e
	}
	first := push("a", base)
	second := push("b", base.Add(time.Second))
	third := push("a", base.Add(2*time.Second))

	got, err := s.GetFailed(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetFailed: %v", err)
	}
	if got.OriginalJobID != second.OriginalJobID || got.Exception != "boom" || got.Attempts != 3 ||
		!got.FailedAt.Equal(second.FailedAt) || string(got.Payload) != `{"n":1}` {
		t.Errorf("GetFailed = %+v", got)
	}
	if _, err := s.GetFailed(ctx, id.NewFailedJobID()); !errors.Is(err, conveyor.ErrFailedJobNotFound) {
		t.Errorf("GetFailed(missing) = %v, want ErrFailedJobNotFound", err)
	}

	list, err := s.ListFailed(ctx, dlq.ListOpts{Queue: "a"})
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != third.ID {
		t.Errorf("ListFailed(a) wrong")
	}

	if n, err := s.CountFailed(ctx, ""); err != nil || n != 3 {
		t.Errorf("CountFailed = %d, %v; want 3", n, err)
	}
	if n, err := s.CountFailed(ctx, "b"); err != nil || n != 1 {
		t.Errorf("CountFailed(b) = %d, %v; want 1", n, err)
	}

	if err := s.DeleteFailed(ctx, second.ID); err != nil {
		t.Fatalf("DeleteFailed: %v", err)
	}
	if err := s.DeleteFailed(ctx, second.ID); !errors.Is(err, conveyor.ErrFailedJobNotFound) {
		t.Errorf("second DeleteFailed = %v, want ErrFailedJobNotFound", err)
	}

	n, err := s.PurgeFailed(ctx, "a")
	if err != nil {
		t.Fatalf("PurgeFailed: %v", err)
	}
	if n != 2 {
		t.Errorf("PurgeFailed = %d, want 2", n)
	}
	if n, _ := s.CountFailed(ctx, ""); n != 0 {
		t.Errorf("CountFailed after purge = %d", n)
	}
}

func testLedger(t *testing.T, s store.Store) {
	ctx := context.Background()

	empty, err := s.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("fresh ledger has %d entries", len(empty))
	}

	in := []schedule.Entry{
		{JobName: "zeta", Rate: schedule.EveryMinute, Path: "jobs/zeta", Times: []time.Time{base, base.Add(time.Minute)}},
		{JobName: "alpha", Rate: schedule.EveryFiveMinutes, Times: []time.Time{base.Add(5 * time.Minute)}},
	}
	if err := s.SaveLedger(ctx, in); err != nil {
		t.Fatalf("SaveLedger: %v", err)
	}
	out, err := s.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(out) != 2 || out[0].JobName != "alpha" || out[1].JobName != "zeta" {
		t.Fatalf("LoadLedger = %+v", out)
	}
	if out[1].Rate != schedule.EveryMinute || out[1].Path != "jobs/zeta" || len(out[1].Times) != 2 ||
		!out[1].Times[1].Equal(base.Add(time.Minute)) {
		t.Errorf("zeta = %+v", out[1])
	}

	// A save replaces the whole snapshot.
	if err := s.SaveLedger(ctx, in[1:]); err != nil {
		t.Fatalf("SaveLedger: %v", err)
	}
	out, err = s.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(out) != 1 || out[0].JobName != "alpha" {
		t.Errorf("LoadLedger after replace = %+v", out)
	}
}

func ids(rs []*job.Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID.String()
	}
	return out
}
