package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/worker"
)

// far is a claim instant safely after any availability the executor can
// compute during a test.
func far() time.Time { return time.Now().UTC().Add(24 * time.Hour) }

type recorder struct {
	mu           sync.Mutex
	succeeded    int
	retrying     []int
	deadLettered int
	released     int
	reaped       []bool
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnJobSucceeded(_ context.Context, _ *job.Record, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded++
	return nil
}

func (r *recorder) OnJobRetrying(_ context.Context, _ *job.Record, attempt int, _ time.Time, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrying = append(r.retrying, attempt)
	return nil
}

func (r *recorder) OnJobDeadLettered(_ context.Context, _ *job.Record, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLettered++
	return nil
}

func (r *recorder) OnJobReleased(_ context.Context, _ *job.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released++
	return nil
}

func (r *recorder) OnJobReaped(_ context.Context, _ *job.Record, exhausted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reaped = append(r.reaped, exhausted)
	return nil
}

type harness struct {
	store    *memory.Store
	registry *job.Registry
	exec     *worker.Executor
	dlq      *dlq.Service
	events   *recorder
}

func newHarness(t *testing.T, strategy backoff.Strategy) *harness {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	rec := &recorder{}
	extensions := ext.NewRegistry(logger)
	extensions.Register(rec)
	dlqSvc := dlq.NewService(s, s)

	exec := worker.NewExecutor(reg, extensions, s, dlqSvc, backoff.NewPolicy(strategy), logger,
		middleware.Recover(logger),
	)
	return &harness{store: s, registry: reg, exec: exec, dlq: dlqSvc, events: rec}
}

func (h *harness) enqueue(t *testing.T, name string, opts ...job.Option) *job.Record {
	t.Helper()
	r, err := job.New(name, nil, time.Now().UTC(), opts...)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	if err := h.store.EnqueueJob(context.Background(), r); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return r
}

func (h *harness) claim(t *testing.T) *job.Record {
	t.Helper()
	r, err := h.store.ClaimNext(context.Background(), nil, far())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	return r
}

func TestExecutor_Success(t *testing.T) {
	h := newHarness(t, backoff.NewFixed(time.Second))
	var calls int
	h.registry.Register("greet", func(_ context.Context, _ []byte) error {
		calls++
		return nil
	})
	r := h.enqueue(t, "greet")

	outcome, err := h.exec.Execute(context.Background(), h.claim(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != worker.Succeeded {
		t.Fatalf("outcome = %v, want succeeded", outcome)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if _, err := h.store.GetJob(context.Background(), r.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("GetJob after success: %v, want ErrJobNotFound", err)
	}
	if h.events.succeeded != 1 {
		t.Errorf("succeeded events = %d, want 1", h.events.succeeded)
	}
}

// A handler that always fails with max_attempts 3 is gone from the job
// store after three cycles and present once in the failed store.
func TestExecutor_DeadLetterAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, backoff.NewFixed(time.Second))
	h.registry.Register("flaky", func(_ context.Context, _ []byte) error {
		return errors.New("boom")
	})
	r := h.enqueue(t, "flaky", job.WithMaxAttempts(3))

	want := []worker.Outcome{worker.Retrying, worker.Retrying, worker.DeadLettered}
	for i, w := range want {
		outcome, err := h.exec.Execute(context.Background(), h.claim(t))
		if err != nil {
			t.Fatalf("cycle %d: Execute: %v", i+1, err)
		}
		if outcome != w {
			t.Fatalf("cycle %d: outcome = %v, want %v", i+1, outcome, w)
		}
	}

	if _, err := h.store.GetJob(context.Background(), r.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("GetJob: %v, want ErrJobNotFound", err)
	}
	entries, err := h.store.ListFailed(context.Background(), dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("failed entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.OriginalJobID.String() != r.ID.String() {
		t.Errorf("OriginalJobID = %s, want %s", e.OriginalJobID, r.ID)
	}
	if e.Exception != "boom" {
		t.Errorf("Exception = %q, want %q", e.Exception, "boom")
	}
	if e.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", e.Attempts)
	}
	if got := h.events.retrying; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("retrying attempts = %v, want [1 2]", got)
	}
	if h.events.deadLettered != 1 {
		t.Errorf("dead-letter events = %d, want 1", h.events.deadLettered)
	}
}

func TestExecutor_RetryMonotonic(t *testing.T) {
	h := newHarness(t, backoff.NewLinear(time.Second, time.Minute))
	h.registry.Register("flaky", func(_ context.Context, _ []byte) error {
		return errors.New("again")
	})
	r := h.enqueue(t, "flaky", job.WithMaxAttempts(5))

	prev, err := h.store.GetJob(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	for range 4 {
		if _, err := h.exec.Execute(context.Background(), h.claim(t)); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		cur, err := h.store.GetJob(context.Background(), r.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if cur.Attempts <= prev.Attempts {
			t.Fatalf("attempts %d did not increase from %d", cur.Attempts, prev.Attempts)
		}
		if !cur.AvailableAt.After(prev.AvailableAt) {
			t.Fatalf("available_at %v did not increase from %v", cur.AvailableAt, prev.AvailableAt)
		}
		if cur.ReservedAt != nil {
			t.Fatal("requeued record is still reserved")
		}
		if cur.LastError != "again" {
			t.Errorf("LastError = %q, want %q", cur.LastError, "again")
		}
		prev = cur
	}

	// The fifth failure exhausts the budget; the record is never
	// claimable again.
	outcome, err := h.exec.Execute(context.Background(), h.claim(t))
	if err != nil || outcome != worker.DeadLettered {
		t.Fatalf("final Execute = %v, %v; want dead_lettered", outcome, err)
	}
	if _, err := h.store.ClaimNext(context.Background(), nil, far()); !errors.Is(err, conveyor.ErrNoJobAvailable) {
		t.Fatalf("ClaimNext after dead-letter: %v, want ErrNoJobAvailable", err)
	}
}

func TestExecutor_NonRetryable(t *testing.T) {
	h := newHarness(t, backoff.NewFixed(time.Second))
	h.registry.Register("fatal", func(_ context.Context, _ []byte) error {
		return job.NonRetryable(errors.New("bad input"))
	})
	h.enqueue(t, "fatal", job.WithMaxAttempts(10))

	outcome, err := h.exec.Execute(context.Background(), h.claim(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != worker.DeadLettered {
		t.Fatalf("outcome = %v, want dead_lettered", outcome)
	}
	n, _ := h.store.CountFailed(context.Background(), "")
	if n != 1 {
		t.Errorf("failed count = %d, want 1", n)
	}
}

func TestExecutor_UnknownHandler(t *testing.T) {
	h := newHarness(t, backoff.NewFixed(time.Second))
	h.enqueue(t, "missing")

	outcome, err := h.exec.Execute(context.Background(), h.claim(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != worker.DeadLettered {
		t.Fatalf("outcome = %v, want dead_lettered", outcome)
	}
	entries, _ := h.store.ListFailed(context.Background(), dlq.ListOpts{})
	if len(entries) != 1 || !strings.Contains(entries[0].Exception, "no handler registered") {
		t.Fatalf("entries = %+v, want one handler-not-found entry", entries)
	}
}

func TestExecutor_CorruptPayload(t *testing.T) {
	h := newHarness(t, backoff.NewFixed(time.Second))
	now := time.Now().UTC()
	r := &job.Record{
		ID:          id.NewJobID(),
		Queue:       job.DefaultQueue,
		Payload:     []byte(`not json`),
		MaxAttempts: 3,
		AvailableAt: now,
		CreatedAt:   now,
	}
	if err := h.store.EnqueueJob(context.Background(), r); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	outcome, err := h.exec.Execute(context.Background(), h.claim(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != worker.DeadLettered {
		t.Fatalf("outcome = %v, want dead_lettered", outcome)
	}
}

func TestExecutor_PanicIsRetried(t *testing.T) {
	h := newHarness(t, backoff.NewFixed(time.Second))
	h.registry.Register("panics", func(_ context.Context, _ []byte) error {
		panic("kaboom")
	})
	r := h.enqueue(t, "panics")

	outcome, err := h.exec.Execute(context.Background(), h.claim(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != worker.Retrying {
		t.Fatalf("outcome = %v, want retrying", outcome)
	}
	got, _ := h.store.GetJob(context.Background(), r.ID)
	if !strings.Contains(got.LastError, "kaboom") {
		t.Errorf("LastError = %q, want panic text", got.LastError)
	}
}

func TestExecutor_ShutdownReleases(t *testing.T) {
	h := newHarness(t, backoff.NewFixed(time.Second))
	h.registry.Register("slow", func(ctx context.Context, _ []byte) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r := h.enqueue(t, "slow")

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(worker.ErrShutdown)

	outcome, err := h.exec.Execute(ctx, h.claim(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != worker.Released {
		t.Fatalf("outcome = %v, want released", outcome)
	}
	got, err := h.store.GetJob(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Attempts != 0 || got.ReservedAt != nil {
		t.Errorf("released record = attempts %d reserved %v, want 0 and nil", got.Attempts, got.ReservedAt)
	}
	if h.events.released != 1 {
		t.Errorf("released events = %d, want 1", h.events.released)
	}
}

func TestOutcome_String(t *testing.T) {
	tests := map[worker.Outcome]string{
		worker.Succeeded:    "succeeded",
		worker.Retrying:     "retrying",
		worker.DeadLettered: "dead_lettered",
		worker.Released:     "released",
		worker.Outcome(42):  "outcome(42)",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(o), got, want)
		}
	}
}
