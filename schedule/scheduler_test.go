package schedule_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/schedule"
)

// callSpy counts handler invocations.
type callSpy struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *callSpy) Handler(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *callSpy) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// stubEmitter records EmitScheduleExecuted calls.
type stubEmitter struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (e *stubEmitter) EmitScheduleExecuted(_ context.Context, name string, _ time.Time, _ time.Duration, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
	e.errs = append(e.errs, err)
}

func (e *stubEmitter) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.names)
}

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newFileLedger(t *testing.T) *schedule.FileLedger {
	t.Helper()
	return schedule.NewFileLedger(filepath.Join(t.TempDir(), "ledger.json"), nil)
}

func loadEntry(t *testing.T, l schedule.Ledger, name string) schedule.Entry {
	t.Helper()
	entries, err := l.LoadLedger(context.Background())
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	for _, e := range entries {
		if e.JobName == name {
			return e
		}
	}
	t.Fatalf("ledger has no entry for %q", name)
	return schedule.Entry{}
}

func TestTick_FiveMinuteLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger := newFileLedger(t)
	spy := &callSpy{}
	provider := schedule.StaticProvider{
		{Name: "digest", Rate: "Every.FiveMinutes", Path: "jobs/digest", Handler: spy.Handler},
	}
	s := schedule.NewScheduler(ledger, provider, nil, nil,
		schedule.WithThreshold(3), schedule.WithRegenerationCount(10))

	// First tick on an empty ledger plans ten runs, five minutes apart.
	if err := s.Tick(ctx, t0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	e := loadEntry(t, ledger, "digest")
	if len(e.Times) != 10 {
		t.Fatalf("expected 10 times, got %d", len(e.Times))
	}
	for i, at := range e.Times {
		want := t0.Add(time.Duration(i+1) * 5 * time.Minute)
		if !at.Equal(want) {
			t.Errorf("times[%d] = %v, want %v", i, at, want)
		}
	}
	if e.Path != "jobs/digest" || e.Rate != schedule.EveryFiveMinutes {
		t.Errorf("entry = %+v", e)
	}
	if spy.Count() != 0 {
		t.Fatalf("no run was due, got %d calls", spy.Count())
	}

	// Tick exactly at the first time: one call, nine left, no regeneration.
	first := e.Times[0]
	if err := s.Tick(ctx, first); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if spy.Count() != 1 {
		t.Fatalf("expected 1 call, got %d", spy.Count())
	}
	e = loadEntry(t, ledger, "digest")
	if len(e.Times) != 9 {
		t.Fatalf("expected 9 times, got %d", len(e.Times))
	}

	// Drain down to two remaining: regeneration appends ten more.
	last := e.Times[len(e.Times)-1]
	drainTo := e.Times[6]
	if err := s.Tick(ctx, drainTo); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if spy.Count() != 8 {
		t.Fatalf("expected 8 calls, got %d", spy.Count())
	}
	e = loadEntry(t, ledger, "digest")
	if len(e.Times) != 12 {
		t.Fatalf("expected 12 times, got %d", len(e.Times))
	}
	if !e.Times[1].Equal(last) {
		t.Errorf("times[1] = %v, want previous last %v", e.Times[1], last)
	}
	if !e.Times[2].Equal(last.Add(5 * time.Minute)) {
		t.Errorf("regeneration should continue from the last time, got %v", e.Times[2])
	}
	for i := 1; i < len(e.Times); i++ {
		if !e.Times[i].After(e.Times[i-1]) {
			t.Fatalf("times not ascending at %d: %v", i, e.Times)
		}
	}
}

func TestTick_NeverEmpties(t *testing.T) {
	ctx := context.Background()
	ledger := newFileLedger(t)
	spy := &callSpy{}
	s := schedule.NewScheduler(ledger, schedule.StaticProvider{
		{Name: "heartbeat", Rate: "Every.Minute", Handler: spy.Handler},
	}, nil, nil)

	now := t0
	for range 40 {
		if err := s.Tick(ctx, now); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if e := loadEntry(t, ledger, "heartbeat"); len(e.Times) < 3 {
			t.Fatalf("entry fell below threshold at %v: %d times", now, len(e.Times))
		}
		now = now.Add(7 * time.Minute)
	}
}

func TestTick_CatchUpAfterLongGap(t *testing.T) {
	ctx := context.Background()
	ledger := newFileLedger(t)
	spy := &callSpy{}
	s := schedule.NewScheduler(ledger, schedule.StaticProvider{
		{Name: "sync", Rate: "Every.Minute", Handler: spy.Handler},
	}, nil, nil)

	if err := s.Tick(ctx, t0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	later := t0.Add(24 * time.Hour)
	if err := s.Tick(ctx, later); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if spy.Count() != 10 {
		t.Errorf("expected every planned time to run once, got %d", spy.Count())
	}
	e := loadEntry(t, ledger, "sync")
	if len(e.Times) != 10 {
		t.Fatalf("expected 10 fresh times, got %d", len(e.Times))
	}
	if !e.Times[0].After(later) {
		t.Errorf("fresh times should start after now, got %v", e.Times[0])
	}
}

func TestTick_NoOpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := newFileLedger(t)
	spy := &callSpy{}
	s := schedule.NewScheduler(ledger, schedule.StaticProvider{
		{Name: "a", Rate: "Every.TenMinutes", Handler: spy.Handler},
		{Name: "b", Rate: "Every.FifteenMinutes", Handler: spy.Handler},
	}, nil, nil)

	if err := s.Tick(ctx, t0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	before, err := os.ReadFile(ledger.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if err := s.Tick(ctx, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	after, err := os.ReadFile(ledger.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("no-op tick changed the ledger:\n%s\n---\n%s", before, after)
	}
	if spy.Count() != 0 {
		t.Errorf("expected no calls, got %d", spy.Count())
	}
}

func TestTick_CorruptLedgerStartsFresh(t *testing.T) {
	ctx := context.Background()
	ledger := newFileLedger(t)
	if err := os.WriteFile(ledger.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s := schedule.NewScheduler(ledger, schedule.StaticProvider{
		{Name: "a", Rate: "Every.Minute", Handler: func(context.Context) error { return nil }},
	}, nil, nil)

	if err := s.Tick(ctx, t0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if e := loadEntry(t, ledger, "a"); len(e.Times) != 10 {
		t.Errorf("expected 10 times, got %d", len(e.Times))
	}
}

func TestTick_InvalidRateReported(t *testing.T) {
	ctx := context.Background()
	ledger := newFileLedger(t)
	spy := &callSpy{}
	s := schedule.NewScheduler(ledger, schedule.StaticProvider{
		{Name: "bad", Rate: "Every.SevenMinutes", Handler: spy.Handler},
		{Name: "good", Rate: "Every.TwoMinutes", Handler: spy.Handler},
		{Name: "one-off", Handler: spy.Handler},
	}, nil, nil)

	err := s.Tick(ctx, t0)
	if !errors.Is(err, conveyor.ErrInvalidRate) {
		t.Fatalf("Tick error = %v, want ErrInvalidRate", err)
	}

	entries, lerr := ledger.LoadLedger(ctx)
	if lerr != nil {
		t.Fatalf("LoadLedger: %v", lerr)
	}
	if len(entries) != 1 || entries[0].JobName != "good" {
		t.Fatalf("expected only the valid job in the ledger, got %+v", entries)
	}
}

func TestTick_HandlerFailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	ledger := newFileLedger(t)
	good := &callSpy{}
	emitter := &stubEmitter{}
	s := schedule.NewScheduler(ledger, schedule.StaticProvider{
		{Name: "explodes", Rate: "Every.Minute", Handler: func(context.Context) error { panic("boom") }},
		{Name: "fails", Rate: "Every.Minute", Handler: func(context.Context) error { return errors.New("nope") }},
		{Name: "works", Rate: "Every.Minute", Handler: good.Handler},
	}, emitter, nil)

	if err := s.Tick(ctx, t0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if err := s.Tick(ctx, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if good.Count() != 1 {
		t.Errorf("expected the healthy job to run once, got %d", good.Count())
	}
	if emitter.Count() != 3 {
		t.Errorf("expected 3 executions emitted, got %d", emitter.Count())
	}

	status, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, st := range status {
		if st.LastRun == nil {
			t.Errorf("%s: expected LastRun", st.JobName)
		}
		if st.JobName != "works" && st.LastError == "" {
			t.Errorf("%s: expected LastError", st.JobName)
		}
	}
}

func TestTick_OrphansKeptUnlessPruned(t *testing.T) {
	ctx := context.Background()
	ledger := newFileLedger(t)
	reg := schedule.NewRegistry()
	spy := &callSpy{}
	reg.Register(schedule.Definition{Name: "gone", Rate: "Every.Minute", Handler: spy.Handler})

	s := schedule.NewScheduler(ledger, reg, nil, nil)
	if err := s.Tick(ctx, t0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	reg.Unregister("gone")

	if err := s.Tick(ctx, t0.Add(5*time.Minute)); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if spy.Count() != 0 {
		t.Errorf("orphaned entry must not run, got %d calls", spy.Count())
	}
	if e := loadEntry(t, ledger, "gone"); len(e.Times) != 10 {
		t.Errorf("orphaned entry should be untouched, got %d times", len(e.Times))
	}

	status, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status) != 1 || !status[0].Orphaned {
		t.Errorf("status = %+v, want one orphaned entry", status)
	}

	pruning := schedule.NewScheduler(ledger, reg, nil, nil, schedule.WithPruneOrphans())
	if err := pruning.Tick(ctx, t0.Add(5*time.Minute)); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	entries, err := ledger.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected pruned ledger, got %d entries", len(entries))
	}
}

func TestTrigger(t *testing.T) {
	ctx := context.Background()
	ledger := newFileLedger(t)
	spy := &callSpy{}
	s := schedule.NewScheduler(ledger, schedule.StaticProvider{
		{Name: "manual", Rate: "Every.ThirtyMinutes", Handler: spy.Handler},
	}, nil, nil)

	if err := s.Trigger(ctx, "manual"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if spy.Count() != 1 {
		t.Errorf("expected 1 call, got %d", spy.Count())
	}
	if _, err := os.Stat(ledger.Path()); !os.IsNotExist(err) {
		t.Error("Trigger should not write the ledger")
	}

	if err := s.Trigger(ctx, "missing"); !errors.Is(err, conveyor.ErrScheduleNotFound) {
		t.Errorf("Trigger(missing) = %v, want ErrScheduleNotFound", err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	ledger := newFileLedger(t)
	spy := &callSpy{}
	s := schedule.NewScheduler(ledger, schedule.StaticProvider{
		{Name: "loop", Rate: "Every.Minute", Handler: spy.Handler},
	}, nil, nil, schedule.WithTickInterval(10*time.Millisecond))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(ledger.Path()); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if e := loadEntry(t, ledger, "loop"); len(e.Times) == 0 {
		t.Error("expected the first tick to plan runs")
	}
}

// sliceLedger keeps the saved snapshot as given, duplicates included.
type sliceLedger struct {
	mu      sync.Mutex
	entries []schedule.Entry
}

func (l *sliceLedger) LoadLedger(context.Context) ([]schedule.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schedule.Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out, nil
}

func (l *sliceLedger) SaveLedger(_ context.Context, entries []schedule.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
	return nil
}

func TestTick_DuplicateEntriesRunOnce(t *testing.T) {
	ctx := context.Background()
	ledger := &sliceLedger{entries: []schedule.Entry{
		{JobName: "a", Rate: schedule.EveryFiveMinutes, Times: []time.Time{t0}},
		{JobName: "a", Rate: schedule.EveryFiveMinutes, Times: []time.Time{t0, t0.Add(5 * time.Minute)}},
	}}
	spy := &callSpy{}
	s := schedule.NewScheduler(ledger, schedule.StaticProvider{
		{Name: "a", Rate: "Every.FiveMinutes", Handler: spy.Handler},
	}, nil, nil)

	if err := s.Tick(ctx, t0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if spy.Count() != 1 {
		t.Errorf("handler calls = %d, want 1", spy.Count())
	}

	entries, _ := ledger.LoadLedger(ctx)
	if len(entries) != 1 {
		t.Fatalf("entries after tick = %d, want 1", len(entries))
	}
	if first, _ := entries[0].Next(); !first.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("next run = %v, want %v", first, t0.Add(5*time.Minute))
	}
}

func TestScheduler_StopTwiceAndRestart(t *testing.T) {
	ledger := newFileLedger(t)
	spy := &callSpy{}
	s := schedule.NewScheduler(ledger, schedule.StaticProvider{
		{Name: "loop", Rate: "Every.Minute", Handler: spy.Handler},
	}, nil, nil, schedule.WithTickInterval(10*time.Millisecond))

	ctx := context.Background()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}

	for round := range 2 {
		if err := s.Start(ctx); err != nil {
			t.Fatalf("round %d: Start: %v", round, err)
		}
		if err := s.Start(ctx); err != nil {
			t.Fatalf("round %d: second Start: %v", round, err)
		}
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("round %d: Stop: %v", round, err)
		}
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("round %d: second Stop: %v", round, err)
		}
	}
}
