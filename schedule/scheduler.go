package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conveyor"
)

// Emitter receives recurring job lifecycle events.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitScheduleExecuted(ctx context.Context, jobName string, at time.Time, elapsed time.Duration, err error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets the timer period of the tick loop.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithThreshold sets the minimum number of upcoming times kept per job.
func WithThreshold(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithRegenerationCount sets how many times are appended per regeneration.
func WithRegenerationCount(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.regenerationCount = n
		}
	}
}

// WithPruneOrphans drops ledger entries whose definition no longer
// exists. Without it such entries are kept as they are and never run.
func WithPruneOrphans() Option {
	return func(s *Scheduler) { s.pruneOrphans = true }
}

// WithClock replaces time.Now for the tick loop.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// EntryStatus reports the state of one ledger entry.
type EntryStatus struct {
	JobName   string     `json:"job_name"`
	Rate      Rate       `json:"rate"`
	Path      string     `json:"path,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	Upcoming  int        `json:"upcoming"`
	Orphaned  bool       `json:"orphaned"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type lastRun struct {
	at  time.Time
	err string
}

// Scheduler executes recurring jobs from a Ledger on a timer. Ticks are
// serialized; only one Scheduler should run against a given ledger.
type Scheduler struct {
	ledger   Ledger
	provider Provider
	emitter  Emitter
	logger   *slog.Logger
	now      func() time.Time

	tickInterval      time.Duration
	threshold         int
	regenerationCount int
	pruneOrphans      bool

	mu sync.Mutex // serializes ticks

	runsMu sync.Mutex
	runs   map[string]lastRun

	stateMu sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler. emitter may be nil.
func NewScheduler(ledger Ledger, provider Provider, emitter Emitter, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		ledger:            ledger,
		provider:          provider,
		emitter:           emitter,
		logger:            logger,
		now:               time.Now,
		tickInterval:      time.Minute,
		threshold:         3,
		regenerationCount: 10,
		runs:              make(map[string]lastRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start ticks once immediately and then every tick interval until Stop.
// Starting a running Scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(1)
	go s.tickLoop(runCtx, s.stopCh)

	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("threshold", s.threshold),
		slog.Int("regeneration_count", s.regenerationCount),
	)
	return nil
}

// Stop ends the tick loop. A tick in progress finishes unless ctx
// expires first, in which case its handler context is cancelled.
// Stopping a Scheduler that is not running is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
	s.cancel()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if err := s.Tick(ctx, s.now()); err != nil {
		s.logger.Error("schedule tick error", slog.String("error", err.Error()))
	}
}

type activeDef struct {
	def  Definition
	rate Rate
}

// Tick runs one pass over the ledger at now: it executes every due run
// time, drops those times, tops up entries that fell below the threshold,
// and saves the ledger. Invalid definitions are reported in the returned
// error after the valid ones have been processed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.UTC()

	entries, err := s.ledger.LoadLedger(ctx)
	if err != nil {
		if !errors.Is(err, conveyor.ErrLedgerCorrupt) {
			return fmt.Errorf("schedule: load ledger: %w", err)
		}
		s.logger.Warn("schedule ledger unreadable, starting empty", slog.String("error", err.Error()))
		entries = nil
	}
	entries = mergeDuplicates(entries)

	active, errs, err := s.discover(ctx)
	if err != nil {
		return err
	}

	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.JobName] = i
	}
	for _, name := range sortedNames(active) {
		a := active[name]
		if i, ok := index[name]; ok {
			entries[i].Rate = a.rate
			entries[i].Path = a.def.Path
			continue
		}
		entries = append(entries, Entry{
			JobName: name,
			Rate:    a.rate,
			Path:    a.def.Path,
			Times:   generate(a.rate, now, s.regenerationCount),
		})
		s.logger.Info("scheduled job added to ledger",
			slog.String("job", name),
			slog.String("rate", a.rate.String()),
		)
	}

	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		a, ok := active[e.JobName]
		if !ok {
			if s.pruneOrphans {
				s.logger.Info("orphaned ledger entry pruned", slog.String("job", e.JobName))
				continue
			}
			kept = append(kept, e)
			continue
		}

		due, future := split(e.Times, now)
		for _, at := range due {
			s.execute(ctx, a.def, at) //nolint:errcheck // logged and emitted
		}

		e.Times = future
		if len(future) < s.threshold {
			from := now
			if len(future) > 0 {
				from = future[len(future)-1]
			}
			e.Times = append(e.Times, generate(e.Rate, from, s.regenerationCount)...)
		}
		kept = append(kept, e)
	}

	if err := s.ledger.SaveLedger(ctx, kept); err != nil {
		errs = append(errs, fmt.Errorf("schedule: save ledger: %w", err))
	}
	return errors.Join(errs...)
}

// discover loads definitions and validates their rates. Configuration
// errors are returned in errs; err is set only when the provider fails.
func (s *Scheduler) discover(ctx context.Context) (active map[string]activeDef, errs []error, err error) {
	defs, err := s.provider.Definitions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule: discover definitions: %w", err)
	}

	active = make(map[string]activeDef, len(defs))
	for _, d := range defs {
		if d.Rate == "" {
			continue
		}
		rate, perr := ParseRate(d.Rate)
		if perr != nil {
			errs = append(errs, fmt.Errorf("schedule: job %q: %w", d.Name, perr))
			continue
		}
		if d.Handler == nil {
			errs = append(errs, fmt.Errorf("schedule: job %q: %w", d.Name, conveyor.ErrHandlerNotFound))
			continue
		}
		active[d.Name] = activeDef{def: d, rate: rate}
	}
	return active, errs, nil
}

// execute runs one occurrence. Panics are recovered and reported as errors.
func (s *Scheduler) execute(ctx context.Context, def Definition, at time.Time) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scheduled job %q: %v", def.Name, r)
		}
		elapsed := time.Since(start)
		s.recordRun(def.Name, at, err)
		if s.emitter != nil {
			s.emitter.EmitScheduleExecuted(ctx, def.Name, at, elapsed, err)
		}
		if err != nil {
			s.logger.Error("scheduled job failed",
				slog.String("job", def.Name),
				slog.Time("scheduled_at", at),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Info("scheduled job executed",
			slog.String("job", def.Name),
			slog.Time("scheduled_at", at),
			slog.Duration("elapsed", elapsed),
		)
	}()
	return def.Handler(ctx)
}

func (s *Scheduler) recordRun(name string, at time.Time, err error) {
	r := lastRun{at: at}
	if err != nil {
		r.err = err.Error()
	}
	s.runsMu.Lock()
	s.runs[name] = r
	s.runsMu.Unlock()
}

// Trigger runs the named job's handler now, outside the ledger.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	defs, err := s.provider.Definitions(ctx)
	if err != nil {
		return fmt.Errorf("schedule: discover definitions: %w", err)
	}
	for _, d := range defs {
		if d.Name != name || d.Handler == nil {
			continue
		}
		return s.execute(ctx, d, s.now().UTC())
	}
	return fmt.Errorf("%w: %q", conveyor.ErrScheduleNotFound, name)
}

// Status reports every ledger entry with its next run time.
func (s *Scheduler) Status(ctx context.Context) ([]EntryStatus, error) {
	entries, err := s.ledger.LoadLedger(ctx)
	if err != nil && !errors.Is(err, conveyor.ErrLedgerCorrupt) {
		return nil, fmt.Errorf("schedule: load ledger: %w", err)
	}
	active, _, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}

	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	out := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		st := EntryStatus{
			JobName:  e.JobName,
			Rate:     e.Rate,
			Path:     e.Path,
			Upcoming: len(e.Times),
		}
		if next, ok := e.Next(); ok {
			st.NextRun = &next
		}
		if _, ok := active[e.JobName]; !ok {
			st.Orphaned = true
		}
		if r, ok := s.runs[e.JobName]; ok {
			at := r.at
			st.LastRun = &at
			st.LastError = r.err
		}
		out = append(out, st)
	}
	return out, nil
}

// split partitions ascending times into those at or before now and
// those after it.
func split(times []time.Time, now time.Time) (due, future []time.Time) {
	i := sort.Search(len(times), func(i int) bool { return times[i].After(now) })
	due = append([]time.Time(nil), times[:i]...)
	future = append([]time.Time(nil), times[i:]...)
	return due, future
}

// generate returns n times stepping by rate from after from.
func generate(rate Rate, from time.Time, n int) []time.Time {
	sched := rate.Schedule()
	out := make([]time.Time, 0, n)
	t := from
	for range n {
		t = sched.Next(t).UTC()
		out = append(out, t)
	}
	return out
}

func sortedNames(m map[string]activeDef) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
