package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	conveyor "github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// QueueManager controls per-queue rate limiting and concurrency. The pool
// calls Acquire after claiming a record and Release once it is settled.
type QueueManager interface {
	// Acquire reports whether a record from queue may run now.
	Acquire(queue string) bool
	// Release frees the slot taken by Acquire.
	Release(queue string)
}

// Pool runs concurrent claim loops against a job store and a reaper that
// recovers records abandoned by dead workers.
type Pool struct {
	store           job.Store
	executor        *Executor
	extensions      *ext.Registry
	concurrency     int
	queues          []string
	pollInterval    time.Duration
	maxPollInterval time.Duration
	workerID        id.WorkerID
	logger          *slog.Logger
	now             func() time.Time

	// Reaper configuration.
	stalledTimeout time.Duration
	reapInterval   time.Duration
	maxStalls      int

	// Queue manager (optional).
	queueManager QueueManager

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelCauseFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of claim loops.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool claims from. An empty list
// claims from every queue.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets the idle poll backoff. An idle loop waits base,
// then doubles up to maxInterval while nothing is claimable.
func WithPollInterval(base, maxInterval time.Duration) PoolOption {
	return func(p *Pool) {
		p.pollInterval = base
		p.maxPollInterval = maxInterval
	}
}

// WithStalledTimeout sets how old a reservation must be before the reaper
// releases it and how often the reaper runs. A zero interval disables the
// reaper.
func WithStalledTimeout(timeout, every time.Duration) PoolOption {
	return func(p *Pool) {
		p.stalledTimeout = timeout
		p.reapInterval = every
	}
}

// WithMaxStalls sets how many times a record may be reaped before it is
// dead-lettered.
func WithMaxStalls(n int) PoolOption {
	return func(p *Pool) { p.maxStalls = n }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithPoolClock overrides the pool's time source.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:           store,
		executor:        executor,
		extensions:      extensions,
		concurrency:     10,
		queues:          []string{job.DefaultQueue},
		pollInterval:    time.Second,
		maxPollInterval: 30 * time.Second,
		stalledTimeout:  5 * time.Minute,
		reapInterval:    time.Minute,
		maxStalls:       1,
		workerID:        id.NewWorkerID(),
		logger:          logger,
		now:             time.Now,
		activeJobs:      make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxPollInterval < p.pollInterval {
		p.maxPollInterval = p.pollInterval
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the claim loops and the reaper. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.reapInterval > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop stops claiming immediately and waits for in-flight jobs. When ctx
// ends first, in-flight jobs are cancelled with ErrShutdown and released
// back to their queues.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}

	return nil
}

// ProcessNext claims and executes at most one record. It reports false
// when nothing was claimable.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	rec, err := p.store.ClaimNext(ctx, p.queues, p.now().UTC())
	if errors.Is(err, conveyor.ErrNoJobAvailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = p.run(ctx, rec)
	return true, err
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	misses := 0
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		rec, err := p.store.ClaimNext(context.Background(), p.queues, p.now().UTC())
		if err != nil {
			if !errors.Is(err, conveyor.ErrNoJobAvailable) {
				p.logger.Error("claim error", slog.String("error", err.Error()))
			}
			misses++
			p.sleep(p.pollDelay(misses))
			continue
		}
		misses = 0

		ctx, cancel := context.WithCancelCause(context.Background())
		if !p.trackJob(rec.ID.String(), cancel) {
			// Stop began while the claim was in flight.
			cancel(nil)
			if _, relErr := p.executor.Release(context.Background(), rec); relErr != nil {
				p.logger.Error("failed to release job claimed during shutdown",
					slog.String("job_id", rec.ID.String()),
					slog.String("error", relErr.Error()),
				)
			}
			return
		}

		if p.queueManager != nil && !p.queueManager.Acquire(rec.Queue) {
			// Rate limited: hand the record back untouched.
			if relErr := p.store.ReleaseJob(context.Background(), rec.ID); relErr != nil {
				p.logger.Error("failed to release rate-limited job",
					slog.String("job_id", rec.ID.String()),
					slog.String("error", relErr.Error()),
				)
			}
			p.untrackJob(rec.ID.String())
			cancel(nil)
			p.sleep(p.pollInterval)
			continue
		}

		outcome, execErr := p.run(ctx, rec)
		if execErr != nil {
			p.logger.Error("job settle failed",
				slog.String("job_id", rec.ID.String()),
				slog.String("outcome", outcome.String()),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(rec.ID.String())
		cancel(nil)

		if p.queueManager != nil {
			p.queueManager.Release(rec.Queue)
		}
	}
}

func (p *Pool) run(ctx context.Context, rec *job.Record) (Outcome, error) {
	p.extensions.EmitJobClaimed(ctx, rec)
	return p.executor.Execute(ctx, rec)
}

// pollDelay returns the jittered idle wait after misses consecutive empty
// or failed claims.
func (p *Pool) pollDelay(misses int) time.Duration {
	d := p.pollInterval
	for i := 1; i < misses && d < p.maxPollInterval; i++ {
		d *= 2
	}
	if d > p.maxPollInterval {
		d = p.maxPollInterval
	}
	return backoff.Jittered(d)
}

// reaperLoop periodically recovers stalled reservations.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.Reap(context.Background()); err != nil {
				p.logger.Error("reap stalled jobs error", slog.String("error", err.Error()))
			}
		}
	}
}

// Reap releases every reservation older than the stalled timeout and
// dead-letters records that exhausted their stall budget. It returns the
// number of records recovered either way.
func (p *Pool) Reap(ctx context.Context) (int, error) {
	now := p.now().UTC()
	released, exhausted, err := p.store.ReapStalled(ctx, now.Add(-p.stalledTimeout), now, p.maxStalls)
	if err != nil {
		return 0, err
	}

	for _, rec := range released {
		p.logger.Warn("reaped stalled job",
			slog.String("job_id", rec.ID.String()),
			slog.String("job_name", rec.Name()),
			slog.Int("stalls", rec.Stalls),
		)
		p.extensions.EmitJobReaped(ctx, rec, false)
	}

	var errs []error
	for _, rec := range exhausted {
		p.extensions.EmitJobReaped(ctx, rec, true)
		if _, dlErr := p.executor.DeadLetter(ctx, rec, ErrStalled); dlErr != nil {
			errs = append(errs, dlErr)
		}
	}
	return len(released) + len(exhausted), errors.Join(errs...)
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-p.stopCh:
	}
}

// trackJob registers cancel for jobID. It reports false once Stop has
// begun, so a claim that completes during shutdown is never executed.
func (p *Pool) trackJob(jobID string, cancel context.CancelCauseFunc) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	select {
	case <-p.stopCh:
		return false
	default:
	}
	p.activeJobs[jobID] = cancel
	return true
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel(ErrShutdown)
	}
}
