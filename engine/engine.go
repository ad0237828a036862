package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/job"
	mw "github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/monitor"
	"github.com/xraph/conveyor/observability"
	"github.com/xraph/conveyor/queue"
	"github.com/xraph/conveyor/schedule"
	"github.com/xraph/conveyor/store"
	"github.com/xraph/conveyor/worker"
)

const instrumentationName = "github.com/xraph/conveyor"

// Component selects which runners Start launches.
type Component uint8

const (
	// Workers is the worker pool with its reaper.
	Workers Component = 1 << iota
	// Scheduler is the recurring job scheduler.
	Scheduler

	// All runs every component.
	All = Workers | Scheduler
)

// Engine wraps a Conveyor with typed subsystem access.
// Use Build() to create one from a Conveyor.
type Engine struct {
	c          *conveyor.Conveyor
	store      store.Store
	extensions *ext.Registry
	registry   *job.Registry
	defaultsMu sync.RWMutex
	defaults   map[string][]job.Option
	dlqService *dlq.Service
	monitor    *monitor.Monitor
	strategy   backoff.Strategy
	executor   *worker.Executor
	pool       *worker.Pool
	mws        []mw.Middleware
	jobTimeout time.Duration
	components Component
	logger     *slog.Logger

	// Schedule subsystem.
	schedules      *schedule.Registry
	provider       schedule.Provider
	ledger         schedule.Ledger
	useStoreLedger bool
	scheduleOpts   []schedule.Option
	scheduler      *schedule.Scheduler

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain, inside the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. Without it the strategy is
// built from the Conveyor's RetryStrategy, RetryBase and RetryMax.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.strategy = b
	}
}

// WithJobTimeout bounds handlers whose payload carries no timeout. It
// overrides Config.JobTimeout.
func WithJobTimeout(d time.Duration) Option {
	return func(eng *Engine) {
		eng.jobTimeout = d
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithScheduleProvider replaces the engine's schedule registry as the
// source of recurring job definitions.
func WithScheduleProvider(p schedule.Provider) Option {
	return func(eng *Engine) {
		eng.provider = p
	}
}

// WithLedger sets the schedule ledger. Without it a FileLedger at the
// Conveyor's LedgerPath is used.
func WithLedger(l schedule.Ledger) Option {
	return func(eng *Engine) {
		eng.ledger = l
	}
}

// WithStoreLedger keeps the schedule ledger in the Conveyor's store.
func WithStoreLedger() Option {
	return func(eng *Engine) {
		eng.useStoreLedger = true
	}
}

// WithScheduleOptions passes extra options to the scheduler.
func WithScheduleOptions(opts ...schedule.Option) Option {
	return func(eng *Engine) {
		eng.scheduleOpts = append(eng.scheduleOpts, opts...)
	}
}

// WithComponents limits the runners started by Start. The default is All.
func WithComponents(c Component) Option {
	return func(eng *Engine) {
		eng.components = c
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider. Both the metrics
// middleware and the observability extension use it instead of the
// global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from a Conveyor. The Conveyor's store must
// implement store.Store.
func Build(c *conveyor.Conveyor, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	if c.Store() == nil {
		return nil, conveyor.ErrNoStore
	}
	st, ok := c.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store %T does not implement store.Store", c.Store())
	}

	eng := &Engine{
		c:          c,
		store:      st,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		defaults:   make(map[string][]job.Option),
		schedules:  schedule.NewRegistry(),
		jobTimeout: c.Config().JobTimeout,
		components: All,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(eng)
	}

	config := c.Config()

	if eng.strategy == nil {
		s, err := backoff.Parse(config.RetryStrategy, config.RetryBase, config.RetryMax)
		if err != nil {
			return nil, err
		}
		eng.strategy = s
	}

	eng.dlqService = dlq.NewService(st, st)
	eng.monitor = monitor.New(st, st)

	// Build tracing middleware (custom provider or global).
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}

	// Metrics middleware and the observability extension share a provider.
	metricsMw := mw.Metrics()
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger, eng.jobTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.executor = worker.NewExecutor(
		eng.registry, eng.extensions, st, eng.dlqService,
		backoff.NewPolicy(eng.strategy), logger, allMws...,
	)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval, config.MaxPollInterval),
		worker.WithStalledTimeout(config.StalledTimeout, config.ReapInterval),
		worker.WithMaxStalls(config.MaxStalls),
	}

	// Create queue manager if queue configs were provided.
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}
	eng.pool = worker.NewPool(st, eng.executor, eng.extensions, logger, poolOpts...)

	// Create the scheduler.
	if eng.provider == nil {
		eng.provider = eng.schedules
	}
	if eng.ledger == nil {
		if eng.useStoreLedger {
			eng.ledger = st
		} else {
			eng.ledger = schedule.NewFileLedger(config.LedgerPath, logger)
		}
	}
	schedOpts := []schedule.Option{
		schedule.WithTickInterval(config.TickInterval),
		schedule.WithThreshold(config.Threshold),
		schedule.WithRegenerationCount(config.RegenerationCount),
	}
	schedOpts = append(schedOpts, eng.scheduleOpts...)
	eng.scheduler = schedule.NewScheduler(eng.ledger, eng.provider, eng.extensions, logger, schedOpts...)

	// Wire back into the Conveyor.
	var runners group
	if eng.components&Workers != 0 {
		runners = append(runners, eng.pool)
	}
	if eng.components&Scheduler != 0 {
		runners = append(runners, eng.scheduler)
	}
	c.AddRunner(runners)
	c.SetExtensions(eng.extensions)

	return eng, nil
}

// Register registers a typed job definition with the engine. The
// definition's options become the defaults for jobs enqueued under its
// name.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
	eng.defaultsMu.Lock()
	eng.defaults[def.Name] = def.Options()
	eng.defaultsMu.Unlock()
}

// RegisterHandler registers an untyped handler that receives raw params.
func (eng *Engine) RegisterHandler(name string, h job.HandlerFunc) {
	eng.registry.Register(name, h)
}

// RegisterSchedule adds a recurring job definition to the engine's
// schedule registry.
func (eng *Engine) RegisterSchedule(def schedule.Definition) {
	eng.schedules.Register(def)
}

// Enqueue marshals params and enqueues a job for the named handler.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, params T, opts ...job.Option) (*job.Record, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for job %q: %w", name, err)
	}
	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with pre-serialized params.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, params []byte, opts ...job.Option) (*job.Record, error) {
	eng.defaultsMu.RLock()
	defaults := eng.defaults[name]
	eng.defaultsMu.RUnlock()
	if len(defaults) > 0 {
		opts = append(append([]job.Option(nil), defaults...), opts...)
	}

	r, err := job.New(name, params, time.Now().UTC(), opts...)
	if err != nil {
		return nil, err
	}
	if err := eng.store.EnqueueJob(ctx, r); err != nil {
		return nil, err
	}
	eng.extensions.EmitJobEnqueued(ctx, r)
	return r, nil
}

// Start launches the selected runners.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the runners and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.c.Stop(ctx)
}

// Run starts the engine, blocks until ctx is done, then stops it within
// the configured shutdown timeout.
func (eng *Engine) Run(ctx context.Context) error {
	if err := eng.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eng.c.Config().ShutdownTimeout)
	defer cancel()
	return eng.Stop(stopCtx)
}

// Drain claims and executes jobs one at a time until nothing is
// claimable. It returns the number of jobs processed.
func (eng *Engine) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := eng.pool.ProcessNext(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// Conveyor returns the underlying Conveyor.
func (eng *Engine) Conveyor() *conveyor.Conveyor { return eng.c }

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Schedules returns the recurring job registry.
func (eng *Engine) Schedules() *schedule.Registry { return eng.schedules }

// DLQService returns the failed job service for retry and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Monitor returns the queue monitor.
func (eng *Engine) Monitor() *monitor.Monitor { return eng.monitor }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Scheduler returns the recurring job scheduler.
func (eng *Engine) Scheduler() *schedule.Scheduler { return eng.scheduler }

// Ledger returns the schedule ledger in use.
func (eng *Engine) Ledger() schedule.Ledger { return eng.ledger }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// group starts and stops its members concurrently.
type group []runner

func (g group) Start(ctx context.Context) error {
	var eg errgroup.Group
	for _, r := range g {
		eg.Go(func() error { return r.Start(ctx) })
	}
	return eg.Wait()
}

func (g group) Stop(ctx context.Context) error {
	var eg errgroup.Group
	for _, r := range g {
		eg.Go(func() error { return r.Stop(ctx) })
	}
	return eg.Wait()
}
