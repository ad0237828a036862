package conveyor

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Conveyor.
type Option func(*Conveyor) error

// Storer is the minimal store interface held by the Conveyor. The full
// composite interface (store.Store) is used by the engine package, which
// sits above every subsystem and cannot be imported from here.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is the lifecycle shared by the worker pool and the scheduler.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// shutdownEmitter is implemented by the extension registry.
type shutdownEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Conveyor is the central coordinator holding configuration, the store,
// and the runners wired in by engine.Build.
type Conveyor struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions shutdownEmitter
	runners    []runner

	started bool
}

// New creates a new Conveyor with the given options.
func New(opts ...Option) (*Conveyor, error) {
	c := &Conveyor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the conveyor's logger.
func (c *Conveyor) Logger() *slog.Logger { return c.logger }

// Store returns the conveyor's store.
func (c *Conveyor) Store() Storer { return c.store }

// Config returns a copy of the conveyor's configuration.
func (c *Conveyor) Config() Config { return c.config }

// AddRunner registers a component started by Start and stopped by Stop,
// in registration order (stopped in reverse).
func (c *Conveyor) AddRunner(r runner) { c.runners = append(c.runners, r) }

// SetExtensions sets the shutdown emitter (called by the engine package).
func (c *Conveyor) SetExtensions(e shutdownEmitter) { c.extensions = e }

// Start starts every registered runner.
func (c *Conveyor) Start(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}
	for _, r := range c.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	c.started = true
	return nil
}

// Stop stops the runners in reverse order, notifies extensions, and
// closes the store.
func (c *Conveyor) Stop(ctx context.Context) error {
	if c.started {
		for i := len(c.runners) - 1; i >= 0; i-- {
			if err := c.runners[i].Stop(ctx); err != nil {
				c.logger.Error("runner stop error", slog.String("error", err.Error()))
			}
		}
		c.started = false
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Conveyor) error {
		c.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of claim loops.
func WithConcurrency(n int) Option {
	return func(c *Conveyor) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the pool claims from.
func WithQueues(queues ...string) Option {
	return func(c *Conveyor) error {
		c.config.Queues = queues
		return nil
	}
}

// WithPollInterval sets the base and maximum poll backoff.
func WithPollInterval(base, maxInterval time.Duration) Option {
	return func(c *Conveyor) error {
		c.config.PollInterval = base
		c.config.MaxPollInterval = maxInterval
		return nil
	}
}

// WithJobTimeout sets the deadline for handlers whose payload carries
// no timeout.
func WithJobTimeout(d time.Duration) Option {
	return func(c *Conveyor) error {
		c.config.JobTimeout = d
		return nil
	}
}

// WithStalledTimeout sets how long a reservation may live before it is
// reaped, and how often the reaper runs.
func WithStalledTimeout(timeout, every time.Duration) Option {
	return func(c *Conveyor) error {
		c.config.StalledTimeout = timeout
		c.config.ReapInterval = every
		return nil
	}
}

// WithRetry sets the retry strategy kind and its delays.
func WithRetry(kind string, base, maxDelay time.Duration) Option {
	return func(c *Conveyor) error {
		c.config.RetryStrategy = kind
		c.config.RetryBase = base
		c.config.RetryMax = maxDelay
		return nil
	}
}

// WithLedgerPath sets the file used by the file-backed schedule ledger.
func WithLedgerPath(path string) Option {
	return func(c *Conveyor) error {
		c.config.LedgerPath = path
		return nil
	}
}

// WithTickInterval sets the scheduler's timer period.
func WithTickInterval(d time.Duration) Option {
	return func(c *Conveyor) error {
		c.config.TickInterval = d
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conveyor) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement
// Storer at minimum; engine.Build requires the full store.Store.
func WithStore(s Storer) Option {
	return func(c *Conveyor) error {
		c.store = s
		return nil
	}
}
