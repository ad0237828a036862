package job

import (
	"time"

	"github.com/xraph/conveyor/id"
)

// Options configures how a record is built at enqueue time.
type Options struct {
	// Queue is the queue the record is inserted into.
	Queue string

	// MaxAttempts is the attempt budget before dead-lettering.
	MaxAttempts int

	// Delay postpones availability relative to now.
	Delay time.Duration

	// AvailableAt schedules the record at an absolute time. It wins over Delay.
	AvailableAt time.Time

	// Timeout is the per-execution deadline. Zero means unlimited.
	Timeout time.Duration

	// Path is recorded in the descriptor for reporting.
	Path string
}

// DefaultOptions returns Options with the default queue and attempt budget.
func DefaultOptions() Options {
	return Options{
		Queue:       DefaultQueue,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Option is a functional option for enqueueing.
type Option func(*Options)

// WithQueue sets the queue name.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithDelay makes the record available d after enqueue.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithAvailableAt makes the record available at t.
func WithAvailableAt(t time.Time) Option {
	return func(o *Options) { o.AvailableAt = t }
}

// WithTimeout sets the per-execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithPath records the handler's source locator.
func WithPath(p string) Option {
	return func(o *Options) { o.Path = p }
}

// New builds a record for the named handler with JSON params, available
// relative to now.
func New(name string, params []byte, now time.Time, opts ...Option) (*Record, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := Descriptor{
		Name:     name,
		Path:     o.Path,
		Params:   params,
		MaxTries: o.MaxAttempts,
		Timeout:  int(o.Timeout / time.Second),
	}.Encode()
	if err != nil {
		return nil, err
	}

	availableAt := now.Add(o.Delay)
	if !o.AvailableAt.IsZero() {
		availableAt = o.AvailableAt
	}
	if o.Queue == "" {
		o.Queue = DefaultQueue
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}

	return &Record{
		ID:          id.NewJobID(),
		Queue:       o.Queue,
		Payload:     payload,
		MaxAttempts: o.MaxAttempts,
		AvailableAt: availableAt.UTC(),
		CreatedAt:   now.UTC(),
	}, nil
}
