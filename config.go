package conveyor

import "time"

// Config holds configuration for a Conveyor.
type Config struct {
	// Concurrency is the number of claim loops run by the worker pool.
	Concurrency int

	// Queues is the list of queues the pool claims from, in order.
	// An empty list claims from every queue.
	Queues []string

	// PollInterval is the base sleep after a claim finds nothing.
	PollInterval time.Duration

	// MaxPollInterval caps the poll backoff while queues stay empty.
	MaxPollInterval time.Duration

	// JobTimeout bounds a handler whose payload carries no timeout of its
	// own. Zero leaves such handlers unbounded.
	JobTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight handlers.
	ShutdownTimeout time.Duration

	// StalledTimeout is how long a reservation may live before the
	// reaper treats its owner as dead.
	StalledTimeout time.Duration

	// ReapInterval is how often the reaper looks for stalled jobs.
	// Zero disables the reaper.
	ReapInterval time.Duration

	// MaxStalls is how many times a job may be reaped before it is
	// dead-lettered.
	MaxStalls int

	// RetryStrategy is one of "fixed", "linear" or "exponential".
	RetryStrategy string

	// RetryBase is the base delay fed to the retry strategy.
	RetryBase time.Duration

	// RetryMax caps the retry delay. Zero means uncapped.
	RetryMax time.Duration

	// LedgerPath is where the file-backed schedule ledger lives.
	LedgerPath string

	// TickInterval is the scheduler's timer period.
	TickInterval time.Duration

	// Threshold is the minimum number of upcoming times kept per
	// recurring job before the ledger is regenerated.
	Threshold int

	// RegenerationCount is how many times are appended on regeneration.
	RegenerationCount int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{"default"},
		PollInterval:      1 * time.Second,
		MaxPollInterval:   10 * time.Second,
		JobTimeout:        60 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		StalledTimeout:    5 * time.Minute,
		ReapInterval:      1 * time.Minute,
		MaxStalls:         3,
		RetryStrategy:     "exponential",
		RetryBase:         1 * time.Second,
		RetryMax:          1 * time.Hour,
		LedgerPath:        "storage/framework/core/scheduler/ledger.json",
		TickInterval:      1 * time.Minute,
		Threshold:         3,
		RegenerationCount: 10,
	}
}
