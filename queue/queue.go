package queue

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier (must match the record's Queue field).
	Name string

	// MaxConcurrency limits how many records from this queue may run
	// simultaneously in the local pool. Zero means no queue-specific
	// limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained records per second that may be
	// started from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// ParseConfig parses "name[:concurrency[:rate[:burst]]]". Empty fields
// are left at zero.
func ParseConfig(s string) (Config, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 4 || strings.TrimSpace(parts[0]) == "" {
		return Config{}, fmt.Errorf("queue: invalid limit %q: want name[:concurrency[:rate[:burst]]]", s)
	}

	cfg := Config{Name: strings.TrimSpace(parts[0])}
	var err error
	if len(parts) > 1 && parts[1] != "" {
		if cfg.MaxConcurrency, err = strconv.Atoi(parts[1]); err != nil || cfg.MaxConcurrency < 0 {
			return Config{}, fmt.Errorf("queue: invalid concurrency in %q", s)
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		if cfg.RateLimit, err = strconv.ParseFloat(parts[2], 64); err != nil || cfg.RateLimit < 0 {
			return Config{}, fmt.Errorf("queue: invalid rate in %q", s)
		}
	}
	if len(parts) > 3 && parts[3] != "" {
		if cfg.RateBurst, err = strconv.Atoi(parts[3]); err != nil || cfg.RateBurst < 0 {
			return Config{}, fmt.Errorf("queue: invalid burst in %q", s)
		}
	}
	return cfg, nil
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-queue rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{queues: make(map[string]*queueState, len(configs))}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Acquire reports whether a record from queue may start now. On success
// it increments the active counter and the caller MUST call Release when
// the record is settled.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return true
	}
	// Concurrency first so a refused record does not spend a token.
	if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return false
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	qs.active++
	return true
}

// Release decrements the active count for queue.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// SetQueueConfig dynamically updates (or creates) a queue configuration.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.queues[cfg.Name]
	qs := newQueueState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the current number of active records for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// Configs returns the configured queues sorted by name.
func (m *Manager) Configs() []Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Config, 0, len(m.queues))
	for _, qs := range m.queues {
		out = append(out, qs.config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
