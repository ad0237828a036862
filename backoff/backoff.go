// Package backoff computes retry delays and the retry or dead-letter
// decision for failed jobs. Strategies are stateless and safe for
// concurrent use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Strategy computes the delay before the next attempt.
type Strategy interface {
	// Delay returns how long to wait after attempt n failed (1-indexed).
	Delay(attempt int) time.Duration
}

// Fixed always returns the same delay.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed backoff strategy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// Linear grows the delay with the attempt number.
// Delay = min(Base * attempt, Max).
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(base, maxDelay time.Duration) *Linear {
	return &Linear{Base: base, Max: maxDelay}
}

// Delay returns Base * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	return capped(float64(l.Base)*float64(max(attempt, 1)), l.Max)
}

// Exponential doubles the delay each attempt.
// Delay = min(Base * 2^(attempt-1), Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(float64(e.Base)*math.Pow(2, float64(max(attempt, 1)-1)), e.Max)
}

// Jitter scales another strategy's delay by a random factor in
// [0.8, 1.2) so that jobs failing together do not retry together.
type Jitter struct {
	Strategy Strategy
}

// WithJitter wraps s with Jitter.
func WithJitter(s Strategy) *Jitter {
	return &Jitter{Strategy: s}
}

// Delay returns the wrapped delay scaled by the jitter factor.
func (j *Jitter) Delay(attempt int) time.Duration {
	return Jittered(j.Strategy.Delay(attempt))
}

// Jittered returns d scaled by a random factor in [0.8, 1.2).
func Jittered(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4)) //nolint:gosec // jitter does not need crypto rand
}

// Parse builds a strategy from its configuration name: "fixed",
// "linear" or "exponential".
func Parse(kind string, base, maxDelay time.Duration) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "fixed", "constant":
		return NewFixed(base), nil
	case "linear":
		return NewLinear(base, maxDelay), nil
	case "exponential", "":
		return NewExponential(base, maxDelay), nil
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", kind)
	}
}

// DefaultStrategy is exponential from 1s, capped at 1h.
func DefaultStrategy() Strategy {
	return NewExponential(time.Second, time.Hour)
}

func capped(d float64, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d >= float64(maxDelay) {
		return maxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
