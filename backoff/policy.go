package backoff

import (
	"time"

	"github.com/xraph/conveyor/job"
)

// Outcome is the decision taken for a failed attempt.
type Outcome int

const (
	// Retry requeues the job after Decision.Delay.
	Retry Outcome = iota
	// DeadLetter moves the job to the failed job store.
	DeadLetter
)

func (o Outcome) String() string {
	if o == DeadLetter {
		return "dead_letter"
	}
	return "retry"
}

// Decision is what a Policy decided for one failure.
type Decision struct {
	Outcome Outcome
	Delay   time.Duration
}

// Policy maps a failed attempt to a retry or dead-letter decision.
type Policy struct {
	Strategy Strategy
}

// NewPolicy creates a Policy. A nil strategy uses DefaultStrategy.
func NewPolicy(s Strategy) Policy {
	if s == nil {
		s = DefaultStrategy()
	}
	return Policy{Strategy: s}
}

// Decide returns the decision for a job that had made attempts prior
// attempts when it failed with err. The failure is terminal once
// attempts+1 reaches maxAttempts or when err is non-retryable.
func (p Policy) Decide(attempts, maxAttempts int, err error) Decision {
	if job.IsNonRetryable(err) || attempts+1 >= maxAttempts {
		return Decision{Outcome: DeadLetter}
	}
	return Decision{Outcome: Retry, Delay: p.Strategy.Delay(attempts + 1)}
}
