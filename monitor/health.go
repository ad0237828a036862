package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conveyor/job"
)

// HealthStatus grades a queue or the store as a whole.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

func (s HealthStatus) rank() int {
	switch s {
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	default:
		return 0
	}
}

func worse(a, b HealthStatus) HealthStatus {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// AlertLevel is the severity of a health alert.
type AlertLevel string

const (
	Warning  AlertLevel = "warning"
	Critical AlertLevel = "critical"
)

// Alert explains why a queue is not healthy. Queue is empty for alerts
// about the store as a whole.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Message string     `json:"message"`
	Queue   string     `json:"queue,omitempty"`
}

// HealthConfig holds the alert thresholds. Zero fields take the value
// from DefaultHealthConfig.
type HealthConfig struct {
	MaxPendingWarning    int64
	MaxPendingCritical   int64
	MaxFailedWarning     int64
	MaxFailedCritical    int64
	MaxAgeWarning        time.Duration
	MaxAgeCritical       time.Duration
	MaxErrorRateWarning  float64
	MaxErrorRateCritical float64

	// Queues lists the queues to grade one by one. Empty grades every
	// queue together as a single entry.
	Queues []string
}

// DefaultHealthConfig returns the stock thresholds.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		MaxPendingWarning:    1000,
		MaxPendingCritical:   5000,
		MaxFailedWarning:     10,
		MaxFailedCritical:    100,
		MaxAgeWarning:        time.Hour,
		MaxAgeCritical:       24 * time.Hour,
		MaxErrorRateWarning:  0.1,
		MaxErrorRateCritical: 0.5,
	}
}

func (c HealthConfig) withDefaults() HealthConfig {
	d := DefaultHealthConfig()
	if c.MaxPendingWarning <= 0 {
		c.MaxPendingWarning = d.MaxPendingWarning
	}
	if c.MaxPendingCritical <= 0 {
		c.MaxPendingCritical = d.MaxPendingCritical
	}
	if c.MaxFailedWarning <= 0 {
		c.MaxFailedWarning = d.MaxFailedWarning
	}
	if c.MaxFailedCritical <= 0 {
		c.MaxFailedCritical = d.MaxFailedCritical
	}
	if c.MaxAgeWarning <= 0 {
		c.MaxAgeWarning = d.MaxAgeWarning
	}
	if c.MaxAgeCritical <= 0 {
		c.MaxAgeCritical = d.MaxAgeCritical
	}
	if c.MaxErrorRateWarning <= 0 {
		c.MaxErrorRateWarning = d.MaxErrorRateWarning
	}
	if c.MaxErrorRateCritical <= 0 {
		c.MaxErrorRateCritical = d.MaxErrorRateCritical
	}
	return c
}

// QueueHealth is the graded Stats of one queue. OldestPendingAge is how
// long, in seconds, the oldest claimable record has been waiting.
type QueueHealth struct {
	Stats
	Status           HealthStatus `json:"status"`
	OldestPendingAge int64        `json:"oldest_pending_age,omitempty"`
}

// Health is the result of a health check.
type Health struct {
	Status    HealthStatus  `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
	Queues    []QueueHealth `json:"queues"`
	Totals    Stats         `json:"totals"`
	ErrorRate float64       `json:"error_rate"`
	Alerts    []Alert       `json:"alerts"`
}

// Health grades each queue against cfg at the current time.
func (m *Monitor) Health(ctx context.Context, cfg HealthConfig) (Health, error) {
	return m.HealthAt(ctx, cfg, m.now().UTC())
}

// HealthAt is Health evaluated at now.
func (m *Monitor) HealthAt(ctx context.Context, cfg HealthConfig, now time.Time) (Health, error) {
	cfg = cfg.withDefaults()

	queues := cfg.Queues
	if len(queues) == 0 {
		queues = []string{""}
	}

	h := Health{Status: Healthy, CheckedAt: now, Alerts: []Alert{}}
	for _, q := range queues {
		qh, alerts, err := m.gradeQueue(ctx, cfg, q, now)
		if err != nil {
			return Health{}, err
		}
		h.Queues = append(h.Queues, qh)
		h.Alerts = append(h.Alerts, alerts...)
		h.Status = worse(h.Status, qh.Status)

		h.Totals.Pending += qh.Pending
		h.Totals.Processing += qh.Processing
		h.Totals.Delayed += qh.Delayed
		h.Totals.Failed += qh.Failed
		h.Totals.Total += qh.Total
	}

	if h.Totals.Total > 0 {
		h.ErrorRate = float64(h.Totals.Failed) / float64(h.Totals.Total)
	}
	switch {
	case h.ErrorRate >= cfg.MaxErrorRateCritical:
		h.Status = Unhealthy
		h.Alerts = append(h.Alerts, Alert{
			Level:   Critical,
			Message: fmt.Sprintf("error rate is %.1f%% (threshold %.0f%%)", h.ErrorRate*100, cfg.MaxErrorRateCritical*100),
		})
	case h.ErrorRate >= cfg.MaxErrorRateWarning:
		h.Status = worse(h.Status, Degraded)
		h.Alerts = append(h.Alerts, Alert{
			Level:   Warning,
			Message: fmt.Sprintf("error rate is %.1f%% (threshold %.0f%%)", h.ErrorRate*100, cfg.MaxErrorRateWarning*100),
		})
	}
	return h, nil
}

func (m *Monitor) gradeQueue(ctx context.Context, cfg HealthConfig, queue string, now time.Time) (QueueHealth, []Alert, error) {
	stats, err := m.StatsAt(ctx, queue, now)
	if err != nil {
		return QueueHealth{}, nil, err
	}

	oldest, err := m.jobs.ListJobs(ctx, job.ListOpts{
		Queue:  queue,
		Status: job.StatusPending,
		Now:    now,
		Limit:  1,
	})
	if err != nil {
		return QueueHealth{}, nil, fmt.Errorf("monitor: oldest pending job: %w", err)
	}

	qh := QueueHealth{Stats: stats, Status: Healthy}
	var age time.Duration
	if len(oldest) > 0 {
		age = now.Sub(oldest[0].AvailableAt)
		qh.OldestPendingAge = int64(age / time.Second)
	}

	label := fmt.Sprintf("queue %q", queue)
	if queue == "" {
		label = "all queues"
	}

	var alerts []Alert
	raise := func(level AlertLevel, format string, args ...any) {
		alerts = append(alerts, Alert{Level: level, Message: label + " " + fmt.Sprintf(format, args...), Queue: queue})
		if level == Critical {
			qh.Status = Unhealthy
		} else {
			qh.Status = worse(qh.Status, Degraded)
		}
	}

	switch {
	case stats.Pending >= cfg.MaxPendingCritical:
		raise(Critical, "has %d pending jobs (threshold %d)", stats.Pending, cfg.MaxPendingCritical)
	case stats.Pending >= cfg.MaxPendingWarning:
		raise(Warning, "has %d pending jobs (threshold %d)", stats.Pending, cfg.MaxPendingWarning)
	}

	switch {
	case stats.Failed >= cfg.MaxFailedCritical:
		raise(Critical, "has %d failed jobs (threshold %d)", stats.Failed, cfg.MaxFailedCritical)
	case stats.Failed >= cfg.MaxFailedWarning:
		raise(Warning, "has %d failed jobs (threshold %d)", stats.Failed, cfg.MaxFailedWarning)
	}

	if len(oldest) > 0 {
		switch {
		case age >= cfg.MaxAgeCritical:
			raise(Critical, "has a job waiting for %d hours", int64(age/time.Hour))
		case age >= cfg.MaxAgeWarning:
			raise(Warning, "has a job waiting for %d minutes", int64(age/time.Minute))
		}
	}

	return qh, alerts, nil
}
