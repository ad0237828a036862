package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.JobEnqueued      = (*MetricsExtension)(nil)
	_ ext.JobClaimed       = (*MetricsExtension)(nil)
	_ ext.JobSucceeded     = (*MetricsExtension)(nil)
	_ ext.JobRetrying      = (*MetricsExtension)(nil)
	_ ext.JobDeadLettered  = (*MetricsExtension)(nil)
	_ ext.JobReleased      = (*MetricsExtension)(nil)
	_ ext.JobReaped        = (*MetricsExtension)(nil)
	_ ext.ScheduleExecuted = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/conveyor/observability"

// MetricsExtension records lifecycle counters through an OTel meter.
// Every job counter carries a queue attribute.
type MetricsExtension struct {
	jobEnqueued      metric.Int64Counter
	jobClaimed       metric.Int64Counter
	jobSucceeded     metric.Int64Counter
	jobRetried       metric.Int64Counter
	jobDeadLettered  metric.Int64Counter
	jobReleased      metric.Int64Counter
	jobReaped        metric.Int64Counter
	scheduleExecuted metric.Int64Counter
	scheduleDuration metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// On error the API hands back a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	duration, _ := meter.Float64Histogram(
		"conveyor.schedule.duration",
		metric.WithDescription("Duration of recurring job runs in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		jobEnqueued:      counter("conveyor.job.enqueued", "Jobs added to a queue"),
		jobClaimed:       counter("conveyor.job.claimed", "Jobs reserved by a worker"),
		jobSucceeded:     counter("conveyor.job.succeeded", "Jobs whose handler returned nil"),
		jobRetried:       counter("conveyor.job.retried", "Jobs requeued after a failure"),
		jobDeadLettered:  counter("conveyor.job.dead_lettered", "Jobs moved to the failed store"),
		jobReleased:      counter("conveyor.job.released", "Jobs returned unchanged on shutdown"),
		jobReaped:        counter("conveyor.job.reaped", "Stalled reservations recovered by the reaper"),
		scheduleExecuted: counter("conveyor.schedule.executed", "Recurring job runs"),
		scheduleDuration: duration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func queueAttr(r *job.Record) metric.AddOption {
	return metric.WithAttributes(attribute.String("queue", r.Queue))
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, r *job.Record) error {
	m.jobEnqueued.Add(ctx, 1, queueAttr(r))
	return nil
}

// OnJobClaimed implements ext.JobClaimed.
func (m *MetricsExtension) OnJobClaimed(ctx context.Context, r *job.Record) error {
	m.jobClaimed.Add(ctx, 1, queueAttr(r))
	return nil
}

// OnJobSucceeded implements ext.JobSucceeded.
func (m *MetricsExtension) OnJobSucceeded(ctx context.Context, r *job.Record, _ time.Duration) error {
	m.jobSucceeded.Add(ctx, 1, queueAttr(r))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, r *job.Record, _ int, _ time.Time, _ error) error {
	m.jobRetried.Add(ctx, 1, queueAttr(r))
	return nil
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (m *MetricsExtension) OnJobDeadLettered(ctx context.Context, r *job.Record, _ error) error {
	m.jobDeadLettered.Add(ctx, 1, queueAttr(r))
	return nil
}

// OnJobReleased implements ext.JobReleased.
func (m *MetricsExtension) OnJobReleased(ctx context.Context, r *job.Record) error {
	m.jobReleased.Add(ctx, 1, queueAttr(r))
	return nil
}

// OnJobReaped implements ext.JobReaped.
func (m *MetricsExtension) OnJobReaped(ctx context.Context, r *job.Record, exhausted bool) error {
	m.jobReaped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", r.Queue),
		attribute.Bool("exhausted", exhausted),
	))
	return nil
}

// OnScheduleExecuted implements ext.ScheduleExecuted.
func (m *MetricsExtension) OnScheduleExecuted(ctx context.Context, jobName string, _ time.Time, elapsed time.Duration, err error) error {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("job_name", jobName),
		attribute.String("status", status),
	)
	m.scheduleExecuted.Add(ctx, 1, attrs)
	m.scheduleDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}
