package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Extension)(nil)
	_ ext.JobEnqueued      = (*Extension)(nil)
	_ ext.JobClaimed       = (*Extension)(nil)
	_ ext.JobSucceeded     = (*Extension)(nil)
	_ ext.JobRetrying      = (*Extension)(nil)
	_ ext.JobDeadLettered  = (*Extension)(nil)
	_ ext.JobReleased      = (*Extension)(nil)
	_ ext.JobReaped        = (*Extension)(nil)
	_ ext.ScheduleExecuted = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes each event as one structured log line at a level
// matching its severity.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("category", evt.Category),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		if len(evt.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", evt.Metadata))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension records lifecycle events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that records through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, r *job.Record) error {
	return e.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceJob, r.ID.String(), CategoryJob, nil,
		"job_name", r.Name(),
		"queue", r.Queue,
		"available_at", r.AvailableAt.Format(time.RFC3339),
	)
}

// OnJobClaimed implements ext.JobClaimed.
func (e *Extension) OnJobClaimed(ctx context.Context, r *job.Record) error {
	return e.record(ctx, ActionJobClaimed, SeverityInfo, OutcomeSuccess,
		ResourceJob, r.ID.String(), CategoryJob, nil,
		"job_name", r.Name(),
		"queue", r.Queue,
		"attempts", r.Attempts,
	)
}

// OnJobSucceeded implements ext.JobSucceeded.
func (e *Extension) OnJobSucceeded(ctx context.Context, r *job.Record, elapsed time.Duration) error {
	return e.record(ctx, ActionJobSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceJob, r.ID.String(), CategoryJob, nil,
		"job_name", r.Name(),
		"queue", r.Queue,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, r *job.Record, attempt int, availableAt time.Time, jobErr error) error {
	return e.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure,
		ResourceJob, r.ID.String(), CategoryJob, jobErr,
		"job_name", r.Name(),
		"queue", r.Queue,
		"attempt", attempt,
		"max_attempts", r.MaxAttempts,
		"available_at", availableAt.Format(time.RFC3339),
	)
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (e *Extension) OnJobDeadLettered(ctx context.Context, r *job.Record, jobErr error) error {
	return e.record(ctx, ActionJobDeadLettered, SeverityCritical, OutcomeFailure,
		ResourceJob, r.ID.String(), CategoryJob, jobErr,
		"job_name", r.Name(),
		"queue", r.Queue,
		"attempts", r.Attempts+1,
		"max_attempts", r.MaxAttempts,
	)
}

// OnJobReleased implements ext.JobReleased.
func (e *Extension) OnJobReleased(ctx context.Context, r *job.Record) error {
	return e.record(ctx, ActionJobReleased, SeverityWarning, OutcomeSuccess,
		ResourceJob, r.ID.String(), CategoryJob, nil,
		"job_name", r.Name(),
		"queue", r.Queue,
	)
}

// OnJobReaped implements ext.JobReaped.
func (e *Extension) OnJobReaped(ctx context.Context, r *job.Record, exhausted bool) error {
	return e.record(ctx, ActionJobReaped, SeverityWarning, OutcomeFailure,
		ResourceJob, r.ID.String(), CategoryJob, nil,
		"job_name", r.Name(),
		"queue", r.Queue,
		"stalls", r.Stalls,
		"exhausted", exhausted,
	)
}

// ── Schedule hooks ──────────────────────────────────

// OnScheduleExecuted implements ext.ScheduleExecuted. A failed run is
// recorded as ActionScheduleFailed.
func (e *Extension) OnScheduleExecuted(ctx context.Context, jobName string, at time.Time, elapsed time.Duration, runErr error) error {
	action, severity, outcome := ActionScheduleExecuted, SeverityInfo, OutcomeSuccess
	if runErr != nil {
		action, severity, outcome = ActionScheduleFailed, SeverityCritical, OutcomeFailure
	}
	return e.record(ctx, action, severity, outcome,
		ResourceSchedule, jobName, CategorySchedule, runErr,
		"scheduled_at", at.Format(time.RFC3339),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// kvPairs are added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
