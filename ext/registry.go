package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/job"
)

// Named entries pair a hook with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Extensions are type-cached at registration so emit calls only
// iterate over those implementing the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued      []entry[JobEnqueued]
	jobClaimed       []entry[JobClaimed]
	jobSucceeded     []entry[JobSucceeded]
	jobRetrying      []entry[JobRetrying]
	jobDeadLettered  []entry[JobDeadLettered]
	jobReleased      []entry[JobReleased]
	jobReaped        []entry[JobReaped]
	scheduleExecuted []entry[ScheduleExecuted]
	shutdown         []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, entry[JobEnqueued]{name, h})
	}
	if h, ok := e.(JobClaimed); ok {
		r.jobClaimed = append(r.jobClaimed, entry[JobClaimed]{name, h})
	}
	if h, ok := e.(JobSucceeded); ok {
		r.jobSucceeded = append(r.jobSucceeded, entry[JobSucceeded]{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, entry[JobRetrying]{name, h})
	}
	if h, ok := e.(JobDeadLettered); ok {
		r.jobDeadLettered = append(r.jobDeadLettered, entry[JobDeadLettered]{name, h})
	}
	if h, ok := e.(JobReleased); ok {
		r.jobReleased = append(r.jobReleased, entry[JobReleased]{name, h})
	}
	if h, ok := e.(JobReaped); ok {
		r.jobReaped = append(r.jobReaped, entry[JobReaped]{name, h})
	}
	if h, ok := e.(ScheduleExecuted); ok {
		r.scheduleExecuted = append(r.scheduleExecuted, entry[ScheduleExecuted]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, rec *job.Record) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, rec); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobClaimed notifies all extensions that implement JobClaimed.
func (r *Registry) EmitJobClaimed(ctx context.Context, rec *job.Record) {
	for _, e := range r.jobClaimed {
		if err := e.hook.OnJobClaimed(ctx, rec); err != nil {
			r.logHookError("OnJobClaimed", e.name, err)
		}
	}
}

// EmitJobSucceeded notifies all extensions that implement JobSucceeded.
func (r *Registry) EmitJobSucceeded(ctx context.Context, rec *job.Record, elapsed time.Duration) {
	for _, e := range r.jobSucceeded {
		if err := e.hook.OnJobSucceeded(ctx, rec, elapsed); err != nil {
			r.logHookError("OnJobSucceeded", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, rec *job.Record, attempt int, availableAt time.Time, jobErr error) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, rec, attempt, availableAt, jobErr); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobDeadLettered notifies all extensions that implement JobDeadLettered.
func (r *Registry) EmitJobDeadLettered(ctx context.Context, rec *job.Record, jobErr error) {
	for _, e := range r.jobDeadLettered {
		if err := e.hook.OnJobDeadLettered(ctx, rec, jobErr); err != nil {
			r.logHookError("OnJobDeadLettered", e.name, err)
		}
	}
}

// EmitJobReleased notifies all extensions that implement JobReleased.
func (r *Registry) EmitJobReleased(ctx context.Context, rec *job.Record) {
	for _, e := range r.jobReleased {
		if err := e.hook.OnJobReleased(ctx, rec); err != nil {
			r.logHookError("OnJobReleased", e.name, err)
		}
	}
}

// EmitJobReaped notifies all extensions that implement JobReaped.
func (r *Registry) EmitJobReaped(ctx context.Context, rec *job.Record, exhausted bool) {
	for _, e := range r.jobReaped {
		if err := e.hook.OnJobReaped(ctx, rec, exhausted); err != nil {
			r.logHookError("OnJobReaped", e.name, err)
		}
	}
}

// EmitScheduleExecuted notifies all extensions that implement ScheduleExecuted.
func (r *Registry) EmitScheduleExecuted(ctx context.Context, jobName string, at time.Time, elapsed time.Duration, runErr error) {
	for _, e := range r.scheduleExecuted {
		if err := e.hook.OnScheduleExecuted(ctx, jobName, at, elapsed, runErr); err != nil {
			r.logHookError("OnScheduleExecuted", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a hook failure. Hook errors never reach the caller.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
