package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	conveyor "github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/middleware"
)

// ErrShutdown is the cancellation cause attached to a job's context when
// the pool interrupts it during shutdown. A handler failing under this
// cause is released rather than retried.
var ErrShutdown = errors.New("worker: shutting down")

// ErrStalled is the exception recorded for a job dead-lettered after
// exceeding its stall budget.
var ErrStalled = errors.New("stalled")

// Outcome is what happened to a claimed record after execution.
type Outcome int

const (
	// Succeeded means the handler returned nil and the record was deleted.
	Succeeded Outcome = iota
	// Retrying means the record was requeued with a backoff delay.
	Retrying
	// DeadLettered means the record moved to the failed job store.
	DeadLettered
	// Released means the record was returned to the queue unchanged.
	Released
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Retrying:
		return "retrying"
	case DeadLettered:
		return "dead_lettered"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Executor runs a single claimed record through the middleware chain and
// settles it in the store.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlq        *dlq.Service
	policy     backoff.Policy
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	policy backoff.Policy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if policy.Strategy == nil {
		policy = backoff.NewPolicy(nil)
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlq:        dlqService,
		policy:     policy,
		mw:         middleware.Chain(mws...),
		logger:     logger,
		now:        time.Now,
	}
}

// Execute runs rec and settles it. The returned error reports a store
// failure while settling; handler errors are recorded on the record and
// reported through extensions, not returned.
func (e *Executor) Execute(ctx context.Context, rec *job.Record) (Outcome, error) {
	// Settling must survive the cancellation that interrupted the handler.
	settleCtx := context.WithoutCancel(ctx)

	desc, err := job.DecodeDescriptor(rec.Payload)
	if err != nil {
		return e.DeadLetter(settleCtx, rec, job.NonRetryable(err))
	}

	handler, ok := e.registry.Get(desc.Name)
	if !ok {
		return e.DeadLetter(settleCtx, rec, job.NonRetryable(
			fmt.Errorf("%w: %q", conveyor.ErrHandlerNotFound, desc.Name),
		))
	}

	start := e.now()
	runErr := e.mw(ctx, rec, func(ctx context.Context) error {
		return handler(ctx, desc.Params)
	})
	elapsed := e.now().Sub(start)

	if runErr == nil {
		if err := e.store.DeleteJob(settleCtx, rec.ID); err != nil {
			return Succeeded, fmt.Errorf("delete succeeded job %s: %w", rec.ID, err)
		}
		e.extensions.EmitJobSucceeded(settleCtx, rec, elapsed)
		return Succeeded, nil
	}

	if errors.Is(context.Cause(ctx), ErrShutdown) {
		return e.Release(settleCtx, rec)
	}

	decision := e.policy.Decide(rec.Attempts, rec.MaxAttempts, runErr)
	if decision.Outcome == backoff.DeadLetter {
		return e.DeadLetter(settleCtx, rec, runErr)
	}

	availableAt := e.now().UTC().Add(decision.Delay)
	if err := e.store.RequeueJob(settleCtx, rec.ID, availableAt, runErr.Error()); err != nil {
		return Retrying, fmt.Errorf("requeue job %s: %w", rec.ID, err)
	}

	e.logger.Warn("job failed, retrying",
		slog.String("job_id", rec.ID.String()),
		slog.String("job_name", desc.Name),
		slog.Int("attempt", rec.Attempts+1),
		slog.Duration("delay", decision.Delay),
		slog.String("error", runErr.Error()),
	)
	e.extensions.EmitJobRetrying(settleCtx, rec, rec.Attempts+1, availableAt, runErr)
	return Retrying, nil
}

// DeadLetter snapshots rec into the failed job store and deletes it from
// the job store. If the snapshot cannot be written the record is left
// reserved so the reaper recovers it later.
func (e *Executor) DeadLetter(ctx context.Context, rec *job.Record, jobErr error) (Outcome, error) {
	snapshot := rec.Clone()
	snapshot.Attempts++
	if jobErr != nil {
		snapshot.LastError = jobErr.Error()
	}

	if err := e.dlq.Push(ctx, snapshot, jobErr); err != nil {
		return DeadLettered, fmt.Errorf("push job %s to failed store: %w", rec.ID, err)
	}
	if err := e.store.DeleteJob(ctx, rec.ID); err != nil {
		return DeadLettered, fmt.Errorf("delete dead-lettered job %s: %w", rec.ID, err)
	}

	attrs := []any{
		slog.String("job_id", rec.ID.String()),
		slog.String("job_name", rec.Name()),
		slog.Int("attempts", snapshot.Attempts),
	}
	if jobErr != nil {
		attrs = append(attrs, slog.String("error", jobErr.Error()))
	}
	e.logger.Error("job moved to failed store", attrs...)
	e.extensions.EmitJobDeadLettered(ctx, rec, jobErr)
	return DeadLettered, nil
}

// Release returns rec to its queue without counting an attempt.
func (e *Executor) Release(ctx context.Context, rec *job.Record) (Outcome, error) {
	if err := e.store.ReleaseJob(ctx, rec.ID); err != nil {
		return Released, fmt.Errorf("release job %s: %w", rec.ID, err)
	}
	e.logger.Info("job released",
		slog.String("job_id", rec.ID.String()),
		slog.String("job_name", rec.Name()),
	)
	e.extensions.EmitJobReleased(ctx, rec)
	return Released, nil
}
