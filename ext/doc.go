// Package ext defines the extension system for conveyor.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics or writing audit logs. Each hook is a separate
// interface.
//
//	type slowJobs struct{}
//
//	func (slowJobs) Name() string { return "slow-jobs" }
//
//	func (slowJobs) OnJobSucceeded(ctx context.Context, r *job.Record, elapsed time.Duration) error {
//	    if elapsed > time.Minute {
//	        slog.Warn("slow job", slog.String("job", r.Name()))
//	    }
//	    return nil
//	}
//
// # Job record hooks
//
//   - [JobEnqueued]: a record was inserted
//   - [JobClaimed]: a worker reserved a record
//   - [JobSucceeded]: the handler returned nil and the record was deleted
//   - [JobRetrying]: the handler failed and the record was requeued
//   - [JobDeadLettered]: the record moved to the failed job store
//   - [JobReleased]: shutdown interrupted the handler and the record was released
//   - [JobReaped]: the reaper found the record stalled
//
// # Other hooks
//
//   - [ScheduleExecuted]: a recurring job ran
//   - [Shutdown]: the conveyor is shutting down
//
// The [Registry] fans each event out to every registered extension that
// implements the hook. Hook errors are logged and never propagated.
package ext
