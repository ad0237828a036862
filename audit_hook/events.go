package audithook

// Audit event actions. Each one corresponds to an ext lifecycle hook.
const (
	ActionJobEnqueued      = "job.enqueued"
	ActionJobClaimed       = "job.claimed"
	ActionJobSucceeded     = "job.succeeded"
	ActionJobRetrying      = "job.retrying"
	ActionJobDeadLettered  = "job.dead_lettered"
	ActionJobReleased      = "job.released"
	ActionJobReaped        = "job.reaped"
	ActionScheduleExecuted = "schedule.executed"
	ActionScheduleFailed   = "schedule.failed"
)

// Audit event categories.
const (
	CategoryJob      = "conveyor.job"
	CategorySchedule = "conveyor.schedule"
)

// Resource types.
const (
	ResourceJob      = "job"
	ResourceSchedule = "scheduled_job"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobClaimed,
		ActionJobSucceeded,
		ActionJobRetrying,
		ActionJobDeadLettered,
		ActionJobReleased,
		ActionJobReaped,
		ActionScheduleExecuted,
		ActionScheduleFailed,
	}
}
