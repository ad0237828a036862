// Package schedule runs recurring jobs from a rolling ledger of planned
// run times.
//
// Every recurring job has a [Rate] drawn from a closed set of minute
// intervals. The [Scheduler] keeps, per job, a short list of upcoming
// run times in a [Ledger]. On each tick it executes the handler once for
// every time that has come due, drops those times, and tops the list up
// with [Scheduler] RegenerationCount new times whenever fewer than
// Threshold remain. The whole ledger is persisted after every tick, so a
// restarted scheduler picks up exactly where the previous one stopped.
//
// Handlers run in-process, sequentially, inside the tick. They are not
// enqueued and get no retry or dead-letter treatment.
//
// Definitions come from a [Provider]; [Registry] is the programmatic one:
//
//	reg := schedule.NewRegistry()
//	reg.Register(schedule.Definition{
//	    Name:    "prune-sessions",
//	    Rate:    "Every.FiveMinutes",
//	    Handler: pruneSessions,
//	})
//
//	s := schedule.NewScheduler(schedule.NewFileLedger(path, logger), reg, nil, logger)
//	s.Start(ctx)
package schedule
