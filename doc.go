// Package conveyor provides a durable job queue and a recurring scheduler
// for Go services.
//
// Producers insert job records into a store; one or more worker pools
// claim them atomically, run the registered handler, and then delete,
// requeue with backoff, or dead-letter the record. Independently, a single
// scheduler keeps a rolling ledger of upcoming run times for every
// recurring job and runs the handlers in-process when they come due.
//
// # Quick Start
//
//	c, err := conveyor.New(
//	    conveyor.WithStore(pgStore),
//	    conveyor.WithConcurrency(20),
//	)
//	eng, err := engine.Build(c)
//	engine.Register(eng, job.NewDefinition("send_email", sendEmail))
//	err = eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (job, dlq, schedule) defines its own store interface and a
// single backend (memory, postgres, sqlite, redis, mongo) implements all of
// them. Job status is never stored: it is derived from the available_at and
// reserved_at timestamps, see job.Status.
package conveyor
