// Package engine wires the conveyor subsystems together and provides the
// application-level API for registering handlers and enqueuing work.
//
// The root conveyor package holds configuration and cannot import the
// subsystem packages back, so the engine sits above job, worker, schedule,
// dlq and monitor and below the application layer.
//
// # Building an Engine
//
//	c, err := conveyor.New(
//	    conveyor.WithStore(pgStore),
//	    conveyor.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithExtension(myExtension),
//	    engine.WithBackoff(backoff.NewExponential(time.Second, time.Hour)),
//	    engine.WithQueueConfig(queue.Config{Name: "mail", RateLimit: 10, RateBurst: 10}),
//	)
//
// # Registering Work
//
//	engine.Register(eng, job.NewDefinition("send_email", sendEmail))
//	eng.RegisterSchedule(schedule.Definition{
//	    Name:    "reports",
//	    Rate:    "Every.FiveMinutes",
//	    Handler: buildReports,
//	})
//
// # Enqueuing Jobs
//
//	engine.Enqueue(ctx, eng, "send_email", EmailInput{To: "user@example.com"})
//	engine.Enqueue(ctx, eng, "send_email", input, job.WithDelay(5*time.Minute))
//
// # Options
//
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the execution chain
//   - [WithBackoff] sets the retry backoff strategy
//   - [WithQueueConfig] configures per-queue rate limits and concurrency
//   - [WithLedger] and [WithStoreLedger] pick where the schedule ledger lives
//   - [WithComponents] limits which runners Start launches
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
