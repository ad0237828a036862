// Package queue provides per-queue rate limiting and concurrency caps for
// the worker pool.
//
// Queues are named buckets of job records. A record's Queue field decides
// which queue it belongs to, and the pool claims from the queues listed in
// [conveyor.Config.Queues] (default: ["default"]).
//
// # Per-Queue Configuration
//
//	queue.Config{
//	    Name:           "email",
//	    MaxConcurrency: 5,  // max 5 concurrent email jobs
//	    RateLimit:      10, // max 10 jobs/s started from this queue
//	    RateBurst:      20, // allow bursts up to 20
//	}
//
// The same limits can be written as a flag value and parsed with
// [ParseConfig]:
//
//	email:5:10:20
//
// # Manager
//
// [Manager] is consulted by the pool after each claim. It uses a
// token-bucket rate limiter (golang.org/x/time/rate) and an active-count
// gate. A refused record is released back to its queue unchanged.
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(rec.Queue) {
//	    defer m.Release(rec.Queue)
//	    // run the job
//	}
//
// Queues without a [Config] have no limits beyond the pool-wide concurrency.
package queue
