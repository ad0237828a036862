// Package observability provides an OpenTelemetry metrics extension for
// conveyor. MetricsExtension implements the lifecycle hooks in package ext
// and records system-wide counters for enqueue, claim, success, retry,
// dead-letter, release, reap and recurring job events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
