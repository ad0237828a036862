// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps a job handler. Middleware are composed with
// [Chain], where the first middleware is the outermost wrapper:
//
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs name, queue, attempt, duration, and outcome
//   - [Recover]: turns panics into errors so the retry policy sees them
//   - [Timeout]: cancels the handler context after the record's deadline
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records duration and outcome counters
//
// # Writing Custom Middleware
//
//	func Audit() middleware.Middleware {
//	    return func(ctx context.Context, r *job.Record, next middleware.Handler) error {
//	        err := next(ctx)
//	        audit.Record(r.ID, err)
//	        return err
//	    }
//	}
package middleware
