package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/conveyor/job"
)

// Recover returns middleware that converts handler panics into errors
// and logs them with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *job.Record, next Handler) (retErr error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("job handler panicked",
					slog.String("job_name", r.Name()),
					slog.String("job_id", r.ID.String()),
					slog.Any("panic", p),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in job %s: %v", r.Name(), p)
			}
		}()
		return next(ctx)
	}
}
