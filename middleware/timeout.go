package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/job"
)

// Timeout returns middleware that enforces a per-execution deadline.
// The record's own timeout (from its payload descriptor) wins; fallback
// applies when the record carries none. Zero disables the deadline.
func Timeout(logger *slog.Logger, fallback time.Duration) Middleware {
	return func(ctx context.Context, r *job.Record, next Handler) error {
		d := r.Timeout()
		if d <= 0 {
			d = fallback
		}
		if d > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", r.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
