package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/job"
)

// Logging returns middleware that logs each execution and its outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *job.Record, next Handler) error {
		attrs := []any{
			slog.String("job_name", r.Name()),
			slog.String("job_id", r.ID.String()),
			slog.String("queue", r.Queue),
			slog.Int("attempt", r.Attempts+1),
		}
		logger.Debug("job started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Warn("job failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.Info("job completed", attrs...)
		return nil
	}
}
