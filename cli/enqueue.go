package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/conveyor/job"
)

func (a *app) enqueueCommand() *cobra.Command {
	var (
		params      string
		queue       string
		delay       time.Duration
		maxAttempts int
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enqueue name",
		Short: "Enqueue a job for the named handler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(params)) {
				return errors.New("--params must be valid JSON")
			}
			if delay < 0 {
				return errors.New("--delay must not be negative")
			}

			ctx := cmd.Context()
			eng, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer a.closeStore(eng)

			opts := []job.Option{job.WithDelay(delay)}
			if queue != "" {
				opts = append(opts, job.WithQueue(queue))
			}
			if maxAttempts > 0 {
				opts = append(opts, job.WithMaxAttempts(maxAttempts))
			}
			if timeout > 0 {
				opts = append(opts, job.WithTimeout(timeout))
			}

			rec, err := eng.EnqueueRaw(ctx, args[0], []byte(params), opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s enqueued on %s, available at %s\n",
				rec.ID, rec.Queue, rec.AvailableAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&params, "params", "{}", "handler params as JSON")
	cmd.Flags().StringVar(&queue, "queue", "", "queue name (default: the handler's, or \"default\")")
	cmd.Flags().DurationVar(&delay, "delay", 0, "make the job available after this long")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempts before the job is failed (default 3)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-execution deadline")
	return cmd
}
