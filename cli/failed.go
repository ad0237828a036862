package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
)

func (a *app) failedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect and act on failed jobs",
	}
	cmd.AddCommand(
		a.failedListCommand(),
		a.failedRetryCommand(),
		a.failedDeleteCommand(),
		a.failedFlushCommand(),
	)
	return cmd
}

func (a *app) failedListCommand() *cobra.Command {
	var (
		queue         string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List failed jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer a.closeStore(eng)

			entries, err := eng.DLQService().Store().ListFailed(ctx, dlq.ListOpts{
				Queue:  queue,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no failed jobs")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tJOB\tQUEUE\tATTEMPTS\tFAILED AT\tEXCEPTION")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					e.ID, e.JobName, e.Queue, e.Attempts, e.MaxAttempts,
					e.FailedAt.Format(time.RFC3339), firstLine(e.Exception))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "only this queue")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func (a *app) failedRetryCommand() *cobra.Command {
	var (
		all   bool
		queue string
	)
	cmd := &cobra.Command{
		Use:   "retry [id...]",
		Short: "Push failed jobs back onto their queues",
		Long:  "Re-enqueue the given failed jobs with zero attempts. With --all, retry every failed job (optionally only --queue).",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass failed job IDs or --all")
			}
			ctx := cmd.Context()
			eng, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer a.closeStore(eng)

			out := cmd.OutOrStdout()
			if all {
				recs, err := eng.DLQService().RetryAll(ctx, queue)
				for _, r := range recs {
					fmt.Fprintf(out, "retried as %s\n", r.ID)
				}
				return err
			}

			var errs []error
			for _, arg := range args {
				entryID, err := id.ParseFailedJobID(arg)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", arg, err))
					continue
				}
				rec, err := eng.DLQService().Retry(ctx, entryID)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", arg, err))
					continue
				}
				fmt.Fprintf(out, "%s retried as %s\n", arg, rec.ID)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "retry every failed job")
	cmd.Flags().StringVar(&queue, "queue", "", "with --all, only this queue")
	return cmd
}

func (a *app) failedDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete id...",
		Short: "Delete failed jobs without retrying them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer a.closeStore(eng)

			var errs []error
			for _, arg := range args {
				entryID, err := id.ParseFailedJobID(arg)
				if err == nil {
					err = eng.DLQService().Store().DeleteFailed(ctx, entryID)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", arg, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", arg)
			}
			return errors.Join(errs...)
		},
	}
}

func (a *app) failedFlushCommand() *cobra.Command {
	var queue string
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Delete every failed job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer a.closeStore(eng)

			n, err := eng.DLQService().Flush(ctx, queue)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "flushed %d failed job(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "only this queue")
	return cmd
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
