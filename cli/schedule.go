package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/conveyor/engine"
)

func (a *app) scheduleRunCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "schedule:run",
		Short: "Run the recurring job scheduler",
		Long: "Tick the schedule ledger every tick interval until interrupted. " +
			"With --once, run a single tick and exit. Only one scheduler may run per ledger.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := a.engine(ctx, engine.WithComponents(engine.Scheduler))
			if err != nil {
				return err
			}
			if once {
				defer a.closeStore(eng)
				return eng.Scheduler().Tick(ctx, time.Now())
			}
			return eng.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run one tick and exit")
	return cmd
}

func (a *app) scheduleStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule:status",
		Short: "Show the schedule ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer a.closeStore(eng)

			entries, err := eng.Scheduler().Status(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schedule ledger is empty")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tRATE\tNEXT RUN\tUPCOMING\tORPHANED")
			for _, e := range entries {
				next := "-"
				if e.NextRun != nil {
					next = e.NextRun.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\n", e.JobName, e.Rate, next, e.Upcoming, e.Orphaned)
			}
			return tw.Flush()
		},
	}
}
