package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xraph/conveyor/monitor"
)

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [queue...]",
		Short: "Show job counts and health per queue",
		Long:  "Show pending, processing, delayed and failed counts for each queue (default: --queues), then the health grade and any alerts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer a.closeStore(eng)

			queues := a.queues
			if len(args) > 0 {
				queues = args
			}
			per, err := eng.Monitor().StatsByQueue(ctx, queues)
			if err != nil {
				return err
			}
			all, err := eng.Monitor().Stats(ctx, "")
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE\tPENDING\tPROCESSING\tDELAYED\tFAILED\tTOTAL")
			for _, s := range per {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Processing, s.Delayed, s.Failed, s.Total)
			}
			fmt.Fprintf(tw, "(all)\t%d\t%d\t%d\t%d\t%d\n", all.Pending, all.Processing, all.Delayed, all.Failed, all.Total)
			if err := tw.Flush(); err != nil {
				return err
			}

			cfg := monitor.DefaultHealthConfig()
			cfg.Queues = queues
			health, err := eng.Monitor().Health(ctx, cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nhealth: %s\n", health.Status)
			for _, al := range health.Alerts {
				fmt.Fprintf(out, "  [%s] %s\n", al.Level, al.Message)
			}
			return nil
		},
	}
}
