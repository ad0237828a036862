package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/conveyor/engine"
)

func (a *app) workCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run workers until interrupted",
		Long: "Run claim loops and the stalled job reaper until the process is interrupted. " +
			"With --once, process every claimable job and exit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := a.engine(ctx, engine.WithComponents(engine.Workers))
			if err != nil {
				return err
			}

			if once {
				defer a.closeStore(eng)
				n, err := eng.Drain(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d job(s)\n", n)
				return nil
			}

			a.logger.Info("worker started",
				slog.Any("queues", a.queues),
				slog.Int("concurrency", a.concurrency),
			)
			return eng.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "drain claimable jobs and exit")
	return cmd
}
