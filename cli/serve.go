package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/conveyor/api"
	"github.com/xraph/conveyor/engine"
)

func (a *app) serveCommand() *cobra.Command {
	var (
		addr       string
		withWork   bool
		withSched  bool
		accessLogs bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  "Serve the JSON API for stats, jobs, failed jobs and schedules. Optionally run workers and the scheduler in the same process.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var components engine.Component
			if withWork {
				components |= engine.Workers
			}
			if withSched {
				components |= engine.Scheduler
			}

			ctx := cmd.Context()
			eng, err := a.engine(ctx, engine.WithComponents(components))
			if err != nil {
				return err
			}

			var apiOpts []api.Option
			apiOpts = append(apiOpts, api.WithLogger(a.logger))
			if accessLogs {
				apiOpts = append(apiOpts, api.WithAccessLog(cmd.OutOrStdout()))
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.New(eng, apiOpts...).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return eng.Run(gctx) })
			g.Go(func() error {
				a.logger.Info("http api listening", slog.String("addr", addr))
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&withWork, "work", false, "also run workers")
	cmd.Flags().BoolVar(&withSched, "schedule", false, "also run the scheduler")
	cmd.Flags().BoolVar(&accessLogs, "access-log", true, "write an access log line per request to stdout")
	return cmd
}
