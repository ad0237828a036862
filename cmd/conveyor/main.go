// Command conveyor operates conveyor queues: workers, the scheduler,
// failed job maintenance and the HTTP API. It has no handlers of its own;
// applications embed cli.Command with their handlers registered.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xraph/conveyor/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Command().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
