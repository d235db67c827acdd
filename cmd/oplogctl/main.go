package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/oplog-go/internal/cli/command"
	"github.com/yndnr/oplog-go/internal/infra/shutdown"
)

// shutdownGrace bounds how long a command may run after an interrupt.
const shutdownGrace = 10 * time.Second

func main() {
	h := shutdown.NewHandler(shutdownGrace)
	h.OnShutdown(func(context.Context) error {
		fmt.Fprintln(os.Stderr, "error: forced shutdown, store not closed cleanly")
		return nil
	})

	ctx, stop := h.Notify(context.Background())
	err := command.App().RunContext(ctx, os.Args)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			os.Exit(ec.ExitCode())
		}
		os.Exit(1)
	}
}
