package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/dukex/procflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func NewSchedulerCommand() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "Run only the scheduler loop: due jobs, delayed steps and approval reminders",
		Flags: engineFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("scheduler")

			logger.InfoContext(ctx, "Initializing procflow scheduler")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx, command, logger)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if err := rt.engine.StartScheduler(ctx); err != nil {
				return err
			}

			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			return rt.engine.Stop(stopCtx)
		},
	}
}
