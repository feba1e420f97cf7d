package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 15 * time.Second

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the API server, the inbound consumers and the scheduler",
		Flags: append(engineFlags(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.BoolFlag{
				Name:    "scheduler",
				Usage:   "Run the scheduler loop in this process",
				Value:   true,
				Sources: cli.EnvVars("RUN_SCHEDULER"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing procflow API")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx, command, logger)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if command.Bool("scheduler") {
				err = rt.engine.Start(ctx)
			} else {
				err = rt.engine.StartInbound(ctx)
			}

			if err != nil {
				return err
			}

			if err := rt.startInbound(ctx); err != nil {
				return err
			}

			handlers := web.NewAPIHandlers(rt.engine, validator.New(validator.WithRequiredStructEnabled()))
			app := web.NewApp(handlers, web.AppConfig{
				Metrics:   rt.metrics,
				Gatherer:  rt.registry,
				AccessLog: true,
			})

			go func() {
				<-ctx.Done()

				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()

				if err := app.ShutdownWithContext(shutdownCtx); err != nil {
					logger.ErrorContext(shutdownCtx, "Failed to shutdown API server", "error", err)
				}
			}()

			if err := app.Listen(":"+strconv.Itoa(command.Int("port")), fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
				return fmt.Errorf("failed to start API server: %w", err)
			}

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			return rt.engine.Stop(stopCtx)
		},
	}
}
