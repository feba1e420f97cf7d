package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/apiclient"
	"github.com/dukex/procflow/pkg/cmd"
	"github.com/dukex/procflow/pkg/config"
	"github.com/dukex/procflow/pkg/engine"
	"github.com/dukex/procflow/pkg/metrics"
	"github.com/dukex/procflow/pkg/notify"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/sources/redisstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
)

const notifyWebhookTimeout = 10 * time.Second

// runtime is everything a command built from the engine flags owns.
type runtime struct {
	engine   *engine.Engine
	metrics  *metrics.Prom
	registry *prometheus.Registry
	logger   *slog.Logger

	store    persistence.Persistence
	buses    cmd.Buses
	redis    redis.UniversalClient
	source   *redisstream.Source
	shutdown otelhelper.ShutdownFunc
}

func bootstrap(ctx context.Context, command *cli.Command, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{logger: logger}

	var err error

	rt.store, err = cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	rt.buses, err = cmd.NewEventBuses(command.String("event-bus"), command.StringSlice("kafka-brokers"), command.String("kafka-consumer-group"), logger)
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt.metrics, err = metrics.NewProm("procflow", rt.registry)
	if err != nil {
		rt.Close(ctx)

		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	tracer := otelhelper.NoopTracer()

	if command.Bool("otel-enabled") {
		tracer, rt.shutdown, err = otelhelper.NewTracer(ctx, "procflow")
		if err != nil {
			rt.Close(ctx)

			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	reg, err := cmd.NewRegistry(logger, command.String("plugins-path"))
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	router := notify.NewRouter(notify.NewLog(logger))
	if url := command.String("notify-webhook-url"); url != "" {
		router.Route("webhook", notify.NewWebhook(url, notifyWebhookTimeout))
	}

	rt.engine, err = engine.New(engine.Config{
		TickInterval:     command.Duration("tick-interval"),
		ReminderInterval: command.Duration("reminder-interval"),
		ReminderChannel:  command.String("reminder-channel"),
		DocumentsPath:    command.String("documents-path"),
		Breaker: apiclient.Config{
			FailureThreshold: command.Uint32("api-failure-threshold"),
			OpenTimeout:      command.Duration("api-open-timeout"),
		},
	}, engine.Dependencies{
		Store:    rt.store,
		Outbound: rt.buses.Outbound,
		Inbound:  rt.buses.Inbound,
		Registry: reg,
		Notifier: router,
		Metrics:  rt.metrics,
		Tracer:   tracer,
		Logger:   logger,
	})
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	catalog, err := config.LoadCatalogOrEmpty(command.String("catalog-path"))
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	if err := catalog.Seed(ctx, rt.store, time.Now().UTC()); err != nil {
		rt.Close(ctx)

		return nil, err
	}

	if url := command.String("redis-url"); url != "" {
		rt.redis, err = redisstream.NewClient(url)
		if err != nil {
			rt.Close(ctx)

			return nil, err
		}

		rt.source = redisstream.New(rt.redis, rt.engine.Inbound, redisstream.Config{
			Stream: command.String("redis-stream"),
		}, logger)
	}

	return rt, nil
}

// startInbound starts the redis stream consumer when one is configured.
func (rt *runtime) startInbound(ctx context.Context) error {
	if rt.source == nil {
		return nil
	}

	return rt.source.Start(ctx)
}

// Close releases everything bootstrap acquired, in reverse order.
func (rt *runtime) Close(ctx context.Context) {
	if rt.source != nil {
		if err := rt.source.Stop(ctx); err != nil {
			rt.logger.ErrorContext(ctx, "Failed to stop redis stream consumer", "error", err)
		}
	}

	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
		}
	}

	if rt.shutdown != nil {
		if err := rt.shutdown(ctx); err != nil {
			rt.logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}

	if rt.buses.Outbound != nil {
		if err := rt.buses.Close(); err != nil {
			rt.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}

	if rt.store != nil {
		if err := rt.store.Close(ctx); err != nil {
			rt.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}
}
