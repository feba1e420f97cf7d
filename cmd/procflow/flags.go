package main

import (
	"time"

	"github.com/dukex/procflow/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres://... or a file root)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, memory)",
			Value:   "memory",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers, comma separated",
			Value:   []string{"localhost:9092"},
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "kafka-consumer-group",
			Usage:   "Kafka consumer group",
			Value:   "procflow",
			Sources: cli.EnvVars("KAFKA_CONSUMER_GROUP"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL of the inbound notification stream; empty disables it",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-stream",
			Usage:   "Redis stream carrying inbound notifications",
			Value:   "procflow:inbound",
			Sources: cli.EnvVars("REDIS_STREAM"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing step plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.DurationFlag{
			Name:    "tick-interval",
			Usage:   "Scheduler tick interval",
			Value:   scheduler.DefaultInterval,
			Sources: cli.EnvVars("TICK_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "reminder-interval",
			Usage:   "Default interval between approval reminders; zero disables reminders without a step setting",
			Value:   24 * time.Hour,
			Sources: cli.EnvVars("REMINDER_INTERVAL"),
		},
		&cli.StringFlag{
			Name:    "reminder-channel",
			Usage:   "Notification channel used for approval requests and reminders",
			Value:   "email",
			Sources: cli.EnvVars("REMINDER_CHANNEL"),
		},
		&cli.StringFlag{
			Name:    "documents-path",
			Usage:   "Directory generated documents are written to",
			Value:   "./documents",
			Sources: cli.EnvVars("DOCUMENTS_PATH"),
		},
		&cli.StringFlag{
			Name:    "catalog-path",
			Usage:   "YAML catalog of step templates and API connections seeded at startup",
			Sources: cli.EnvVars("CATALOG_PATH"),
		},
		&cli.StringFlag{
			Name:    "notify-webhook-url",
			Usage:   "URL receiving notifications sent on the webhook channel",
			Sources: cli.EnvVars("NOTIFY_WEBHOOK_URL"),
		},
		&cli.Uint32Flag{
			Name:    "api-failure-threshold",
			Usage:   "Consecutive failures that open an API connection's circuit breaker",
			Value:   5,
			Sources: cli.EnvVars("API_FAILURE_THRESHOLD"),
		},
		&cli.DurationFlag{
			Name:    "api-open-timeout",
			Usage:   "How long an open circuit breaker waits before probing again",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("API_OPEN_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}
