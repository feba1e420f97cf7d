package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/procflow/pkg/channels/gochannel"
	"github.com/dukex/procflow/pkg/channels/kafka"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
)

// Buses holds the outbound lifecycle bus and the inbound notification bus.
type Buses struct {
	Outbound eventbus.EventBus
	Inbound  eventbus.EventBus
}

// Close closes both buses. Closing a shared in-memory channel twice is a no-op.
func (b Buses) Close() error {
	if err := b.Outbound.Close(); err != nil {
		return err
	}

	return b.Inbound.Close()
}

// NewEventBuses creates the outbound and inbound buses for provider, either
// "kafka" or "memory".
func NewEventBuses(provider string, brokers []string, consumerGroup string, logger *slog.Logger) (Buses, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		outPub, outSub, err := kafka.CreateChannel(wmLogger, brokers, consumerGroup)
		if err != nil {
			return Buses{}, fmt.Errorf("failed to create kafka pub/sub: %w", err)
		}

		inPub, inSub, err := kafka.CreateChannel(wmLogger, brokers, consumerGroup+"-inbound")
		if err != nil {
			_ = outPub.Close()
			_ = outSub.Close()

			return Buses{}, fmt.Errorf("failed to create kafka inbound pub/sub: %w", err)
		}

		return Buses{
			Outbound: eventbus.NewWatermillEventBus(outPub, outSub, events.Topic),
			Inbound:  eventbus.NewWatermillEventBus(inPub, inSub, events.InboundTopic),
		}, nil
	case "memory", "":
		pub, sub := gochannel.CreateChannel(wmLogger)

		return Buses{
			Outbound: eventbus.NewWatermillEventBus(pub, sub, events.Topic),
			Inbound:  eventbus.NewWatermillEventBus(pub, sub, events.InboundTopic),
		}, nil
	default:
		return Buses{}, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
