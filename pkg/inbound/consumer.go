// Package inbound feeds external events and data-change notifications from
// the inbound bus (and other transports) to the trigger evaluator.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

// Message kinds accepted by Dispatch.
const (
	KindEvent      = "event"
	KindDataChange = "data_change"
)

var ErrUnknownKind = errors.New("unknown inbound message kind")

// Deliverer fans a notification out to the matching triggers.
type Deliverer interface {
	DeliverEvent(ctx context.Context, event models.ExternalEvent) ([]*models.ProcessInstance, error)
	DeliverDataChange(ctx context.Context, change models.DataChange) ([]*models.ProcessInstance, error)
}

type Consumer struct {
	deliverer Deliverer
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewConsumer(deliverer Deliverer, logger *slog.Logger) *Consumer {
	return &Consumer{
		deliverer: deliverer,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With("module", "inbound_consumer"),
	}
}

// Register subscribes the consumer to both inbound event types.
func (c *Consumer) Register(sub eventbus.EventSubscriber) error {
	if err := sub.Handle(events.ExternalEventReceivedEvent, c.handleEvent); err != nil {
		return fmt.Errorf("failed to register external event handler: %w", err)
	}

	if err := sub.Handle(events.DataChangeReceivedEvent, c.handleDataChange); err != nil {
		return fmt.Errorf("failed to register data change handler: %w", err)
	}

	return nil
}

func (c *Consumer) handleEvent(ctx context.Context, event any) error {
	received, ok := event.(*events.ExternalEventReceived)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	return c.DeliverEvent(ctx, received.Event)
}

func (c *Consumer) handleDataChange(ctx context.Context, event any) error {
	received, ok := event.(*events.DataChangeReceived)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	return c.DeliverDataChange(ctx, received.Change)
}

// DeliverEvent validates and delivers an external event. Invalid messages
// are dropped with a warning; redelivering them cannot succeed.
func (c *Consumer) DeliverEvent(ctx context.Context, event models.ExternalEvent) error {
	if err := c.validate.Struct(event); err != nil {
		c.logger.WarnContext(ctx, "Dropping invalid external event", "error", err)

		return nil
	}

	started, err := c.deliverer.DeliverEvent(ctx, event)
	if err != nil {
		return err
	}

	c.logger.DebugContext(ctx, "External event delivered", "event", event.Name, "company_id", event.CompanyID, "instances", len(started))

	return nil
}

func (c *Consumer) DeliverDataChange(ctx context.Context, change models.DataChange) error {
	if err := c.validate.Struct(change); err != nil {
		c.logger.WarnContext(ctx, "Dropping invalid data change", "error", err)

		return nil
	}

	started, err := c.deliverer.DeliverDataChange(ctx, change)
	if err != nil {
		return err
	}

	c.logger.DebugContext(ctx, "Data change delivered", "entity", change.Entity, "operation", change.Operation, "instances", len(started))

	return nil
}

// Dispatch decodes a raw JSON message of kind and delivers it. It serves
// transports that carry the bare notification rather than a bus event.
func (c *Consumer) Dispatch(ctx context.Context, kind string, data []byte) error {
	switch kind {
	case KindEvent:
		var event models.ExternalEvent
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.WarnContext(ctx, "Dropping undecodable external event", "error", err)

			return nil
		}

		return c.DeliverEvent(ctx, event)
	case KindDataChange:
		var change models.DataChange
		if err := json.Unmarshal(data, &change); err != nil {
			c.logger.WarnContext(ctx, "Dropping undecodable data change", "error", err)

			return nil
		}

		return c.DeliverDataChange(ctx, change)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
