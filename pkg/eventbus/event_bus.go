// Package eventbus carries engine lifecycle events out and inbound
// notifications in over watermill.
package eventbus

import (
	"context"

	"github.com/dukex/procflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives the decoded event: a pointer to the concrete type
// returned by events.New.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// Discard is a publisher that drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, Event) error { return nil }
