package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/procflow/pkg/channels/gochannel"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	pub, sub := gochannel.CreateChannel(watermill.NopLogger{})
	bus := eventbus.NewWatermillEventBus(pub, sub, events.Topic)

	t.Cleanup(func() { _ = bus.Close() })

	received := make(chan *events.InstanceEvent, 1)

	require.NoError(t, bus.Handle(events.InstanceCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.InstanceEvent)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// unhandled types are dropped without blocking later messages
	require.NoError(t, bus.Publish(ctx, "inst-0", events.StepEvent{
		BaseEvent: events.NewBase(bus.GenerateID(), events.StepCompletedEvent, "acme", time.Now()),
	}))

	require.NoError(t, bus.Publish(ctx, "inst-1", events.InstanceEvent{
		BaseEvent:  events.NewBase(bus.GenerateID(), events.InstanceCompletedEvent, "acme", time.Now()),
		InstanceID: "inst-1",
		Status:     models.InstanceStatusCompleted,
	}))

	select {
	case event := <-received:
		assert.Equal(t, "inst-1", event.InstanceID)
		assert.Equal(t, models.InstanceStatusCompleted, event.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}
