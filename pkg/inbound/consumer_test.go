package inbound_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/procflow/pkg/channels/gochannel"
	"github.com/dukex/procflow/pkg/datastore"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/inbound"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDeliverer struct {
	mock.Mock
}

func (m *mockDeliverer) DeliverEvent(ctx context.Context, event models.ExternalEvent) ([]*models.ProcessInstance, error) {
	args := m.Called(ctx, event)

	return nil, args.Error(0)
}

func (m *mockDeliverer) DeliverDataChange(ctx context.Context, change models.DataChange) ([]*models.ProcessInstance, error) {
	args := m.Called(ctx, change)

	return nil, args.Error(0)
}

func TestConsumer_Dispatch(t *testing.T) {
	deliverer := &mockDeliverer{}
	deliverer.On("DeliverEvent", mock.Anything, mock.MatchedBy(func(e models.ExternalEvent) bool {
		return e.Name == "order.placed" && e.CompanyID == "acme"
	})).Return(nil).Once()
	deliverer.On("DeliverDataChange", mock.Anything, mock.MatchedBy(func(c models.DataChange) bool {
		return c.Entity == "invoice" && c.Operation == "update" && c.Field == "status"
	})).Return(nil).Once()

	consumer := inbound.NewConsumer(deliverer, testutil.Logger())
	ctx := t.Context()

	require.NoError(t, consumer.Dispatch(ctx, inbound.KindEvent,
		[]byte(`{"name":"order.placed","company_id":"acme","payload":{"total":10}}`)))
	require.NoError(t, consumer.Dispatch(ctx, inbound.KindDataChange,
		[]byte(`{"entity":"invoice","field":"status","operation":"update","company_id":"acme"}`)))

	deliverer.AssertExpectations(t)
}

func TestConsumer_DropsInvalidMessages(t *testing.T) {
	deliverer := &mockDeliverer{}
	consumer := inbound.NewConsumer(deliverer, testutil.Logger())
	ctx := t.Context()

	tests := []struct {
		name string
		kind string
		data string
	}{
		{"undecodable event", inbound.KindEvent, `{`},
		{"event without name", inbound.KindEvent, `{"company_id":"acme"}`},
		{"data change without entity", inbound.KindDataChange, `{"operation":"create"}`},
		{"unknown operation", inbound.KindDataChange, `{"entity":"invoice","operation":"upsert"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, consumer.Dispatch(ctx, tt.kind, []byte(tt.data)))
		})
	}

	require.ErrorIs(t, consumer.Dispatch(ctx, "sms", []byte(`{}`)), inbound.ErrUnknownKind)
	deliverer.AssertNotCalled(t, "DeliverEvent", mock.Anything, mock.Anything)
	deliverer.AssertNotCalled(t, "DeliverDataChange", mock.Anything, mock.Anything)
}

func TestConsumer_DataStoreWritesReachTriggersOverTheBus(t *testing.T) {
	pub, sub := gochannel.CreateChannel(watermill.NopLogger{})
	bus := eventbus.NewWatermillEventBus(pub, sub, events.InboundTopic)

	t.Cleanup(func() { _ = bus.Close() })

	delivered := make(chan models.DataChange, 1)

	deliverer := &mockDeliverer{}
	deliverer.On("DeliverDataChange", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		delivered <- args.Get(1).(models.DataChange)
	}).Return(nil)

	consumer := inbound.NewConsumer(deliverer, testutil.Logger())
	require.NoError(t, consumer.Register(bus))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	store := datastore.NewMemory(bus, testutil.Logger())
	_, err := store.Create(ctx, "acme", "customer", map[string]any{"id": "c1", "name": "Globex"})
	require.NoError(t, err)

	select {
	case change := <-delivered:
		assert.Equal(t, "customer", change.Entity)
		assert.Equal(t, "create", change.Operation)
		assert.Equal(t, "c1", change.RecordID)
		assert.Equal(t, "acme", change.CompanyID)
	case <-time.After(2 * time.Second):
		t.Fatal("data change was not delivered")
	}
}
