package datastore_test

import (
	"testing"

	"github.com/dukex/procflow/pkg/datastore"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/mocks"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func changes(t *testing.T, p *mocks.RecordingPublisher) []events.DataChangeReceived {
	t.Helper()

	var out []events.DataChangeReceived

	for _, e := range p.OfType(events.DataChangeReceivedEvent) {
		change, ok := e.(events.DataChangeReceived)
		require.True(t, ok)

		out = append(out, change)
	}

	return out
}

func TestMemory_CRUDAnnouncesChanges(t *testing.T) {
	publisher := &mocks.RecordingPublisher{}
	store := datastore.NewMemory(publisher, testutil.Logger())
	ctx := t.Context()

	created, err := store.Create(ctx, "acme", "invoice", map[string]any{"amount": 100, "status": "draft"})
	require.NoError(t, err)

	id, ok := created["id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	updated, err := store.Update(ctx, "acme", "invoice", id, map[string]any{"status": "paid", "amount": 100})
	require.NoError(t, err)
	assert.Equal(t, "paid", updated["status"])

	got, err := store.Get(ctx, "acme", "invoice", id)
	require.NoError(t, err)
	assert.Equal(t, "paid", got["status"])

	require.NoError(t, store.Delete(ctx, "acme", "invoice", id))

	_, err = store.Get(ctx, "acme", "invoice", id)
	require.ErrorIs(t, err, datastore.ErrRecordNotFound)

	received := changes(t, publisher)
	require.Len(t, received, 3)

	assert.Equal(t, "create", received[0].Change.Operation)
	assert.Equal(t, id, received[0].Change.RecordID)
	assert.Equal(t, "acme", received[0].CompanyID)

	assert.Equal(t, "update", received[1].Change.Operation)
	assert.Equal(t, "status", received[1].Change.Field)
	assert.Equal(t, "draft", received[1].Change.OldValue)
	assert.Equal(t, "paid", received[1].Change.NewValue)

	assert.Equal(t, "delete", received[2].Change.Operation)
}

func TestMemory_CompaniesAreIsolated(t *testing.T) {
	store := datastore.NewMemory(nil, testutil.Logger())
	ctx := t.Context()

	_, err := store.Create(ctx, "acme", "customer", map[string]any{"id": "c1"})
	require.NoError(t, err)

	_, err = store.Get(ctx, "globex", "customer", "c1")
	require.ErrorIs(t, err, datastore.ErrRecordNotFound)

	_, err = store.Update(ctx, "globex", "customer", "c1", map[string]any{"name": "x"})
	require.ErrorIs(t, err, datastore.ErrRecordNotFound)

	_, err = store.Create(ctx, "acme", "customer", map[string]any{"id": "c1"})
	require.Error(t, err)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	store := datastore.NewMemory(nil, testutil.Logger())
	ctx := t.Context()

	created, err := store.Create(ctx, "acme", "customer", map[string]any{"id": "c1", "name": "Acme"})
	require.NoError(t, err)

	created["name"] = "mutated"

	got, err := store.Get(ctx, "acme", "customer", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got["name"])
}
