package services

import (
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_StepTemplates(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	catalog := NewCatalog(store)
	ctx := t.Context()

	global := &models.StepTemplate{
		ID:     "notify-requester",
		Name:   "Notify requester",
		Type:   models.StepTypeNotification,
		Config: &models.NotificationConfig{Channel: "email", To: "{{ .requester }}", Body: "Done"},
	}
	require.NoError(t, store.StepTemplateRepository().Save(ctx, global))

	own, err := catalog.CreateStepTemplate(ctx, "acme", "alice", &models.StepTemplate{
		Name:   "Finance approval",
		Type:   models.StepTypeApproval,
		Config: &models.ApprovalConfig{Approver: "cfo"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, own.ID)

	list, err := catalog.StepTemplates(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = catalog.StepTemplates(ctx, "globex")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, global.ID, list[0].ID)

	_, err = catalog.StepTemplate(ctx, "globex", global.ID)
	require.NoError(t, err)

	_, err = catalog.StepTemplate(ctx, "globex", own.ID)
	require.ErrorIs(t, err, persistence.ErrStepTemplateNotFound)

	_, err = catalog.CreateStepTemplate(ctx, "acme", "alice", &models.StepTemplate{
		Name: "Empty approval",
		Type: models.StepTypeApproval,
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestCatalog_APIConnections(t *testing.T) {
	catalog := NewCatalog(file.NewPersistence(t.TempDir()))
	ctx := t.Context()

	conn, err := catalog.CreateAPIConnection(ctx, "acme", "alice", &models.APIConnection{
		Name:     "CRM",
		BaseURL:  "https://crm.example.com/api",
		Headers:  map[string]string{"Authorization": "Bearer token"},
		Timeout:  models.Duration(5 * time.Second),
		IsActive: true,
	})
	require.NoError(t, err)

	fetched, err := catalog.APIConnection(ctx, "acme", conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://crm.example.com/api", fetched.BaseURL)

	_, err = catalog.APIConnection(ctx, "globex", conn.ID)
	require.ErrorIs(t, err, persistence.ErrAPIConnectionNotFound)

	list, err := catalog.APIConnections(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = catalog.CreateAPIConnection(ctx, "acme", "alice", &models.APIConnection{Name: "Broken", BaseURL: "not a url"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}
