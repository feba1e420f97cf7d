package services

import (
	"testing"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/persistence/file"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type triggerFixture struct {
	store     *file.Persistence
	processes *Process
	triggers  *Trigger
	process   *models.ProcessDefinition
}

func newTriggerFixture(t *testing.T) *triggerFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	f := &triggerFixture{
		store:     store,
		processes: NewProcess(store, testutil.Logger()),
		triggers:  NewTrigger(store, testutil.Logger()),
	}

	def, err := f.processes.Create(t.Context(), "acme", "alice", newDraft("Invoices"))
	require.NoError(t, err)

	f.process = def

	return f
}

func scheduled(cron, timezone string) *models.Trigger {
	return &models.Trigger{
		Type:      models.TriggerTypeScheduled,
		Condition: &models.ScheduledCondition{Cron: cron, Timezone: timezone, Payload: map[string]any{"batch": "daily"}},
		IsActive:  true,
	}
}

func TestTrigger_CreateInactive(t *testing.T) {
	f := newTriggerFixture(t)

	created, err := f.triggers.Create(t.Context(), "acme", f.process.ID, "alice", &models.Trigger{
		Type:      models.TriggerTypeEvent,
		Condition: &models.EventCondition{Event: "invoice.created"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.IsActive)
	assert.Equal(t, f.process.ID, created.ProcessID)
	assert.Equal(t, "acme", created.CompanyID)

	list, err := f.triggers.ListByProcess(t.Context(), "acme", f.process.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.triggers.ListByProcess(t.Context(), "globex", f.process.ID)
	require.ErrorIs(t, err, persistence.ErrProcessNotFound)
}

func TestTrigger_ActivateValidatesCondition(t *testing.T) {
	tests := []struct {
		name    string
		trigger *models.Trigger
	}{
		{name: "bad cron", trigger: scheduled("every day", "")},
		{name: "bad timezone", trigger: scheduled("0 0 * * *", "Mars/Olympus")},
		{
			name: "broken schema",
			trigger: &models.Trigger{
				Type:      models.TriggerTypeWebhook,
				Condition: &models.WebhookCondition{Schema: map[string]any{"type": 12}},
				IsActive:  true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTriggerFixture(t)

			_, err := f.triggers.Create(t.Context(), "acme", f.process.ID, "alice", tt.trigger)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestTrigger_ScheduledTriggerOwnsJob(t *testing.T) {
	f := newTriggerFixture(t)
	ctx := t.Context()
	jobs := f.store.ScheduledJobRepository()

	tr, err := f.triggers.Create(ctx, "acme", f.process.ID, "alice", scheduled("0 0 * * *", "UTC"))
	require.NoError(t, err)
	assert.True(t, tr.IsActive)

	job, err := jobs.ByTrigger(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, job.IsActive)
	assert.Equal(t, "0 0 * * *", job.Cron)
	assert.Equal(t, "Invoices schedule", job.Name)
	assert.Equal(t, map[string]any{"batch": "daily"}, job.Payload)
	assert.Nil(t, job.NextRunAt)

	next := testutil.Epoch
	won, err := jobs.Claim(ctx, job.ID, nil, nil, next)
	require.NoError(t, err)
	require.True(t, won)

	// Reactivating with the same pattern keeps the claimed boundary.
	_, err = f.triggers.Activate(ctx, "acme", tr.ID, "alice")
	require.NoError(t, err)

	job, err = jobs.ByTrigger(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.Equal(next))

	_, err = f.triggers.Deactivate(ctx, "acme", tr.ID, "bob")
	require.NoError(t, err)

	job, err = jobs.ByTrigger(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, job.IsActive)

	// Coming back from inactive forgets the missed boundary.
	_, err = f.triggers.Activate(ctx, "acme", tr.ID, "bob")
	require.NoError(t, err)

	job, err = jobs.ByTrigger(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, job.IsActive)
	assert.Nil(t, job.NextRunAt)
}

func TestTrigger_ArchivedProcessRejectsTriggers(t *testing.T) {
	f := newTriggerFixture(t)
	ctx := t.Context()

	_, err := f.processes.Archive(ctx, "acme", f.process.ID, "alice")
	require.NoError(t, err)

	_, err = f.triggers.Create(ctx, "acme", f.process.ID, "alice", scheduled("0 0 * * *", ""))
	require.ErrorIs(t, err, ErrCannotModifyArchived)
}

func TestTrigger_OtherCompany(t *testing.T) {
	f := newTriggerFixture(t)

	_, err := f.triggers.Create(t.Context(), "globex", f.process.ID, "mallory", scheduled("0 0 * * *", ""))
	require.ErrorIs(t, err, persistence.ErrProcessNotFound)

	tr, err := f.triggers.Create(t.Context(), "acme", f.process.ID, "alice", scheduled("0 0 * * *", ""))
	require.NoError(t, err)

	_, err = f.triggers.Deactivate(t.Context(), "globex", tr.ID, "mallory")
	require.ErrorIs(t, err, persistence.ErrTriggerNotFound)
}
