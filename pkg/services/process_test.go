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

func newDraft(name string) *models.ProcessDefinition {
	return &models.ProcessDefinition{
		Name: name,
		Steps: []models.Step{
			testutil.ActionStep("collect", map[string]any{"amount": 10}),
			testutil.ApprovalStep("review", "manager-7"),
		},
	}
}

func TestNewProcess(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewProcess(store, testutil.Logger())

	assert.NotNil(t, service)
	assert.Equal(t, store, service.persistence)
}

func TestProcess_Create(t *testing.T) {
	service := NewProcess(file.NewPersistence(t.TempDir()), testutil.Logger())

	created, err := service.Create(t.Context(), "acme", "alice", newDraft("Purchase order"))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.ProcessStatusDraft, created.Status)
	assert.Equal(t, models.InitialVersion, created.Version)
	assert.Equal(t, "acme", created.CompanyID)
	assert.Equal(t, "alice", created.CreatedBy)
	assert.False(t, created.CreatedAt.IsZero())

	fetched, err := service.FetchByID(t.Context(), "acme", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, fetched.Name)
	assert.Len(t, fetched.Steps, 2)
}

func TestProcess_CreateRejectsInvalidGraph(t *testing.T) {
	service := NewProcess(file.NewPersistence(t.TempDir()), testutil.Logger())

	def := newDraft("Broken")
	def.Steps[0].Next = "nowhere"

	_, err := service.Create(t.Context(), "acme", "alice", def)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestProcess_OtherCompanyCannotSeeDefinition(t *testing.T) {
	service := NewProcess(file.NewPersistence(t.TempDir()), testutil.Logger())

	created, err := service.Create(t.Context(), "acme", "alice", newDraft("Private"))
	require.NoError(t, err)

	_, err = service.FetchByID(t.Context(), "globex", created.ID)
	require.ErrorIs(t, err, persistence.ErrProcessNotFound)
	assert.True(t, IsNotFound(err))

	list, err := service.List(t.Context(), "globex", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProcess_Lifecycle(t *testing.T) {
	service := NewProcess(file.NewPersistence(t.TempDir()), testutil.Logger())
	ctx := t.Context()

	def, err := service.Create(ctx, "acme", "alice", newDraft("Lifecycle"))
	require.NoError(t, err)

	_, err = service.Pause(ctx, "acme", def.ID, "alice")
	require.ErrorIs(t, err, ErrInvalidStatusChange)

	active, err := service.Activate(ctx, "acme", def.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStatusActive, active.Status)

	paused, err := service.Pause(ctx, "acme", def.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStatusPaused, paused.Status)

	_, err = service.Activate(ctx, "acme", def.ID, "alice")
	require.NoError(t, err)

	archived, err := service.Archive(ctx, "acme", def.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStatusArchived, archived.Status)

	_, err = service.Activate(ctx, "acme", def.ID, "alice")
	require.ErrorIs(t, err, ErrCannotModifyArchived)
	assert.True(t, IsConflictError(err))

	name := "renamed"
	_, err = service.Update(ctx, "acme", def.ID, "alice", ProcessPatch{Name: &name})
	require.ErrorIs(t, err, ErrCannotModifyArchived)
}

func TestProcess_UpdateVersioning(t *testing.T) {
	tests := []struct {
		name     string
		activate bool
		version  *string
		expected string
	}{
		{name: "draft keeps version", expected: "1.0.0"},
		{name: "active bumps patch", activate: true, expected: "1.0.1"},
		{name: "explicit version wins", activate: true, version: ptr("2.0.0"), expected: "2.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewProcess(file.NewPersistence(t.TempDir()), testutil.Logger())
			ctx := t.Context()

			def, err := service.Create(ctx, "acme", "alice", newDraft("Versioned"))
			require.NoError(t, err)

			if tt.activate {
				_, err = service.Activate(ctx, "acme", def.ID, "alice")
				require.NoError(t, err)
			}

			updated, err := service.Update(ctx, "acme", def.ID, "bob", ProcessPatch{
				Description: ptr("new description"),
				Version:     tt.version,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.expected, updated.Version)
			assert.Equal(t, "new description", updated.Description)
			assert.Equal(t, "alice", updated.CreatedBy)
			assert.Equal(t, "bob", updated.UpdatedBy)
		})
	}
}

func TestProcess_ArchiveDeactivatesTriggersAndJobs(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	processes := NewProcess(store, testutil.Logger())
	triggers := NewTrigger(store, testutil.Logger())
	ctx := t.Context()

	def, err := processes.Create(ctx, "acme", "alice", newDraft("Nightly"))
	require.NoError(t, err)
	_, err = processes.Activate(ctx, "acme", def.ID, "alice")
	require.NoError(t, err)

	tr, err := triggers.Create(ctx, "acme", def.ID, "alice", &models.Trigger{
		Type:      models.TriggerTypeScheduled,
		Condition: &models.ScheduledCondition{Cron: "0 0 * * *"},
		IsActive:  true,
	})
	require.NoError(t, err)

	_, err = processes.Archive(ctx, "acme", def.ID, "alice")
	require.NoError(t, err)

	stored, err := store.TriggerRepository().ByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	job, err := store.ScheduledJobRepository().ByTrigger(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, job.IsActive)
}

func TestProcess_Delete(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewProcess(store, testutil.Logger())
	ctx := t.Context()

	t.Run("draft without instances", func(t *testing.T) {
		def, err := service.Create(ctx, "acme", "alice", newDraft("Disposable"))
		require.NoError(t, err)

		require.NoError(t, service.Delete(ctx, "acme", def.ID))

		_, err = service.FetchByID(ctx, "acme", def.ID)
		require.ErrorIs(t, err, persistence.ErrProcessNotFound)
	})

	t.Run("active definition", func(t *testing.T) {
		def, err := service.Create(ctx, "acme", "alice", newDraft("Live"))
		require.NoError(t, err)
		_, err = service.Activate(ctx, "acme", def.ID, "alice")
		require.NoError(t, err)

		require.ErrorIs(t, service.Delete(ctx, "acme", def.ID), ErrNotDraft)
	})

	t.Run("draft with instances", func(t *testing.T) {
		def, err := service.Create(ctx, "acme", "alice", newDraft("Used"))
		require.NoError(t, err)
		require.NoError(t, store.InstanceRepository().Create(ctx, testutil.CreateTestInstance(def)))

		err = service.Delete(ctx, "acme", def.ID)
		require.ErrorIs(t, err, ErrProcessInUse)
		assert.True(t, IsConflictError(err))
	})
}

func TestProcess_DuplicateAndInstantiate(t *testing.T) {
	service := NewProcess(file.NewPersistence(t.TempDir()), testutil.Logger())
	ctx := t.Context()

	source, err := service.Create(ctx, "acme", "alice", newDraft("Onboarding"))
	require.NoError(t, err)
	_, err = service.Activate(ctx, "acme", source.ID, "alice")
	require.NoError(t, err)

	_, err = service.InstantiateFromTemplate(ctx, "acme", source.ID, "bob", "")
	require.ErrorIs(t, err, ErrNotTemplate)

	tmpl, err := service.Duplicate(ctx, "acme", source.ID, "bob", DuplicateRequest{AsTemplate: true})
	require.NoError(t, err)
	assert.NotEqual(t, source.ID, tmpl.ID)
	assert.Equal(t, "Onboarding (copy)", tmpl.Name)
	assert.Equal(t, models.ProcessStatusDraft, tmpl.Status)
	assert.True(t, tmpl.IsTemplate)
	assert.Equal(t, "bob", tmpl.CreatedBy)

	instance, err := service.InstantiateFromTemplate(ctx, "acme", tmpl.ID, "carol", "Onboarding EU")
	require.NoError(t, err)
	assert.Equal(t, "Onboarding EU", instance.Name)
	assert.False(t, instance.IsTemplate)
	assert.Equal(t, models.InitialVersion, instance.Version)
	assert.Len(t, instance.Steps, 2)
}

func TestProcess_StepTemplateResolution(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewProcess(store, testutil.Logger())
	catalog := NewCatalog(store)
	ctx := t.Context()

	tmpl, err := catalog.CreateStepTemplate(ctx, "acme", "alice", &models.StepTemplate{
		Name:   "Manager sign-off",
		Type:   models.StepTypeApproval,
		Config: &models.ApprovalConfig{Approver: "manager-7"},
	})
	require.NoError(t, err)

	def := &models.ProcessDefinition{
		Name:  "Templated",
		Steps: []models.Step{{ID: "sign", TemplateID: tmpl.ID}},
	}

	created, err := service.Create(ctx, "acme", "alice", def)
	require.NoError(t, err)
	require.Len(t, created.Steps, 1)
	assert.Equal(t, models.StepTypeApproval, created.Steps[0].Type)
	assert.Equal(t, "Manager sign-off", created.Steps[0].Name)

	other := &models.ProcessDefinition{
		Name:  "Foreign",
		Steps: []models.Step{{ID: "sign", TemplateID: tmpl.ID}},
	}

	_, err = service.Create(ctx, "globex", "mallory", other)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.True(t, IsValidationError(err))
}

func TestProcess_HealthCheck(t *testing.T) {
	service := NewProcess(file.NewPersistence(t.TempDir()), testutil.Logger())

	message, ok := service.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)
}

func ptr[T any](v T) *T {
	return &v
}
