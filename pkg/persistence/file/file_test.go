package file_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *file.Persistence {
	t.Helper()

	return file.NewPersistence("file://" + t.TempDir())
}

func TestPersistence_HealthCheck(t *testing.T) {
	store := newStore(t)
	assert.NoError(t, store.HealthCheck(context.Background()))

	missing := file.NewPersistence("/nonexistent/procflow")
	assert.Error(t, missing.HealthCheck(context.Background()))
}

func TestProcessRepository_DeleteCascadesTriggers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	process := &models.ProcessDefinition{
		ID:     "proc-1",
		Name:   "Onboarding",
		Status: models.ProcessStatusDraft,
		Steps:  []models.Step{{ID: "a", Type: models.StepTypeAction, Config: &models.ActionConfig{Operation: "log"}}},
		Audit:  models.Audit{CompanyID: "acme"},
	}
	require.NoError(t, store.ProcessRepository().Save(ctx, process))
	require.NoError(t, store.TriggerRepository().Save(ctx, &models.Trigger{
		ID: "trig-1", ProcessID: "proc-1", Type: models.TriggerTypeManual, Audit: models.Audit{CompanyID: "acme"},
	}))

	loaded, err := store.ProcessRepository().ByID(ctx, "proc-1")
	require.NoError(t, err)
	assert.IsType(t, &models.ActionConfig{}, loaded.Steps[0].Config)

	require.NoError(t, store.ProcessRepository().Delete(ctx, "proc-1"))

	_, err = store.ProcessRepository().ByID(ctx, "proc-1")
	assert.ErrorIs(t, err, persistence.ErrProcessNotFound)

	_, err = store.TriggerRepository().ByID(ctx, "trig-1")
	assert.ErrorIs(t, err, persistence.ErrTriggerNotFound)
}

func TestProcessRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for _, p := range []*models.ProcessDefinition{
		{ID: "p1", Name: "One", Status: models.ProcessStatusActive, Audit: models.Audit{CompanyID: "acme"}},
		{ID: "p2", Name: "Two", Status: models.ProcessStatusDraft, IsTemplate: true, Audit: models.Audit{CompanyID: "acme"}},
		{ID: "p3", Name: "Three", Status: models.ProcessStatusActive, Audit: models.Audit{CompanyID: "globex"}},
	} {
		require.NoError(t, store.ProcessRepository().Save(ctx, p))
	}

	active := models.ProcessStatusActive
	list, err := store.ProcessRepository().List(ctx, persistence.ListProcessesOptions{CompanyID: "acme", Status: &active})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].ID)

	isTemplate := true
	list, err = store.ProcessRepository().List(ctx, persistence.ListProcessesOptions{IsTemplate: &isTemplate})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p2", list[0].ID)
}

func TestInstanceRepository_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).InstanceRepository()

	inst := &models.ProcessInstance{ID: "inst-1", ProcessID: "p", Status: models.InstanceStatusRunning}
	require.NoError(t, repo.Create(ctx, inst))

	first, err := repo.ByID(ctx, "inst-1")
	require.NoError(t, err)
	second, err := repo.ByID(ctx, "inst-1")
	require.NoError(t, err)

	first.CurrentStep = "b"
	require.NoError(t, repo.Update(ctx, first, models.InstanceStatusRunning))
	assert.Equal(t, int64(1), first.Revision)

	second.Status = models.InstanceStatusCancelled
	err = repo.Update(ctx, second, models.InstanceStatusRunning)
	require.ErrorIs(t, err, persistence.ErrStaleState)

	stored, err := repo.ByID(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, stored.Status)
	assert.Equal(t, "b", stored.CurrentStep)

	err = repo.Update(ctx, stored, models.InstanceStatusWaitingApproval)
	assert.ErrorIs(t, err, persistence.ErrStaleState)
}

func TestInstanceRepository_DueSuspensions(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).InstanceRepository()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	require.NoError(t, repo.Create(ctx, &models.ProcessInstance{
		ID: "due", Status: models.InstanceStatusRunning,
		Suspension: &models.Suspension{Kind: models.SuspensionDelay, ResumeAt: &past},
	}))
	require.NoError(t, repo.Create(ctx, &models.ProcessInstance{
		ID: "later", Status: models.InstanceStatusRunning,
		Suspension: &models.Suspension{Kind: models.SuspensionRetry, ResumeAt: &future},
	}))
	require.NoError(t, repo.Create(ctx, &models.ProcessInstance{
		ID: "approval", Status: models.InstanceStatusWaitingApproval,
		Suspension: &models.Suspension{Kind: models.SuspensionApproval},
	}))

	due, err := repo.DueSuspensions(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)
}

func TestStepExecutionRepository_OneActiveAttemptPerStep(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).StepExecutionRepository()
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	first := &models.StepExecution{ID: "e1", InstanceID: "i", StepID: "s", Attempt: 1, Status: models.StepExecutionRunning, StartedAt: start}
	require.NoError(t, repo.Create(ctx, first))

	err := repo.Create(ctx, &models.StepExecution{ID: "e2", InstanceID: "i", StepID: "s", Attempt: 2, Status: models.StepExecutionRunning})
	require.ErrorIs(t, err, persistence.ErrActiveExecutionExists)

	first.Finish(models.StepExecutionFailed, nil, map[string]any{"message": "boom"}, start.Add(time.Second))
	require.NoError(t, repo.Update(ctx, first, models.StepExecutionRunning))

	second := &models.StepExecution{ID: "e2", InstanceID: "i", StepID: "s", Attempt: 2, Status: models.StepExecutionRunning, StartedAt: start.Add(2 * time.Second)}
	require.NoError(t, repo.Create(ctx, second))

	err = repo.Update(ctx, first, models.StepExecutionRunning)
	assert.ErrorIs(t, err, persistence.ErrStaleState)

	history, err := repo.ByInstance(ctx, "i")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "e1", history[0].ID)
	assert.Equal(t, models.StepExecutionFailed, history[0].Status)
	assert.Equal(t, "e2", history[1].ID)
}

func TestApprovalRepository_ResolveOnce(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).ApprovalRepository()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &models.Approval{ID: "a1", ExecutionID: "e1", Status: models.ApprovalPending, RequestedAt: now}))

	require.NoError(t, repo.Resolve(ctx, "a1", models.ApprovalApproved, "ok", "u1", now))
	err := repo.Resolve(ctx, "a1", models.ApprovalRejected, "no", "u2", now)
	require.ErrorIs(t, err, persistence.ErrStaleState)

	approval, err := repo.ByExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, approval.Status)
	assert.Equal(t, "u1", approval.RespondedBy)
}

func TestApprovalRepository_AppendReminderIsGuardedByCount(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).ApprovalRepository()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &models.Approval{ID: "a1", Status: models.ApprovalPending, RequestedAt: now}))

	require.NoError(t, repo.AppendReminder(ctx, "a1", 0, now.Add(time.Hour)))
	require.ErrorIs(t, repo.AppendReminder(ctx, "a1", 0, now.Add(time.Hour)), persistence.ErrStaleState)
	require.NoError(t, repo.AppendReminder(ctx, "a1", 1, now.Add(2*time.Hour)))

	approval, err := repo.ByID(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, approval.RemindersSent, 2)
}

func TestScheduledJobRepository_ClaimIsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).ScheduledJobRepository()
	due := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	next := due.Add(24 * time.Hour)

	require.NoError(t, repo.Save(ctx, &models.ScheduledJob{ID: "job", Name: "nightly", ProcessID: "p", Cron: "@daily", IsActive: true, NextRunAt: &due}))

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			expected := due
			won, err := repo.Claim(ctx, "job", &expected, &due, next)
			assert.NoError(t, err)

			if won {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	job, err := repo.ByID(ctx, "job")
	require.NoError(t, err)
	assert.True(t, job.NextRunAt.Equal(next))
	assert.True(t, job.LastRunAt.Equal(due))
}

func TestScheduledJobRepository_CandidatesAndInitialization(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).ScheduledJobRepository()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	require.NoError(t, repo.Save(ctx, &models.ScheduledJob{ID: "fresh", Name: "a", ProcessID: "p", Cron: "@daily", IsActive: true}))
	require.NoError(t, repo.Save(ctx, &models.ScheduledJob{ID: "later", Name: "b", ProcessID: "p", Cron: "@daily", IsActive: true, NextRunAt: &later}))
	require.NoError(t, repo.Save(ctx, &models.ScheduledJob{ID: "off", Name: "c", ProcessID: "p", Cron: "@daily"}))

	candidates, err := repo.Candidates(ctx, now)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "fresh", candidates[0].ID)

	won, err := repo.Claim(ctx, "fresh", nil, nil, later)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.Claim(ctx, "fresh", nil, nil, later)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, repo.DeactivateByProcess(ctx, "p"))
	candidates, err = repo.Candidates(ctx, later)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestCatalogRepositories(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.StepTemplateRepository().Save(ctx, &models.StepTemplate{
		ID: "global", Name: "Global notify", Type: models.StepTypeNotification,
		Config: &models.NotificationConfig{To: "x", Body: "y"},
	}))
	require.NoError(t, store.StepTemplateRepository().Save(ctx, &models.StepTemplate{
		ID: "other", Name: "Other company", Type: models.StepTypeAction,
		Config: &models.ActionConfig{Operation: "log"}, Audit: models.Audit{CompanyID: "globex"},
	}))

	templates, err := store.StepTemplateRepository().List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.IsType(t, &models.NotificationConfig{}, templates[0].Config)

	_, err = store.APIConnectionRepository().ByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrAPIConnectionNotFound)

	_, err = store.InstanceRepository().ByID(ctx, "../escape")
	assert.Error(t, err)
}
