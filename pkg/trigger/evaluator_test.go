package trigger_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/persistence/file"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/steps/action"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/dukex/procflow/pkg/trigger"
	"github.com/dukex/procflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T) (*trigger.Evaluator, *file.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(testutil.Logger())
	reg.Register(action.New(nil))

	opts := workflow.Options{Logger: testutil.Logger(), Clock: func() time.Time { return testutil.Epoch }}
	manager := workflow.NewManager(store, workflow.NewExecutor(store, reg, opts), opts)

	return trigger.NewEvaluator(store, manager, testutil.Logger()), store
}

func saveProcess(t *testing.T, store persistence.Persistence, overrides ...func(*models.ProcessDefinition)) *models.ProcessDefinition {
	t.Helper()

	process := testutil.CreateTestProcess([]models.Step{testutil.ActionStep("record", map[string]any{"handled": true})}, overrides...)
	require.NoError(t, store.ProcessRepository().Save(context.Background(), process))

	return process
}

func saveTrigger(t *testing.T, store persistence.Persistence, processID string, triggerType models.TriggerType, cond models.TriggerCondition) *models.Trigger {
	t.Helper()

	tr := &models.Trigger{
		ID:        "trg-" + processID[:8] + "-" + string(triggerType),
		ProcessID: processID,
		Type:      triggerType,
		Condition: cond,
		IsActive:  true,
		Audit:     models.Audit{CompanyID: "acme"},
	}
	require.NoError(t, store.TriggerRepository().Save(context.Background(), tr))

	return tr
}

func TestEvaluator_DeliverEventFansOut(t *testing.T) {
	evaluator, store := newEvaluator(t)
	ctx := context.Background()

	matching := saveProcess(t, store)
	saveTrigger(t, store, matching.ID, models.TriggerTypeEvent, &models.EventCondition{
		Event:   "employee.hired",
		Filters: []models.Filter{{Field: "department", Op: models.FilterOpEq, Value: "sales"}},
	})

	filtered := saveProcess(t, store)
	saveTrigger(t, store, filtered.ID, models.TriggerTypeEvent, &models.EventCondition{
		Event:   "employee.hired",
		Filters: []models.Filter{{Field: "department", Op: models.FilterOpEq, Value: "it"}},
	})

	paused := saveProcess(t, store, testutil.WithStatus(models.ProcessStatusPaused))
	saveTrigger(t, store, paused.ID, models.TriggerTypeEvent, &models.EventCondition{Event: "employee.hired"})

	// The definition is gone, so this trigger fails to fire; the others still run.
	orphan := saveTrigger(t, store, "0rphan-process-id", models.TriggerTypeEvent, &models.EventCondition{Event: "employee.hired"})
	require.NotNil(t, orphan)

	started, err := evaluator.DeliverEvent(ctx, models.ExternalEvent{
		Name:      "employee.hired",
		CompanyID: "acme",
		Payload:   map[string]any{"department": "sales", "employee_id": "e-42"},
	})
	require.NoError(t, err)
	require.Len(t, started, 1)

	inst := started[0]
	assert.Equal(t, matching.ID, inst.ProcessID)
	assert.Equal(t, models.InstanceStatusCompleted, inst.Status)
	assert.Equal(t, "e-42", inst.ContextData["employee_id"])
	assert.NotEmpty(t, inst.TriggerID)
}

func TestEvaluator_DeliverEventIgnoresOtherCompanies(t *testing.T) {
	evaluator, store := newEvaluator(t)
	process := saveProcess(t, store)
	saveTrigger(t, store, process.ID, models.TriggerTypeEvent, &models.EventCondition{Event: "ping"})

	started, err := evaluator.DeliverEvent(context.Background(), models.ExternalEvent{Name: "ping", CompanyID: "globex"})
	require.NoError(t, err)
	assert.Empty(t, started)
}

func TestEvaluator_DeliverDataChange(t *testing.T) {
	evaluator, store := newEvaluator(t)
	process := saveProcess(t, store)
	saveTrigger(t, store, process.ID, models.TriggerTypeDataChange, &models.DataChangeCondition{
		Entity:    "invoices",
		Field:     "status",
		Operation: models.DataChangeUpdate,
	})

	started, err := evaluator.DeliverDataChange(context.Background(), models.DataChange{
		Entity:    "invoices",
		Field:     "status",
		Operation: models.DataChangeUpdate,
		RecordID:  "inv-7",
		OldValue:  "draft",
		NewValue:  "sent",
		CompanyID: "acme",
	})
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, "inv-7", started[0].ContextData["record_id"])
	assert.Equal(t, "sent", started[0].ContextData["new"])
}

func TestEvaluator_StartManual(t *testing.T) {
	evaluator, store := newEvaluator(t)
	ctx := context.Background()
	process := saveProcess(t, store)
	saveTrigger(t, store, process.ID, models.TriggerTypeManual, &models.ManualCondition{RequiredFields: []string{"customer_id"}})

	_, err := evaluator.StartManual(ctx, "acme", process.ID, map[string]any{}, "u-1")
	require.ErrorIs(t, err, trigger.ErrInvalidPayload)

	inst, err := evaluator.StartManual(ctx, "acme", process.ID, map[string]any{"customer_id": "c-1"}, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, inst.Status)
	assert.Equal(t, "u-1", inst.CreatedBy)

	_, err = evaluator.StartManual(ctx, "globex", process.ID, map[string]any{"customer_id": "c-1"}, "u-1")
	require.ErrorIs(t, err, persistence.ErrProcessNotFound)
}

func TestEvaluator_StartManualRefusesInactiveDefinitions(t *testing.T) {
	evaluator, store := newEvaluator(t)

	for _, status := range []models.ProcessStatus{models.ProcessStatusDraft, models.ProcessStatusPaused, models.ProcessStatusArchived} {
		process := saveProcess(t, store, testutil.WithStatus(status))

		inst, err := evaluator.StartManual(context.Background(), "acme", process.ID, nil, "u-1")
		require.ErrorIs(t, err, workflow.ErrProcessNotActive, status)
		assert.Nil(t, inst)
	}
}

func TestEvaluator_AcceptWebhook(t *testing.T) {
	evaluator, store := newEvaluator(t)
	ctx := context.Background()
	process := saveProcess(t, store)
	hook := saveTrigger(t, store, process.ID, models.TriggerTypeWebhook, &models.WebhookCondition{Secret: "k"})
	body := []byte(`{"order_id":"o-1"}`)

	_, err := evaluator.AcceptWebhook(ctx, hook.ID, body, "sha256=00")
	require.ErrorIs(t, err, trigger.ErrInvalidSignature)

	inst, err := evaluator.AcceptWebhook(ctx, hook.ID, body, trigger.Sign("k", body))
	require.NoError(t, err)
	assert.Equal(t, "o-1", inst.ContextData["order_id"])

	manual := saveTrigger(t, store, process.ID, models.TriggerTypeManual, nil)
	_, err = evaluator.AcceptWebhook(ctx, manual.ID, body, "")
	require.ErrorIs(t, err, trigger.ErrWrongTriggerType)

	hook.IsActive = false
	require.NoError(t, store.TriggerRepository().Save(ctx, hook))

	inst, err = evaluator.AcceptWebhook(ctx, hook.ID, body, trigger.Sign("k", body))
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func TestEvaluator_FireScheduled(t *testing.T) {
	evaluator, store := newEvaluator(t)
	ctx := context.Background()
	process := saveProcess(t, store)
	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	job := &models.ScheduledJob{
		ID:        "job-1",
		Name:      "weekly payroll",
		ProcessID: process.ID,
		Cron:      "0 9 * * 1",
		Payload:   map[string]any{"run": "payroll"},
		IsActive:  true,
		Audit:     models.Audit{CompanyID: "acme"},
	}

	inst, err := evaluator.FireScheduled(ctx, job, at)
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "payroll", inst.ContextData["run"])
	assert.Equal(t, "2026-03-02T09:00:00Z", inst.ContextData["scheduled_at"])
	assert.Empty(t, inst.TriggerID)

	tr := saveTrigger(t, store, process.ID, models.TriggerTypeScheduled, &models.ScheduledCondition{Cron: "0 9 * * 1"})
	job.TriggerID = tr.ID

	inst, err = evaluator.FireScheduled(ctx, job, at)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, inst.TriggerID)
}
