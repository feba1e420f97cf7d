package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/mocks"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/persistence/file"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/steps/action"
	"github.com/dukex/procflow/pkg/steps/apicall"
	stepapproval "github.com/dukex/procflow/pkg/steps/approval"
	"github.com/dukex/procflow/pkg/steps/decision"
	"github.com/dukex/procflow/pkg/steps/delay"
	"github.com/dukex/procflow/pkg/steps/subprocess"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/dukex/procflow/pkg/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// storeRequester opens approvals directly in the store.
type storeRequester struct {
	approvals persistence.ApprovalRepository
	clock     *clock
}

func (r *storeRequester) RequestApproval(ctx context.Context, execution *models.StepExecution, approver string, _ *models.ApprovalConfig) (*models.Approval, error) {
	approval := &models.Approval{
		ID:             uuid.NewString(),
		InstanceID:     execution.InstanceID,
		ExecutionID:    execution.ID,
		StepID:         execution.StepID,
		ApproverUserID: approver,
		Status:         models.ApprovalPending,
		RequestedAt:    r.clock.Now(),
		CompanyID:      execution.CompanyID,
	}

	return approval, r.approvals.Create(ctx, approval)
}

type harness struct {
	store    *file.Persistence
	registry *registry.Registry
	clock   *clock
	actions *action.Handler
	caller  *mocks.MockAPICaller
	manager *workflow.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:   file.NewPersistence(t.TempDir()),
		clock:   &clock{now: testutil.Epoch},
		actions: action.New(nil),
		caller:  &mocks.MockAPICaller{},
	}

	reg := registry.NewRegistry(testutil.Logger())
	h.registry = reg
	opts := workflow.Options{Logger: testutil.Logger(), Clock: h.clock.Now}
	executor := workflow.NewExecutor(h.store, reg, opts)
	h.manager = workflow.NewManager(h.store, executor, opts)

	reg.Register(h.actions)
	reg.Register(decision.New())
	reg.Register(delay.New())
	reg.Register(stepapproval.New(&storeRequester{approvals: h.store.ApprovalRepository(), clock: h.clock}))
	reg.Register(subprocess.New(h.manager))
	reg.Register(apicall.New(h.store.APIConnectionRepository(), h.caller))

	return h
}

func (h *harness) save(t *testing.T, process *models.ProcessDefinition) *models.ProcessDefinition {
	t.Helper()
	require.NoError(t, h.store.ProcessRepository().Save(context.Background(), process))

	return process
}

func (h *harness) executions(t *testing.T, instanceID string) []*models.StepExecution {
	t.Helper()

	executions, err := h.store.StepExecutionRepository().ByInstance(context.Background(), instanceID)
	require.NoError(t, err)

	return executions
}

func (h *harness) reload(t *testing.T, instanceID string) *models.ProcessInstance {
	t.Helper()

	inst, err := h.store.InstanceRepository().ByID(context.Background(), instanceID)
	require.NoError(t, err)

	return inst
}

func statuses(executions []*models.StepExecution) []models.StepExecutionStatus {
	out := make([]models.StepExecutionStatus, 0, len(executions))
	for _, e := range executions {
		out = append(out, e.Status)
	}

	return out
}

func TestManager_StartRunsLinearProcessToCompletion(t *testing.T) {
	h := newHarness(t)
	process := h.save(t, testutil.CreateTestProcess([]models.Step{
		testutil.ActionStep("greet", map[string]any{"greeting": "hello {{ .name }}"}),
		testutil.ActionStep("total", map[string]any{"total": "{{ .amount }}"}),
	}))

	inst, err := h.manager.Start(context.Background(), workflow.StartRequest{
		Definition: process,
		Context:    map[string]any{"name": "ada", "amount": 12},
		Actor:      "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, inst.Status)
	require.NotNil(t, inst.CompletedAt)
	assert.Equal(t, "hello ada", inst.ContextData["greeting"])
	assert.Equal(t, 12.0, inst.ContextData["total"])
	assert.Contains(t, inst.ContextData["steps"], "greet")
	assert.Equal(t, "user-1", inst.CreatedBy)

	stored := h.reload(t, inst.ID)
	assert.Equal(t, models.InstanceStatusCompleted, stored.Status)
	assert.Equal(t, []models.StepExecutionStatus{models.StepExecutionCompleted, models.StepExecutionCompleted},
		statuses(h.executions(t, inst.ID)))
}

func TestManager_StartRefusesInactiveDefinitions(t *testing.T) {
	for _, status := range []models.ProcessStatus{models.ProcessStatusDraft, models.ProcessStatusPaused, models.ProcessStatusArchived} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			process := h.save(t, testutil.CreateTestProcess(
				[]models.Step{testutil.ActionStep("a", nil)}, testutil.WithStatus(status)))

			inst, err := h.manager.Start(context.Background(), workflow.StartRequest{Definition: process})
			require.ErrorIs(t, err, workflow.ErrProcessNotActive)
			assert.Nil(t, inst)

			instances, err := h.store.InstanceRepository().List(context.Background(), persistence.ListInstancesOptions{ProcessID: process.ID})
			require.NoError(t, err)
			assert.Empty(t, instances)
		})
	}
}

func TestManager_SnapshotIsolatesInstanceFromLaterEdits(t *testing.T) {
	h := newHarness(t)
	process := h.save(t, testutil.CreateTestProcess([]models.Step{
		testutil.ApprovalStep("review", "manager"),
		testutil.ActionStep("after", map[string]any{"v": "old"}),
	}))

	inst, err := h.manager.Start(context.Background(), workflow.StartRequest{Definition: process})
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusWaitingApproval, inst.Status)

	process.Steps[1] = testutil.ActionStep("after", map[string]any{"v": "new"})
	h.save(t, process)

	done, err := h.manager.ResumeFromApproval(context.Background(), inst.Suspension.ExecutionID, models.ApprovalApproved, "", "boss")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, done.Status)
	assert.Equal(t, "old", done.ContextData["v"])
}

func TestManager_DecisionSelectsBranch(t *testing.T) {
	decide := models.Step{
		ID:   "route",
		Type: models.StepTypeDecision,
		Config: &models.DecisionConfig{
			Branches: []models.DecisionBranch{{When: "amount > 1000", Next: "big"}},
			Default:  "small",
		},
	}
	big := testutil.ActionStep("big", map[string]any{"path": "big"})
	big.Next = models.EndStep
	small := testutil.ActionStep("small", map[string]any{"path": "small"})

	tests := []struct {
		amount   float64
		expected string
		ran      int
	}{
		{amount: 5000, expected: "big", ran: 2},
		{amount: 10, expected: "small", ran: 2},
	}

	for _, tt := range tests {
		h := newHarness(t)
		process := h.save(t, testutil.CreateTestProcess([]models.Step{decide, big, small}))

		inst, err := h.manager.Start(context.Background(), workflow.StartRequest{
			Definition: process,
			Context:    map[string]any{"amount": tt.amount},
		})
		require.NoError(t, err)
		assert.Equal(t, models.InstanceStatusCompleted, inst.Status)
		assert.Equal(t, tt.expected, inst.ContextData["path"])
		assert.Len(t, h.executions(t, inst.ID), tt.ran)
	}
}

func TestManager_WhenFalseRecordsSkippedExecution(t *testing.T) {
	h := newHarness(t)
	optional := testutil.ActionStep("optional", map[string]any{"touched": true})
	optional.When = "vip == true"

	process := h.save(t, testutil.CreateTestProcess([]models.Step{
		optional,
		testutil.ActionStep("last", map[string]any{"done": true}),
	}))

	inst, err := h.manager.Start(context.Background(), workflow.StartRequest{
		Definition: process,
		Context:    map[string]any{"vip": false},
	})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, inst.Status)
	assert.NotContains(t, inst.ContextData, "touched")
	assert.Equal(t, []models.StepExecutionStatus{models.StepExecutionSkipped, models.StepExecutionCompleted},
		statuses(h.executions(t, inst.ID)))
}

func TestManager_ApiCallRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.APIConnectionRepository().Save(ctx, &models.APIConnection{
		ID:       "erp",
		Name:     "ERP",
		BaseURL:  "https://erp.example.com",
		IsActive: true,
		Audit:    models.Audit{CompanyID: "acme"},
	}))

	h.caller.On("Call", mock.Anything, mock.Anything).
		Return(nil, &apicall.StatusError{StatusCode: 503}).Twice()
	h.caller.On("Call", mock.Anything, mock.Anything).
		Return(&protocol.APIResponse{StatusCode: 200, Body: map[string]any{"ok": true}}, nil).Once()

	call := models.Step{
		ID:     "sync",
		Type:   models.StepTypeAPICall,
		Config: &models.APICallConfig{ConnectionID: "erp", Method: "POST", Path: "/sync"},
		Retry:  &models.RetryPolicy{MaxAttempts: 3},
	}
	process := h.save(t, testutil.CreateTestProcess([]models.Step{call, testutil.ActionStep("after", map[string]any{"after": true})}))

	inst, err := h.manager.Start(ctx, workflow.StartRequest{Definition: process})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, inst.Status)
	assert.Equal(t, true, inst.ContextData["after"])

	var syncRuns []*models.StepExecution
	for _, e := range h.executions(t, inst.ID) {
		if e.StepID == "sync" {
			syncRuns = append(syncRuns, e)
		}
	}

	require.Len(t, syncRuns, 3)
	assert.Equal(t, []models.StepExecutionStatus{models.StepExecutionFailed, models.StepExecutionFailed, models.StepExecutionCompleted},
		statuses(syncRuns))
	assert.Equal(t, []int{1, 2, 3}, []int{syncRuns[0].Attempt, syncRuns[1].Attempt, syncRuns[2].Attempt})
	h.caller.AssertExpectations(t)
}

func TestManager_RetryBackoffParksInstance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	calls := 0
	h.actions.Register("flaky", func(context.Context, protocol.StepRequest, map[string]any) (map[string]any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("temporarily unavailable")
		}

		return map[string]any{"flaky": "ok"}, nil
	})

	step := models.Step{
		ID:     "flaky",
		Type:   models.StepTypeAction,
		Config: &models.ActionConfig{Operation: "flaky"},
		Retry:  &models.RetryPolicy{MaxAttempts: 2, InitialBackoff: models.Duration(time.Minute)},
	}
	process := h.save(t, testutil.CreateTestProcess([]models.Step{step}))

	inst, err := h.manager.Start(ctx, workflow.StartRequest{Definition: process})
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusRunning, inst.Status)
	require.NotNil(t, inst.Suspension)
	assert.Equal(t, models.SuspensionRetry, inst.Suspension.Kind)
	assert.Equal(t, 2, inst.Suspension.Attempt)
	assert.Equal(t, testutil.Epoch.Add(time.Minute), *inst.Suspension.ResumeAt)

	resumed, err := h.manager.ResumeDue(ctx, testutil.Epoch.Add(30*time.Second))
	require.NoError(t, err)
	assert.Zero(t, resumed)

	h.clock.Advance(time.Minute)
	resumed, err = h.manager.ResumeDue(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	done := h.reload(t, inst.ID)
	assert.Equal(t, models.InstanceStatusCompleted, done.Status)
	assert.Equal(t, "ok", done.ContextData["flaky"])
	assert.Equal(t, 2, calls)
}

func TestManager_RetryExhaustionFailsInstance(t *testing.T) {
	h := newHarness(t)
	h.actions.Register("broken", func(context.Context, protocol.StepRequest, map[string]any) (map[string]any, error) {
		return nil, errors.New("down")
	})

	step := models.Step{
		ID:     "broken",
		Type:   models.StepTypeAction,
		Config: &models.ActionConfig{Operation: "broken"},
		Retry:  &models.RetryPolicy{MaxAttempts: 2},
	}
	process := h.save(t, testutil.CreateTestProcess([]models.Step{step, testutil.ActionStep("never", nil)}))

	inst, err := h.manager.Start(context.Background(), workflow.StartRequest{Definition: process})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusFailed, inst.Status)
	assert.Equal(t, "down", inst.Error["message"])
	assert.Equal(t, "broken", inst.Error["step_id"])
	assert.Equal(t, []models.StepExecutionStatus{models.StepExecutionFailed, models.StepExecutionFailed},
		statuses(h.executions(t, inst.ID)))
}

func TestManager_PermanentFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	step := models.Step{
		ID:     "bad",
		Type:   models.StepTypeAction,
		Config: &models.ActionConfig{Operation: "does.not.exist"},
		Retry:  &models.RetryPolicy{MaxAttempts: 5},
	}
	process := h.save(t, testutil.CreateTestProcess([]models.Step{step}))

	inst, err := h.manager.Start(context.Background(), workflow.StartRequest{Definition: process})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusFailed, inst.Status)
	assert.Len(t, h.executions(t, inst.ID), 1)
}

func TestManager_DelaySuspendsUntilDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wait := models.Step{ID: "wait", Type: models.StepTypeDelay, Config: &models.DelayConfig{Duration: models.Duration(time.Hour)}}
	process := h.save(t, testutil.CreateTestProcess([]models.Step{wait, testutil.ActionStep("after", map[string]any{"after": true})}))

	inst, err := h.manager.Start(ctx, workflow.StartRequest{Definition: process})
	require.NoError(t, err)
	require.NotNil(t, inst.Suspension)
	assert.Equal(t, models.SuspensionDelay, inst.Suspension.Kind)
	assert.Equal(t, []models.StepExecutionStatus{models.StepExecutionRunning}, statuses(h.executions(t, inst.ID)))

	h.clock.Advance(time.Hour)
	resumed, err := h.manager.ResumeDue(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	done := h.reload(t, inst.ID)
	assert.Equal(t, models.InstanceStatusCompleted, done.Status)
	assert.Equal(t, testutil.Epoch.Add(time.Hour).Format(time.RFC3339), done.ContextData["delayed_until"])
	assert.Equal(t, []models.StepExecutionStatus{models.StepExecutionCompleted, models.StepExecutionCompleted},
		statuses(h.executions(t, inst.ID)))
}

func TestManager_ResumeFromApprovalIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	process := h.save(t, testutil.CreateTestProcess([]models.Step{
		testutil.ApprovalStep("review", "{{ .manager }}"),
		testutil.ActionStep("after", map[string]any{"after": true}),
	}))

	inst, err := h.manager.Start(ctx, workflow.StartRequest{Definition: process, Context: map[string]any{"manager": "u-42"}})
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusWaitingApproval, inst.Status)

	executionID := inst.Suspension.ExecutionID

	first, err := h.manager.ResumeFromApproval(ctx, executionID, models.ApprovalApproved, "ok", "u-42")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, first.Status)
	assert.Equal(t, "approved", first.ContextData["decision"])

	historyBefore := h.executions(t, inst.ID)

	_, err = h.manager.ResumeFromApproval(ctx, executionID, models.ApprovalApproved, "ok", "u-42")
	require.ErrorIs(t, err, workflow.ErrNotWaitingApproval)

	after := h.reload(t, inst.ID)
	assert.Equal(t, first.Revision, after.Revision)
	assert.Equal(t, len(historyBefore), len(h.executions(t, inst.ID)))
}

func TestManager_ConcurrentApprovalResponsesHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	process := h.save(t, testutil.CreateTestProcess([]models.Step{testutil.ApprovalStep("review", "u-1")}))

	inst, err := h.manager.Start(ctx, workflow.StartRequest{Definition: process})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < 6; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := h.manager.ResumeFromApproval(ctx, inst.Suspension.ExecutionID, models.ApprovalApproved, "", "u-1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, models.InstanceStatusCompleted, h.reload(t, inst.ID).Status)
}

func TestManager_RejectionRouting(t *testing.T) {
	t.Run("fails by default", func(t *testing.T) {
		h := newHarness(t)
		process := h.save(t, testutil.CreateTestProcess([]models.Step{testutil.ApprovalStep("review", "u-1")}))

		inst, err := h.manager.Start(context.Background(), workflow.StartRequest{Definition: process})
		require.NoError(t, err)

		done, err := h.manager.ResumeFromApproval(context.Background(), inst.Suspension.ExecutionID, models.ApprovalRejected, "no budget", "u-1")
		require.NoError(t, err)
		assert.Equal(t, models.InstanceStatusFailed, done.Status)
		assert.Equal(t, "no budget", done.Error["comments"])
	})

	t.Run("jumps to the reject step", func(t *testing.T) {
		h := newHarness(t)
		review := testutil.ApprovalStep("review", "u-1")
		review.Config.(*models.ApprovalConfig).OnReject = "rework"
		review.Next = models.EndStep

		process := h.save(t, testutil.CreateTestProcess([]models.Step{
			review,
			testutil.ActionStep("rework", map[string]any{"reworked": true}),
		}))

		inst, err := h.manager.Start(context.Background(), workflow.StartRequest{Definition: process})
		require.NoError(t, err)

		done, err := h.manager.ResumeFromApproval(context.Background(), inst.Suspension.ExecutionID, models.ApprovalRejected, "", "u-1")
		require.NoError(t, err)
		assert.Equal(t, models.InstanceStatusCompleted, done.Status)
		assert.Equal(t, true, done.ContextData["reworked"])
	})
}

func TestManager_ExpireApprovalFailsInstance(t *testing.T) {
	h := newHarness(t)
	process := h.save(t, testutil.CreateTestProcess([]models.Step{testutil.ApprovalStep("review", "u-1")}))

	inst, err := h.manager.Start(context.Background(), workflow.StartRequest{Definition: process})
	require.NoError(t, err)

	done, err := h.manager.ExpireApproval(context.Background(), inst.Suspension.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, done.Status)
	assert.Equal(t, "approval expired", done.Error["message"])

	approval, err := h.store.ApprovalRepository().ByExecution(context.Background(), inst.Suspension.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, approval.Status)
	assert.Equal(t, "expired", approval.Comments)
}

func TestManager_CancelWhileWaitingApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	process := h.save(t, testutil.CreateTestProcess([]models.Step{
		testutil.ApprovalStep("review", "u-1"),
		testutil.ActionStep("after", nil),
	}))

	inst, err := h.manager.Start(ctx, workflow.StartRequest{Definition: process})
	require.NoError(t, err)

	cancelled, err := h.manager.Cancel(ctx, inst.ID, "customer withdrew", "u-9")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)
	assert.Equal(t, "customer withdrew", cancelled.CancelReason)
	assert.Nil(t, cancelled.Suspension)

	_, err = h.manager.ResumeFromApproval(ctx, inst.Suspension.ExecutionID, models.ApprovalApproved, "", "u-1")
	require.ErrorIs(t, err, workflow.ErrNotWaitingApproval)

	assert.Equal(t, models.InstanceStatusCancelled, h.reload(t, inst.ID).Status)
	assert.Equal(t, []models.StepExecutionStatus{models.StepExecutionSkipped}, statuses(h.executions(t, inst.ID)))

	_, err = h.manager.Cancel(ctx, inst.ID, "again", "u-9")
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestManager_CancelDuringStepDiscardsOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.actions.Register("slow", func(ctx context.Context, req protocol.StepRequest, _ map[string]any) (map[string]any, error) {
		_, err := h.manager.Cancel(ctx, req.Instance.ID, "operator", "ops")
		require.NoError(t, err)

		return map[string]any{"late": true}, nil
	})

	step := models.Step{ID: "slow", Type: models.StepTypeAction, Config: &models.ActionConfig{Operation: "slow"}}
	process := h.save(t, testutil.CreateTestProcess([]models.Step{step, testutil.ActionStep("never", map[string]any{"never": true})}))

	inst, err := h.manager.Start(ctx, workflow.StartRequest{Definition: process})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCancelled, inst.Status)
	assert.NotContains(t, inst.ContextData, "late")
	assert.Equal(t, []models.StepExecutionStatus{models.StepExecutionSkipped}, statuses(h.executions(t, inst.ID)))
}

// cancelWhileRunning runs inner and cancels the instance before returning,
// as an operator would while the step is in flight.
type cancelWhileRunning struct {
	inner   protocol.StepHandler
	manager *workflow.Manager
}

func (c cancelWhileRunning) Type() models.StepType { return c.inner.Type() }

func (c cancelWhileRunning) Execute(ctx context.Context, req protocol.StepRequest) (protocol.StepResult, error) {
	result, err := c.inner.Execute(ctx, req)

	if _, cancelErr := c.manager.Cancel(ctx, req.Instance.ID, "operator", "ops"); cancelErr != nil {
		return protocol.StepResult{}, cancelErr
	}

	return result, err
}

func TestManager_CancelDuringApprovalStepClosesApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.registry.Register(cancelWhileRunning{
		inner:   stepapproval.New(&storeRequester{approvals: h.store.ApprovalRepository(), clock: h.clock}),
		manager: h.manager,
	})

	process := h.save(t, testutil.CreateTestProcess([]models.Step{testutil.ApprovalStep("review", "u-1")}))

	inst, err := h.manager.Start(ctx, workflow.StartRequest{Definition: process})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, inst.Status)
	assert.Nil(t, inst.Suspension)

	approvals, err := h.store.ApprovalRepository().ByInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, models.ApprovalRejected, approvals[0].Status)

	pending, err := h.store.ApprovalRepository().Pending(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, []models.StepExecutionStatus{models.StepExecutionSkipped}, statuses(h.executions(t, inst.ID)))
}

func TestManager_CancelDuringSubprocessStepCancelsChild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.registry.Register(cancelWhileRunning{inner: subprocess.New(h.manager), manager: h.manager})

	child := h.save(t, testutil.CreateTestProcess([]models.Step{testutil.ApprovalStep("child-review", "u-2")}))
	parentDef := h.save(t, testutil.CreateTestProcess([]models.Step{{
		ID:   "spawn",
		Type: models.StepTypeSubprocess,
		Config: &models.SubprocessConfig{
			ProcessID:      child.ID,
			Wait:           true,
			OnChildFailure: models.ChildFailureFail,
		},
	}}))

	parent, err := h.manager.Start(ctx, workflow.StartRequest{Definition: parentDef})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, parent.Status)

	children, err := h.store.InstanceRepository().List(ctx, persistence.ListInstancesOptions{ProcessID: child.ID})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, models.InstanceStatusCancelled, children[0].Status)
	assert.Empty(t, h.executions(t, children[0].ID), "the child never runs")
}

func TestManager_SubprocessWaitsForChild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	child := h.save(t, testutil.CreateTestProcess([]models.Step{
		testutil.ApprovalStep("child-review", "u-2"),
	}))

	call := models.Step{
		ID:   "spawn",
		Type: models.StepTypeSubprocess,
		Config: &models.SubprocessConfig{
			ProcessID:      child.ID,
			Wait:           true,
			OnChildFailure: models.ChildFailureFail,
			Input:          map[string]any{"order": "{{ .order }}"},
		},
	}
	parentDef := h.save(t, testutil.CreateTestProcess([]models.Step{call, testutil.ActionStep("after", map[string]any{"after": true})}))

	parent, err := h.manager.Start(ctx, workflow.StartRequest{Definition: parentDef, Context: map[string]any{"order": "o-1"}})
	require.NoError(t, err)
	require.NotNil(t, parent.Suspension)
	assert.Equal(t, models.SuspensionSubprocess, parent.Suspension.Kind)

	childInst := h.reload(t, parent.Suspension.ChildInstanceID)
	assert.Equal(t, parent.ID, childInst.ParentInstanceID)
	assert.Equal(t, "o-1", childInst.ContextData["order"])
	require.Equal(t, models.InstanceStatusWaitingApproval, childInst.Status)

	_, err = h.manager.ResumeFromApproval(ctx, childInst.Suspension.ExecutionID, models.ApprovalApproved, "", "u-2")
	require.NoError(t, err)

	done := h.reload(t, parent.ID)
	assert.Equal(t, models.InstanceStatusCompleted, done.Status)
	assert.Equal(t, "completed", done.ContextData["child_status"])
	assert.Equal(t, true, done.ContextData["after"])
}

func TestManager_SubprocessChildFailurePolicy(t *testing.T) {
	tests := []struct {
		policy   string
		expected models.InstanceStatus
	}{
		{policy: models.ChildFailureFail, expected: models.InstanceStatusFailed},
		{policy: models.ChildFailureContinue, expected: models.InstanceStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			child := h.save(t, testutil.CreateTestProcess([]models.Step{testutil.ApprovalStep("child-review", "u-2")}))
			parentDef := h.save(t, testutil.CreateTestProcess([]models.Step{{
				ID:     "spawn",
				Type:   models.StepTypeSubprocess,
				Config: &models.SubprocessConfig{ProcessID: child.ID, Wait: true, OnChildFailure: tt.policy},
			}}))

			parent, err := h.manager.Start(ctx, workflow.StartRequest{Definition: parentDef})
			require.NoError(t, err)

			childInst := h.reload(t, parent.Suspension.ChildInstanceID)
			_, err = h.manager.ResumeFromApproval(ctx, childInst.Suspension.ExecutionID, models.ApprovalRejected, "", "u-2")
			require.NoError(t, err)

			assert.Equal(t, tt.expected, h.reload(t, parent.ID).Status)
		})
	}
}

func TestManager_FireAndForgetSubprocess(t *testing.T) {
	h := newHarness(t)
	child := h.save(t, testutil.CreateTestProcess([]models.Step{testutil.ActionStep("child-work", map[string]any{"child": true})}))
	parentDef := h.save(t, testutil.CreateTestProcess([]models.Step{{
		ID:     "spawn",
		Type:   models.StepTypeSubprocess,
		Config: &models.SubprocessConfig{ProcessID: child.ID},
	}}))

	parent, err := h.manager.Start(context.Background(), workflow.StartRequest{Definition: parentDef})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, parent.Status)

	childID, _ := parent.ContextData["child_instance_id"].(string)
	require.NotEmpty(t, childID)
	assert.Equal(t, models.InstanceStatusCompleted, h.reload(t, childID).Status)
}

func TestManager_SubprocessOfArchivedDefinitionFailsPermanently(t *testing.T) {
	h := newHarness(t)
	child := h.save(t, testutil.CreateTestProcess([]models.Step{testutil.ActionStep("x", nil)}, testutil.WithStatus(models.ProcessStatusArchived)))
	parentDef := h.save(t, testutil.CreateTestProcess([]models.Step{{
		ID:     "spawn",
		Type:   models.StepTypeSubprocess,
		Config: &models.SubprocessConfig{ProcessID: child.ID},
		Retry:  &models.RetryPolicy{MaxAttempts: 3},
	}}))

	parent, err := h.manager.Start(context.Background(), workflow.StartRequest{Definition: parentDef})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, parent.Status)
	assert.Len(t, h.executions(t, parent.ID), 1)
}

func TestManager_ScriptedReplayIsDeterministic(t *testing.T) {
	script := []bool{false, true, true, false, true}

	run := func() (models.InstanceStatus, []models.StepExecutionStatus) {
		h := newHarness(t)
		results := append([]bool(nil), script...)

		h.actions.Register("scripted", func(context.Context, protocol.StepRequest, map[string]any) (map[string]any, error) {
			ok := results[0]
			results = results[1:]

			if !ok {
				return nil, errors.New("scripted failure")
			}

			return map[string]any{}, nil
		})

		scripted := func(id string) models.Step {
			return models.Step{
				ID:     id,
				Type:   models.StepTypeAction,
				Config: &models.ActionConfig{Operation: "scripted"},
				Retry:  &models.RetryPolicy{MaxAttempts: 2},
			}
		}

		process := h.save(t, testutil.CreateTestProcess([]models.Step{scripted("a"), scripted("b"), scripted("c")}))

		raw, err := process.Snapshot()
		require.NoError(t, err)
		require.Len(t, raw.Steps, 3)

		inst, err := h.manager.Start(context.Background(), workflow.StartRequest{Definition: process})
		require.NoError(t, err)

		return inst.Status, statuses(h.executions(t, inst.ID))
	}

	firstStatus, firstHistory := run()
	for i := 0; i < 3; i++ {
		status, history := run()
		assert.Equal(t, firstStatus, status)
		assert.Equal(t, firstHistory, history)
	}

	assert.Equal(t, models.InstanceStatusCompleted, firstStatus)
}

func TestManager_MissingHandlerFailsInstance(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	opts := workflow.Options{Logger: testutil.Logger(), Clock: func() time.Time { return testutil.Epoch }}
	manager := workflow.NewManager(store, workflow.NewExecutor(store, registry.NewRegistry(testutil.Logger()), opts), opts)

	process := testutil.CreateTestProcess([]models.Step{testutil.ActionStep("a", nil)})
	require.NoError(t, store.ProcessRepository().Save(context.Background(), process))

	inst, err := manager.Start(context.Background(), workflow.StartRequest{Definition: process})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, inst.Status)
	assert.Contains(t, inst.Error["message"], workflow.ErrNoHandler.Error())
}
