// Package workflow drives process instances through their step graph: the
// Executor runs one step attempt, the Manager owns the instance state machine.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/metrics"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/google/uuid"
)

// StartRequest asks for a new instance of Definition.
type StartRequest struct {
	Definition *models.ProcessDefinition
	TriggerID  string
	Context    map[string]any
	Actor      string

	parentInstanceID  string
	parentExecutionID string
}

// Manager owns the lifecycle of process instances. Every state write is a
// conditional update on (status, revision); a caller that loses a race gets
// persistence.ErrStaleState and leaves the instance alone.
type Manager struct {
	store     persistence.Persistence
	instances persistence.InstanceRepository
	executor  *Executor
	publisher eventbus.EventPublisher
	metrics   metrics.Recorder
	logger    *slog.Logger
	now       Clock
	maxSteps  int
}

func NewManager(store persistence.Persistence, executor *Executor, opts Options) *Manager {
	opts = opts.withDefaults()

	return &Manager{
		store:     store,
		instances: store.InstanceRepository(),
		executor:  executor,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("module", "instance_manager"),
		now:       opts.Clock,
		maxSteps:  opts.MaxStepsPerRun,
	}
}

// Start creates an instance from a snapshot of req.Definition and runs it
// until it suspends or terminates.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*models.ProcessInstance, error) {
	inst, err := m.create(ctx, req)
	if err != nil {
		return nil, err
	}

	return m.run(ctx, inst, 1)
}

func (m *Manager) create(ctx context.Context, req StartRequest) (*models.ProcessInstance, error) {
	def := req.Definition
	if def == nil {
		return nil, fmt.Errorf("%w: no definition", ErrProcessNotActive)
	}

	if def.Status != models.ProcessStatusActive {
		return nil, fmt.Errorf("%w: process %s is %s", ErrProcessNotActive, def.ID, def.Status)
	}

	snapshot, err := def.Snapshot()
	if err != nil {
		return nil, err
	}

	if len(snapshot.Steps) == 0 {
		return nil, fmt.Errorf("%w: process %s has no steps", models.ErrInvalidDefinition, def.ID)
	}

	now := m.now()
	inst := &models.ProcessInstance{
		ID:                uuid.Must(uuid.NewV7()).String(),
		ProcessID:         def.ID,
		Snapshot:          snapshot,
		TriggerID:         req.TriggerID,
		ParentInstanceID:  req.parentInstanceID,
		ParentExecutionID: req.parentExecutionID,
		ContextData:       copyMap(req.Context),
		CurrentStep:       snapshot.FirstStep(),
		Status:            models.InstanceStatusRunning,
		StartedAt:         now,
		Audit:             models.Audit{CompanyID: def.CompanyID},
	}
	inst.Touch(req.Actor, now)

	if err := m.instances.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	m.metrics.IncInstanceStarted(def.ID)
	m.publish(ctx, inst, events.InstanceStartedEvent, "")
	m.logger.InfoContext(ctx, "Instance started",
		"instance_id", inst.ID,
		"process_id", def.ID,
		"version", snapshot.Version,
		"trigger_id", req.TriggerID)

	return inst, nil
}

// StartChild creates a child instance for a subprocess step. The child is
// stored but not run: the manager runs it once the parent has been persisted.
func (m *Manager) StartChild(ctx context.Context, parent *models.ProcessInstance, execution *models.StepExecution, cfg *models.SubprocessConfig, input map[string]any) (*models.ProcessInstance, error) {
	def, err := m.store.ProcessRepository().ByID(ctx, cfg.ProcessID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, protocol.Permanent(err)
		}

		return nil, fmt.Errorf("failed to load subprocess definition: %w", err)
	}

	if def.CompanyID != parent.CompanyID {
		return nil, protocol.Permanent(fmt.Errorf("%w: %s", persistence.ErrProcessNotFound, cfg.ProcessID))
	}

	child, err := m.create(ctx, StartRequest{
		Definition:        def,
		Context:           input,
		Actor:             parent.UpdatedBy,
		parentInstanceID:  parent.ID,
		parentExecutionID: execution.ID,
	})
	if errors.Is(err, ErrProcessNotActive) {
		return nil, protocol.Permanent(err)
	}

	return child, err
}

// Advance completes the current step of a running instance with output and
// continues with the next step.
func (m *Manager) Advance(ctx context.Context, instanceID string, output map[string]any) (*models.ProcessInstance, error) {
	inst, err := m.instances.ByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	if inst.Status != models.InstanceStatusRunning || inst.IsSuspended() {
		return nil, fmt.Errorf("%w: instance %s is %s", ErrInvalidTransition, inst.ID, inst.Status)
	}

	return m.advanceAndRun(ctx, inst, inst.CurrentStep, output, "")
}

// Fail moves an instance to failed with errData.
func (m *Manager) Fail(ctx context.Context, instanceID string, errData map[string]any) (*models.ProcessInstance, error) {
	inst, err := m.instances.ByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	return m.fail(ctx, inst, errData)
}

// Cancel stops an instance. Concurrent writers are retried against; a step
// still running observes the cancellation when it returns.
func (m *Manager) Cancel(ctx context.Context, instanceID, reason, actor string) (*models.ProcessInstance, error) {
	const attempts = 5

	for i := 0; i < attempts; i++ {
		inst, err := m.instances.ByID(ctx, instanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to load instance: %w", err)
		}

		expected := inst.Status
		suspension := inst.Suspension

		if err := inst.Transition(models.InstanceStatusCancelled, m.now()); err != nil {
			return nil, err
		}

		inst.CancelReason = reason
		inst.UpdatedBy = actor

		err = m.instances.Update(ctx, inst, expected)
		if errors.Is(err, persistence.ErrStaleState) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to cancel instance: %w", err)
		}

		m.releaseSuspension(ctx, inst, suspension, reason)
		m.finished(ctx, inst)

		return inst, nil
	}

	return nil, fmt.Errorf("failed to cancel instance %s: %w", instanceID, persistence.ErrStaleState)
}

// releaseSuspension closes whatever a cancelled instance was parked on.
func (m *Manager) releaseSuspension(ctx context.Context, inst *models.ProcessInstance, suspension *models.Suspension, reason string) {
	if suspension == nil {
		return
	}

	if suspension.ExecutionID != "" {
		if _, err := m.executor.Finalize(ctx, suspension.ExecutionID, models.StepExecutionSkipped, nil,
			map[string]any{"reason": "instance cancelled"}); err != nil {
			m.logger.ErrorContext(ctx, "failed to skip pending execution", "instance_id", inst.ID, "error", err)
		}
	}

	switch suspension.Kind {
	case models.SuspensionApproval:
		err := m.store.ApprovalRepository().Resolve(ctx, suspension.ApprovalID, models.ApprovalRejected,
			"instance cancelled: "+reason, inst.UpdatedBy, m.now())
		if err != nil && !errors.Is(err, persistence.ErrStaleState) {
			m.logger.ErrorContext(ctx, "failed to close pending approval", "approval_id", suspension.ApprovalID, "error", err)
		}
	case models.SuspensionSubprocess:
		_, err := m.Cancel(ctx, suspension.ChildInstanceID, "parent cancelled", inst.UpdatedBy)
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			m.logger.ErrorContext(ctx, "failed to cancel child instance", "child_instance_id", suspension.ChildInstanceID, "error", err)
		}
	}
}

// discard closes what a step opened after its instance turned terminal: the
// approval or child it would have parked on and any child it created.
func (m *Manager) discard(ctx context.Context, instanceID string, outcome Outcome) (*models.ProcessInstance, error) {
	current, err := m.instances.ByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload instance: %w", err)
	}

	reason := current.CancelReason
	if reason == "" {
		reason = "instance " + string(current.Status)
	}

	m.releaseSuspension(ctx, current, outcome.Suspension, reason)

	for _, id := range outcome.Spawned {
		_, err := m.Cancel(ctx, id, "parent "+string(current.Status), current.UpdatedBy)
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			m.logger.ErrorContext(ctx, "failed to cancel child instance", "child_instance_id", id, "error", err)
		}
	}

	return current, nil
}

// run executes steps of a running instance until it suspends, terminates or
// another writer takes it over. attempt is the attempt number of the first
// step executed.
func (m *Manager) run(ctx context.Context, inst *models.ProcessInstance, attempt int) (*models.ProcessInstance, error) {
	for executed := 0; ; executed++ {
		if inst.Status != models.InstanceStatusRunning || inst.IsSuspended() {
			return inst, nil
		}

		if executed >= m.maxSteps {
			return m.fail(ctx, inst, errorData(ErrStepLimitExceeded, map[string]any{"step_id": inst.CurrentStep}))
		}

		step, ok := inst.Snapshot.Step(inst.CurrentStep)
		if !ok {
			return m.fail(ctx, inst, errorData(models.ErrUnknownNextStep, map[string]any{"step_id": inst.CurrentStep}))
		}

		outcome, err := m.executor.Execute(ctx, inst, step, attempt)
		if err != nil {
			return inst, err
		}

		switch outcome.Kind {
		case OutcomeDiscarded:
			return m.discard(ctx, inst.ID, outcome)

		case OutcomeSkipped, OutcomeCompleted:
			next, err := m.advance(ctx, inst, step.ID, outcome.Output, outcome.Next)
			if err != nil {
				return m.settle(ctx, inst, err)
			}

			inst = next
			attempt = 1

			m.runChildren(ctx, outcome.Spawned)

		case OutcomeSuspended:
			if err := m.suspend(ctx, inst, outcome.Suspension); err != nil {
				return m.settle(ctx, inst, err)
			}

			if len(outcome.Spawned) == 0 {
				return inst, nil
			}

			m.runChildren(ctx, outcome.Spawned)

			// A child that finished synchronously has already resumed us.
			return m.instances.ByID(ctx, inst.ID)

		case OutcomeFailed:
			if !outcome.Retryable {
				return m.fail(ctx, inst, errorData(outcome.Err, map[string]any{
					"step_id":      step.ID,
					"execution_id": outcome.Execution.ID,
					"attempt":      attempt,
				}))
			}

			m.metrics.IncStepRetry(string(step.Type))
			attempt++

			backoff := time.Duration(0)
			if step.Retry != nil {
				backoff = step.Retry.Backoff(attempt)
			}

			if backoff == 0 {
				continue
			}

			resumeAt := m.now().Add(backoff)
			if err := m.suspend(ctx, inst, &models.Suspension{
				Kind:     models.SuspensionRetry,
				StepID:   step.ID,
				ResumeAt: &resumeAt,
				Attempt:  attempt,
			}); err != nil {
				return m.settle(ctx, inst, err)
			}

			return inst, nil
		}
	}
}

// settle turns a lost race into a quiet stop: the winner owns the instance.
func (m *Manager) settle(ctx context.Context, inst *models.ProcessInstance, err error) (*models.ProcessInstance, error) {
	if !errors.Is(err, persistence.ErrStaleState) {
		return inst, err
	}

	m.logger.InfoContext(ctx, "Instance changed concurrently, stopping run", "instance_id", inst.ID)

	current, loadErr := m.instances.ByID(ctx, inst.ID)
	if loadErr != nil {
		return inst, fmt.Errorf("failed to reload instance: %w", loadErr)
	}

	return current, nil
}

// advance merges output for stepID and moves the instance to the next step,
// completing it when there is none. The instance is persisted either way.
func (m *Manager) advance(ctx context.Context, inst *models.ProcessInstance, stepID string, output map[string]any, override string) (*models.ProcessInstance, error) {
	inst.MergeOutput(stepID, output)

	next, err := inst.Snapshot.NextStep(stepID, override)
	if err != nil {
		return m.fail(ctx, inst, errorData(err, map[string]any{"step_id": stepID}))
	}

	if next == "" {
		return m.complete(ctx, inst)
	}

	inst.CurrentStep = next
	inst.UpdatedAt = m.now()

	if err := m.instances.Update(ctx, inst, models.InstanceStatusRunning); err != nil {
		return inst, fmt.Errorf("failed to advance instance: %w", err)
	}

	return inst, nil
}

func (m *Manager) advanceAndRun(ctx context.Context, inst *models.ProcessInstance, stepID string, output map[string]any, override string) (*models.ProcessInstance, error) {
	inst, err := m.advance(ctx, inst, stepID, output, override)
	if err != nil {
		return m.settle(ctx, inst, err)
	}

	return m.run(ctx, inst, 1)
}

func (m *Manager) suspend(ctx context.Context, inst *models.ProcessInstance, suspension *models.Suspension) error {
	expected := inst.Status

	if suspension.Kind == models.SuspensionApproval {
		if err := inst.Transition(models.InstanceStatusWaitingApproval, m.now()); err != nil {
			return err
		}
	}

	inst.Suspension = suspension
	inst.UpdatedAt = m.now()

	if err := m.instances.Update(ctx, inst, expected); err != nil {
		return fmt.Errorf("failed to suspend instance: %w", err)
	}

	if suspension.Kind == models.SuspensionApproval {
		m.publish(ctx, inst, events.InstanceWaitingEvent, "")
	}

	m.logger.InfoContext(ctx, "Instance suspended", "instance_id", inst.ID, "step_id", suspension.StepID, "kind", suspension.Kind)

	return nil
}

func (m *Manager) complete(ctx context.Context, inst *models.ProcessInstance) (*models.ProcessInstance, error) {
	if err := inst.Transition(models.InstanceStatusCompleted, m.now()); err != nil {
		return inst, err
	}

	if err := m.instances.Update(ctx, inst, models.InstanceStatusRunning); err != nil {
		return inst, fmt.Errorf("failed to complete instance: %w", err)
	}

	m.finished(ctx, inst)

	return inst, nil
}

func (m *Manager) fail(ctx context.Context, inst *models.ProcessInstance, errData map[string]any) (*models.ProcessInstance, error) {
	expected := inst.Status

	if err := inst.Transition(models.InstanceStatusFailed, m.now()); err != nil {
		return inst, err
	}

	inst.Error = errData

	if err := m.instances.Update(ctx, inst, expected); err != nil {
		return m.settle(ctx, inst, fmt.Errorf("failed to fail instance: %w", err))
	}

	m.finished(ctx, inst)

	return inst, nil
}

// finished reports a terminal instance and wakes a parent waiting on it.
func (m *Manager) finished(ctx context.Context, inst *models.ProcessInstance) {
	m.metrics.IncInstanceFinished(inst.ProcessID, string(inst.Status))

	var eventType events.EventType

	switch inst.Status {
	case models.InstanceStatusCompleted:
		eventType = events.InstanceCompletedEvent
	case models.InstanceStatusFailed:
		eventType = events.InstanceFailedEvent
	case models.InstanceStatusCancelled:
		eventType = events.InstanceCancelledEvent
	}

	m.publish(ctx, inst, eventType, inst.CancelReason)
	m.logger.InfoContext(ctx, "Instance finished", "instance_id", inst.ID, "status", inst.Status)

	if inst.ParentInstanceID != "" {
		if err := m.childTerminated(ctx, inst); err != nil {
			m.logger.ErrorContext(ctx, "failed to resume parent instance",
				"instance_id", inst.ID,
				"parent_instance_id", inst.ParentInstanceID,
				"error", err)
		}
	}
}

// runChildren runs freshly created child instances. A child's failure is
// its own and never surfaces to the caller.
func (m *Manager) runChildren(ctx context.Context, ids []string) {
	for _, id := range ids {
		child, err := m.instances.ByID(ctx, id)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to load child instance", "instance_id", id, "error", err)

			continue
		}

		if _, err := m.run(ctx, child, 1); err != nil {
			m.logger.ErrorContext(ctx, "child instance run failed", "instance_id", id, "error", err)
		}
	}
}
