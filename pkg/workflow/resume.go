package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// ResumeFromApproval applies a human decision to the instance waiting on
// executionID. Only the first caller wins: later or concurrent calls get
// ErrNotWaitingApproval or persistence.ErrStaleState and change nothing.
func (m *Manager) ResumeFromApproval(ctx context.Context, executionID string, decision models.ApprovalStatus, comments, actor string) (*models.ProcessInstance, error) {
	if !decision.IsDecision() {
		return nil, fmt.Errorf("%w: %q is not a decision", models.ErrInvalidTransition, decision)
	}

	inst, approval, err := m.claimApproval(ctx, executionID, decision, comments, actor)
	if err != nil {
		return nil, err
	}

	step, ok := inst.Snapshot.Step(approval.StepID)
	if !ok {
		return m.fail(ctx, inst, errorData(models.ErrUnknownNextStep, map[string]any{"step_id": approval.StepID}))
	}

	output := map[string]any{
		"approval_id":  approval.ID,
		"approver":     approval.ApproverUserID,
		"decision":     string(decision),
		"comments":     comments,
		"responded_by": actor,
	}

	m.publish(ctx, inst, events.InstanceResumedEvent, "")

	if decision == models.ApprovalApproved {
		if _, err := m.executor.Finalize(ctx, executionID, models.StepExecutionCompleted, output, nil); err != nil {
			return inst, err
		}

		return m.advanceAndRun(ctx, inst, step.ID, output, "")
	}

	cfg, _ := step.Config.(*models.ApprovalConfig)
	if cfg == nil || cfg.RejectsToFailure() {
		rejection := map[string]any{
			"message":      "approval rejected",
			"step_id":      step.ID,
			"execution_id": executionID,
			"comments":     comments,
			"responded_by": actor,
		}

		if _, err := m.executor.Finalize(ctx, executionID, models.StepExecutionFailed, output, rejection); err != nil {
			return inst, err
		}

		return m.fail(ctx, inst, rejection)
	}

	if _, err := m.executor.Finalize(ctx, executionID, models.StepExecutionCompleted, output, nil); err != nil {
		return inst, err
	}

	return m.advanceAndRun(ctx, inst, step.ID, output, cfg.OnReject)
}

// ExpireApproval rejects an overdue approval and fails its instance.
func (m *Manager) ExpireApproval(ctx context.Context, executionID string) (*models.ProcessInstance, error) {
	inst, approval, err := m.claimApproval(ctx, executionID, models.ApprovalRejected, "expired", "")
	if err != nil {
		return nil, err
	}

	expiry := map[string]any{
		"message":      "approval expired",
		"step_id":      approval.StepID,
		"execution_id": executionID,
		"approval_id":  approval.ID,
	}

	if _, err := m.executor.Finalize(ctx, executionID, models.StepExecutionFailed, nil, expiry); err != nil {
		return inst, err
	}

	return m.fail(ctx, inst, expiry)
}

// claimApproval moves the instance waiting on executionID back to running
// and records the decision on its pending approval.
func (m *Manager) claimApproval(ctx context.Context, executionID string, decision models.ApprovalStatus, comments, actor string) (*models.ProcessInstance, *models.Approval, error) {
	execution, err := m.store.StepExecutionRepository().ByID(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load step execution: %w", err)
	}

	inst, err := m.instances.ByID(ctx, execution.InstanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load instance: %w", err)
	}

	if inst.Status != models.InstanceStatusWaitingApproval ||
		inst.Suspension == nil ||
		inst.Suspension.Kind != models.SuspensionApproval ||
		inst.Suspension.ExecutionID != executionID {
		return nil, nil, fmt.Errorf("%w: instance %s is %s", ErrNotWaitingApproval, inst.ID, inst.Status)
	}

	approval, err := m.store.ApprovalRepository().ByExecution(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load approval: %w", err)
	}

	if approval.Status != models.ApprovalPending {
		return nil, nil, fmt.Errorf("%w: approval %s is already %s", ErrNotWaitingApproval, approval.ID, approval.Status)
	}

	now := m.now()
	if err := inst.Transition(models.InstanceStatusRunning, now); err != nil {
		return nil, nil, err
	}

	inst.Suspension = nil
	inst.UpdatedBy = actor

	if err := m.instances.Update(ctx, inst, models.InstanceStatusWaitingApproval); err != nil {
		return nil, nil, fmt.Errorf("failed to resume instance: %w", err)
	}

	if err := m.store.ApprovalRepository().Resolve(ctx, approval.ID, decision, comments, actor, now); err != nil {
		return nil, nil, fmt.Errorf("failed to resolve approval: %w", err)
	}

	approval.Status = decision
	approval.Comments = comments
	approval.RespondedBy = actor
	approval.RespondedAt = &now

	m.logger.InfoContext(ctx, "Approval resolved", "instance_id", inst.ID, "approval_id", approval.ID, "decision", decision)

	return inst, approval, nil
}

// ResumeDue continues every instance parked on a delay or retry whose resume
// time has come. One instance's failure never stops the others. It returns
// how many instances were resumed.
func (m *Manager) ResumeDue(ctx context.Context, now time.Time) (int, error) {
	due, err := m.instances.DueSuspensions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due suspensions: %w", err)
	}

	resumed := 0

	for _, inst := range due {
		if err := m.resumeSuspended(ctx, inst); err != nil {
			if errors.Is(err, persistence.ErrStaleState) {
				continue
			}

			m.logger.ErrorContext(ctx, "failed to resume instance", "instance_id", inst.ID, "error", err)

			continue
		}

		resumed++
	}

	return resumed, nil
}

func (m *Manager) resumeSuspended(ctx context.Context, inst *models.ProcessInstance) error {
	suspension := inst.Suspension
	if suspension == nil || (suspension.Kind != models.SuspensionDelay && suspension.Kind != models.SuspensionRetry) {
		return nil
	}

	inst.Suspension = nil
	inst.UpdatedAt = m.now()

	if err := m.instances.Update(ctx, inst, models.InstanceStatusRunning); err != nil {
		return fmt.Errorf("failed to claim suspended instance: %w", err)
	}

	m.publish(ctx, inst, events.InstanceResumedEvent, "")

	if suspension.Kind == models.SuspensionRetry {
		_, err := m.run(ctx, inst, suspension.Attempt)

		return err
	}

	execution, err := m.executor.Finalize(ctx, suspension.ExecutionID, models.StepExecutionCompleted, nil, nil)
	if err != nil {
		return err
	}

	_, err = m.advanceAndRun(ctx, inst, suspension.StepID, execution.OutputData, "")

	return err
}

// childTerminated resumes the parent of a finished child if the parent is
// still waiting on it.
func (m *Manager) childTerminated(ctx context.Context, child *models.ProcessInstance) error {
	parent, err := m.instances.ByID(ctx, child.ParentInstanceID)
	if err != nil {
		return fmt.Errorf("failed to load parent instance: %w", err)
	}

	suspension := parent.Suspension
	if parent.Status != models.InstanceStatusRunning ||
		suspension == nil ||
		suspension.Kind != models.SuspensionSubprocess ||
		suspension.ChildInstanceID != child.ID {
		return nil
	}

	parent.Suspension = nil
	parent.UpdatedAt = m.now()

	if err := m.instances.Update(ctx, parent, models.InstanceStatusRunning); err != nil {
		if errors.Is(err, persistence.ErrStaleState) {
			return nil
		}

		return fmt.Errorf("failed to claim parent instance: %w", err)
	}

	m.publish(ctx, parent, events.InstanceResumedEvent, "")

	output := map[string]any{
		"child_instance_id": child.ID,
		"child_status":      string(child.Status),
		"child_output":      child.ContextData,
	}

	failOnChild := true
	if step, ok := parent.Snapshot.Step(suspension.StepID); ok {
		if cfg, ok := step.Config.(*models.SubprocessConfig); ok {
			failOnChild = cfg.OnChildFailure != models.ChildFailureContinue
		}
	}

	if child.Status != models.InstanceStatusCompleted && failOnChild {
		failure := map[string]any{
			"message":           "subprocess " + string(child.Status),
			"step_id":           suspension.StepID,
			"child_instance_id": child.ID,
			"child_error":       child.Error,
		}

		if _, err := m.executor.Finalize(ctx, suspension.ExecutionID, models.StepExecutionFailed, output, failure); err != nil {
			return err
		}

		_, err := m.fail(ctx, parent, failure)

		return err
	}

	if _, err := m.executor.Finalize(ctx, suspension.ExecutionID, models.StepExecutionCompleted, output, nil); err != nil {
		return err
	}

	_, err = m.advanceAndRun(ctx, parent, suspension.StepID, output, "")

	return err
}
