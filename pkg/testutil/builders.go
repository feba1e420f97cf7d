// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/google/uuid"
)

// Epoch is the fixed "now" most tests run at.
var Epoch = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// CreateTestProcess creates an active single-company ProcessDefinition that
// can be overridden.
func CreateTestProcess(steps []models.Step, overrides ...func(*models.ProcessDefinition)) *models.ProcessDefinition {
	process := &models.ProcessDefinition{
		ID:      uuid.New().String(),
		Name:    "Test Process",
		Steps:   steps,
		Status:  models.ProcessStatusActive,
		Version: models.InitialVersion,
		Audit: models.Audit{
			CompanyID: "acme",
			CreatedAt: Epoch,
			UpdatedAt: Epoch,
			CreatedBy: "tester",
			UpdatedBy: "tester",
		},
	}

	for _, override := range overrides {
		override(process)
	}

	return process
}

// WithStatus sets the process status.
func WithStatus(status models.ProcessStatus) func(*models.ProcessDefinition) {
	return func(p *models.ProcessDefinition) {
		p.Status = status
	}
}

// ActionStep builds a context.set action step.
func ActionStep(id string, params map[string]any) models.Step {
	return models.Step{
		ID:     id,
		Name:   id,
		Type:   models.StepTypeAction,
		Config: &models.ActionConfig{Operation: "context.set", Params: params},
	}
}

// ApprovalStep builds an approval step asking approver.
func ApprovalStep(id, approver string) models.Step {
	return models.Step{
		ID:     id,
		Name:   id,
		Type:   models.StepTypeApproval,
		Config: &models.ApprovalConfig{Approver: approver},
	}
}

// NotificationStep builds an email notification step.
func NotificationStep(id, to, body string) models.Step {
	return models.Step{
		ID:     id,
		Name:   id,
		Type:   models.StepTypeNotification,
		Config: &models.NotificationConfig{Channel: "email", To: to, Body: body},
	}
}

// CreateTestInstance creates a running instance of process at its first step.
func CreateTestInstance(process *models.ProcessDefinition, overrides ...func(*models.ProcessInstance)) *models.ProcessInstance {
	snapshot, err := process.Snapshot()
	if err != nil {
		panic(err)
	}

	inst := &models.ProcessInstance{
		ID:          uuid.New().String(),
		ProcessID:   process.ID,
		Snapshot:    snapshot,
		ContextData: map[string]any{},
		CurrentStep: snapshot.FirstStep(),
		Status:      models.InstanceStatusRunning,
		StartedAt:   Epoch,
		Audit:       models.Audit{CompanyID: process.CompanyID, CreatedAt: Epoch, UpdatedAt: Epoch},
	}

	for _, override := range overrides {
		override(inst)
	}

	return inst
}

// StepRequest builds a handler request for step on a fresh instance with the
// given context data.
func StepRequest(step models.Step, contextData map[string]any) protocol.StepRequest {
	inst := CreateTestInstance(CreateTestProcess([]models.Step{step}), func(i *models.ProcessInstance) {
		if contextData != nil {
			i.ContextData = contextData
		}
	})

	return protocol.StepRequest{
		Instance: inst,
		Step:     step,
		Execution: &models.StepExecution{
			ID:         uuid.New().String(),
			InstanceID: inst.ID,
			StepID:     step.ID,
			StepType:   step.Type,
			Attempt:    1,
			Status:     models.StepExecutionRunning,
			StartedAt:  Epoch,
			CompanyID:  inst.CompanyID,
		},
		Logger: Logger(),
		Now:    Epoch,
	}
}
