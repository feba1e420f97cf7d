package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/google/uuid"
)

// Process manages process definitions and their lifecycle.
type Process struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

// NewProcess creates a new process definition service.
func NewProcess(persistence persistence.Persistence, logger *slog.Logger) *Process {
	return &Process{
		persistence: persistence,
		logger:      logger.With("module", "process_service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck checks the health of the persistence layer.
func (p *Process) HealthCheck(ctx context.Context) (string, bool) {
	if p.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := p.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ProcessPatch lists the fields an update may change. Nil fields are kept.
type ProcessPatch struct {
	Name        *string
	Description *string
	Steps       []models.Step
	IsTemplate  *bool
	Version     *string
}

// DuplicateRequest names the copy made by Duplicate.
type DuplicateRequest struct {
	Name       string
	AsTemplate bool
}

// Create stores a new draft definition. Steps that reference a step template
// without their own config are filled from the template.
func (p *Process) Create(ctx context.Context, companyID, actor string, def *models.ProcessDefinition) (*models.ProcessDefinition, error) {
	def.ID = uuid.Must(uuid.NewV7()).String()
	def.Status = models.ProcessStatusDraft
	def.CompanyID = companyID
	def.CreatedAt = time.Time{}

	if def.Version == "" {
		def.Version = models.InitialVersion
	}

	if err := p.resolveTemplates(ctx, companyID, def); err != nil {
		return nil, err
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	def.Touch(actor, p.now())

	if err := p.persistence.ProcessRepository().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to create process definition: %w", err)
	}

	return def, nil
}

// FetchByID returns the definition if it belongs to companyID.
func (p *Process) FetchByID(ctx context.Context, companyID, id string) (*models.ProcessDefinition, error) {
	def, err := p.persistence.ProcessRepository().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !owned(companyID, def.Audit) {
		return nil, notFound(persistence.ErrProcessNotFound, id)
	}

	return def, nil
}

// List returns the company's definitions, optionally filtered by status and template flag.
func (p *Process) List(ctx context.Context, companyID string, status *models.ProcessStatus, isTemplate *bool) ([]*models.ProcessDefinition, error) {
	defs, err := p.persistence.ProcessRepository().List(ctx, persistence.ListProcessesOptions{
		CompanyID:  companyID,
		Status:     status,
		IsTemplate: isTemplate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list process definitions: %w", err)
	}

	return defs, nil
}

// Update applies patch. Archived definitions are read-only. Updating an active
// definition bumps its patch version unless the patch sets a version; running
// instances keep the snapshot they started with.
func (p *Process) Update(ctx context.Context, companyID, id, actor string, patch ProcessPatch) (*models.ProcessDefinition, error) {
	def, err := p.FetchByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	if def.Status == models.ProcessStatusArchived {
		return nil, fmt.Errorf("%w: %s", ErrCannotModifyArchived, id)
	}

	if patch.Name != nil {
		def.Name = *patch.Name
	}

	if patch.Description != nil {
		def.Description = *patch.Description
	}

	if patch.Steps != nil {
		def.Steps = patch.Steps
	}

	if patch.IsTemplate != nil {
		def.IsTemplate = *patch.IsTemplate
	}

	switch {
	case patch.Version != nil:
		def.Version = *patch.Version
	case def.Status == models.ProcessStatusActive:
		def.BumpPatch()
	}

	if err := p.resolveTemplates(ctx, companyID, def); err != nil {
		return nil, err
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	def.Touch(actor, p.now())

	if err := p.persistence.ProcessRepository().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to update process definition: %w", err)
	}

	return def, nil
}

// Activate makes a draft or paused definition triggerable after validating it.
func (p *Process) Activate(ctx context.Context, companyID, id, actor string) (*models.ProcessDefinition, error) {
	return p.changeStatus(ctx, companyID, id, actor, models.ProcessStatusActive)
}

// Pause stops new instances; in-flight instances continue.
func (p *Process) Pause(ctx context.Context, companyID, id, actor string) (*models.ProcessDefinition, error) {
	return p.changeStatus(ctx, companyID, id, actor, models.ProcessStatusPaused)
}

// Archive retires the definition for good and deactivates its triggers and
// scheduled jobs.
func (p *Process) Archive(ctx context.Context, companyID, id, actor string) (*models.ProcessDefinition, error) {
	def, err := p.changeStatus(ctx, companyID, id, actor, models.ProcessStatusArchived)
	if err != nil {
		return nil, err
	}

	if err := p.persistence.ScheduledJobRepository().DeactivateByProcess(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to deactivate scheduled jobs: %w", err)
	}

	triggers, err := p.persistence.TriggerRepository().ByProcess(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}

	for _, t := range triggers {
		if !t.IsActive {
			continue
		}

		t.IsActive = false
		t.Touch(actor, p.now())

		if err := p.persistence.TriggerRepository().Save(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to deactivate trigger %s: %w", t.ID, err)
		}
	}

	p.logger.InfoContext(ctx, "Process definition archived", "process_id", id, "actor", actor)

	return def, nil
}

func (p *Process) changeStatus(ctx context.Context, companyID, id, actor string, to models.ProcessStatus) (*models.ProcessDefinition, error) {
	def, err := p.FetchByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	if def.Status == models.ProcessStatusArchived {
		return nil, fmt.Errorf("%w: %s", ErrCannotModifyArchived, id)
	}

	if !models.CanTransitionProcess(def.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatusChange, def.Status, to)
	}

	if to == models.ProcessStatusActive {
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}

	def.Status = to
	def.Touch(actor, p.now())

	if err := p.persistence.ProcessRepository().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to change process status: %w", err)
	}

	return def, nil
}

// Delete removes a draft definition that never ran, together with its
// triggers and scheduled jobs.
func (p *Process) Delete(ctx context.Context, companyID, id string) error {
	def, err := p.FetchByID(ctx, companyID, id)
	if err != nil {
		return err
	}

	if def.Status != models.ProcessStatusDraft {
		return fmt.Errorf("%w: %s is %s", ErrNotDraft, id, def.Status)
	}

	count, err := p.persistence.InstanceRepository().CountByProcess(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count instances: %w", err)
	}

	if count > 0 {
		return fmt.Errorf("%w: %s has %d instances", ErrProcessInUse, id, count)
	}

	if err := p.persistence.ScheduledJobRepository().DeleteByProcess(ctx, id); err != nil {
		return fmt.Errorf("failed to delete scheduled jobs: %w", err)
	}

	if err := p.persistence.ProcessRepository().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete process definition: %w", err)
	}

	return nil
}

// Duplicate copies a definition into a new draft at the initial version.
func (p *Process) Duplicate(ctx context.Context, companyID, id, actor string, req DuplicateRequest) (*models.ProcessDefinition, error) {
	source, err := p.FetchByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = source.Name + " (copy)"
	}

	return p.copyOf(ctx, source, actor, name, req.AsTemplate)
}

// InstantiateFromTemplate creates a draft from a template definition.
func (p *Process) InstantiateFromTemplate(ctx context.Context, companyID, templateID, actor, name string) (*models.ProcessDefinition, error) {
	source, err := p.FetchByID(ctx, companyID, templateID)
	if err != nil {
		return nil, err
	}

	if !source.IsTemplate {
		return nil, fmt.Errorf("%w: %s", ErrNotTemplate, templateID)
	}

	if name == "" {
		name = source.Name
	}

	return p.copyOf(ctx, source, actor, name, false)
}

func (p *Process) copyOf(ctx context.Context, source *models.ProcessDefinition, actor, name string, asTemplate bool) (*models.ProcessDefinition, error) {
	clone, err := source.Clone()
	if err != nil {
		return nil, err
	}

	clone.ID = uuid.Must(uuid.NewV7()).String()
	clone.Name = name
	clone.Status = models.ProcessStatusDraft
	clone.IsTemplate = asTemplate
	clone.Version = models.InitialVersion
	clone.Audit = models.Audit{CompanyID: source.CompanyID}
	clone.Touch(actor, p.now())

	if err := p.persistence.ProcessRepository().Save(ctx, clone); err != nil {
		return nil, fmt.Errorf("failed to save process definition copy: %w", err)
	}

	return clone, nil
}

func (p *Process) resolveTemplates(ctx context.Context, companyID string, def *models.ProcessDefinition) error {
	for i, step := range def.Steps {
		if step.TemplateID == "" || step.Config != nil {
			continue
		}

		tmpl, err := p.persistence.StepTemplateRepository().ByID(ctx, step.TemplateID)
		if err != nil {
			if errors.Is(err, persistence.ErrStepTemplateNotFound) {
				return NewValidationError("resolveTemplates", "UNKNOWN_STEP_TEMPLATE",
					fmt.Sprintf("step %s references unknown template %s", step.ID, step.TemplateID), ErrInvalidRequest)
			}

			return fmt.Errorf("failed to load step template: %w", err)
		}

		if tmpl.CompanyID != "" && tmpl.CompanyID != companyID {
			return NewValidationError("resolveTemplates", "UNKNOWN_STEP_TEMPLATE",
				fmt.Sprintf("step %s references unknown template %s", step.ID, step.TemplateID), ErrInvalidRequest)
		}

		applied, err := tmpl.Apply(step)
		if err != nil {
			return err
		}

		def.Steps[i] = applied
	}

	return nil
}
