package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/trigger"
	"github.com/google/uuid"
)

// Trigger manages triggers and keeps scheduled triggers bound to their jobs.
type Trigger struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

func NewTrigger(persistence persistence.Persistence, logger *slog.Logger) *Trigger {
	return &Trigger{
		persistence: persistence,
		logger:      logger.With("module", "trigger_service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a trigger for processID. A trigger created active goes
// through the same checks as Activate.
func (s *Trigger) Create(ctx context.Context, companyID, processID, actor string, t *models.Trigger) (*models.Trigger, error) {
	def, err := s.persistence.ProcessRepository().ByID(ctx, processID)
	if err != nil {
		return nil, err
	}

	if !owned(companyID, def.Audit) {
		return nil, notFound(persistence.ErrProcessNotFound, processID)
	}

	if def.Status == models.ProcessStatusArchived {
		return nil, fmt.Errorf("%w: %s", ErrCannotModifyArchived, processID)
	}

	activate := t.IsActive

	t.ID = uuid.Must(uuid.NewV7()).String()
	t.ProcessID = processID
	t.CompanyID = companyID
	t.IsActive = false
	t.CreatedAt = time.Time{}
	t.Touch(actor, s.now())

	if err := s.persistence.TriggerRepository().Save(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	if activate {
		return s.Activate(ctx, companyID, t.ID, actor)
	}

	return t, nil
}

func (s *Trigger) FetchByID(ctx context.Context, companyID, id string) (*models.Trigger, error) {
	t, err := s.persistence.TriggerRepository().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !owned(companyID, t.Audit) {
		return nil, notFound(persistence.ErrTriggerNotFound, id)
	}

	return t, nil
}

func (s *Trigger) ListByProcess(ctx context.Context, companyID, processID string) ([]*models.Trigger, error) {
	def, err := s.persistence.ProcessRepository().ByID(ctx, processID)
	if err != nil {
		return nil, err
	}

	if !owned(companyID, def.Audit) {
		return nil, notFound(persistence.ErrProcessNotFound, processID)
	}

	return s.persistence.TriggerRepository().ByProcess(ctx, processID)
}

// Activate validates the trigger's condition and enables it. Activating a
// scheduled trigger creates or refreshes its scheduled job.
func (s *Trigger) Activate(ctx context.Context, companyID, id, actor string) (*models.Trigger, error) {
	t, err := s.FetchByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	if err := trigger.ValidateCondition(t); err != nil {
		return nil, err
	}

	def, err := s.persistence.ProcessRepository().ByID(ctx, t.ProcessID)
	if err != nil {
		return nil, err
	}

	if def.Status == models.ProcessStatusArchived {
		return nil, fmt.Errorf("%w: %s", ErrCannotModifyArchived, def.ID)
	}

	t.IsActive = true
	t.Touch(actor, s.now())

	if err := s.persistence.TriggerRepository().Save(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to activate trigger: %w", err)
	}

	if t.Type == models.TriggerTypeScheduled {
		if err := s.syncJob(ctx, t, def, actor); err != nil {
			return nil, err
		}
	}

	s.logger.InfoContext(ctx, "Trigger activated", "trigger_id", t.ID, "trigger_type", t.Type, "process_id", t.ProcessID)

	return t, nil
}

// Deactivate disables the trigger and its scheduled job, if any.
func (s *Trigger) Deactivate(ctx context.Context, companyID, id, actor string) (*models.Trigger, error) {
	t, err := s.FetchByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	t.IsActive = false
	t.Touch(actor, s.now())

	if err := s.persistence.TriggerRepository().Save(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to deactivate trigger: %w", err)
	}

	if t.Type != models.TriggerTypeScheduled {
		return t, nil
	}

	job, err := s.persistence.ScheduledJobRepository().ByTrigger(ctx, t.ID)
	if errors.Is(err, persistence.ErrScheduledJobNotFound) {
		return t, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load scheduled job: %w", err)
	}

	job.IsActive = false
	job.Touch(actor, s.now())

	if err := s.persistence.ScheduledJobRepository().Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to deactivate scheduled job: %w", err)
	}

	return t, nil
}

// syncJob makes the trigger's scheduled job match its condition. A changed
// pattern or timezone, or a job coming back from inactive, clears NextRunAt
// so the runner recomputes it instead of firing missed periods.
func (s *Trigger) syncJob(ctx context.Context, t *models.Trigger, def *models.ProcessDefinition, actor string) error {
	cond, ok := t.Condition.(*models.ScheduledCondition)
	if !ok {
		return NewValidationError("syncJob", "INVALID_CONDITION", "scheduled trigger has no schedule", models.ErrInvalidCondition)
	}

	jobs := s.persistence.ScheduledJobRepository()

	job, err := jobs.ByTrigger(ctx, t.ID)

	switch {
	case errors.Is(err, persistence.ErrScheduledJobNotFound):
		job = &models.ScheduledJob{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Name:      def.Name + " schedule",
			ProcessID: t.ProcessID,
			TriggerID: t.ID,
			Audit:     models.Audit{CompanyID: t.CompanyID},
		}
	case err != nil:
		return fmt.Errorf("failed to load scheduled job: %w", err)
	}

	if !job.IsActive || job.Cron != cond.Cron || job.Timezone != cond.Timezone {
		job.NextRunAt = nil
	}

	job.Cron = cond.Cron
	job.Timezone = cond.Timezone
	job.Payload = cond.Payload
	job.IsActive = true
	job.Touch(actor, s.now())

	if err := jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to save scheduled job: %w", err)
	}

	return nil
}
