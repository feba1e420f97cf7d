package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/google/uuid"
)

// ScheduledJob manages scheduled jobs created directly, without a trigger.
type ScheduledJob struct {
	persistence persistence.Persistence
	now         func() time.Time
}

func NewScheduledJob(persistence persistence.Persistence) *ScheduledJob {
	return &ScheduledJob{
		persistence: persistence,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ScheduledJobPatch lists the fields an update may change. Nil fields are kept.
type ScheduledJobPatch struct {
	Name     *string
	Cron     *string
	Timezone *string
	Payload  map[string]any
	IsActive *bool
}

// Create stores a job for a process of companyID. NextRunAt is left for the
// runner's first tick.
func (s *ScheduledJob) Create(ctx context.Context, companyID, actor string, job *models.ScheduledJob) (*models.ScheduledJob, error) {
	def, err := s.persistence.ProcessRepository().ByID(ctx, job.ProcessID)
	if err != nil {
		return nil, err
	}

	if !owned(companyID, def.Audit) {
		return nil, notFound(persistence.ErrProcessNotFound, job.ProcessID)
	}

	if def.Status == models.ProcessStatusArchived {
		return nil, fmt.Errorf("%w: %s", ErrCannotModifyArchived, def.ID)
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	job.ID = uuid.Must(uuid.NewV7()).String()
	job.CompanyID = companyID
	job.LastRunAt = nil
	job.NextRunAt = nil
	job.CreatedAt = time.Time{}
	job.Touch(actor, s.now())

	if err := s.persistence.ScheduledJobRepository().Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create scheduled job: %w", err)
	}

	return job, nil
}

func (s *ScheduledJob) FetchByID(ctx context.Context, companyID, id string) (*models.ScheduledJob, error) {
	job, err := s.persistence.ScheduledJobRepository().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !owned(companyID, job.Audit) {
		return nil, notFound(persistence.ErrScheduledJobNotFound, id)
	}

	return job, nil
}

func (s *ScheduledJob) List(ctx context.Context, companyID string) ([]*models.ScheduledJob, error) {
	return s.persistence.ScheduledJobRepository().List(ctx, companyID)
}

// Update applies patch. Changing the pattern or timezone, or reactivating
// the job, resets NextRunAt so the next tick recomputes it.
func (s *ScheduledJob) Update(ctx context.Context, companyID, id, actor string, patch ScheduledJobPatch) (*models.ScheduledJob, error) {
	job, err := s.FetchByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	reschedule := false

	if patch.Name != nil {
		job.Name = *patch.Name
	}

	if patch.Cron != nil && *patch.Cron != job.Cron {
		job.Cron = *patch.Cron
		reschedule = true
	}

	if patch.Timezone != nil && *patch.Timezone != job.Timezone {
		job.Timezone = *patch.Timezone
		reschedule = true
	}

	if patch.Payload != nil {
		job.Payload = patch.Payload
	}

	if patch.IsActive != nil {
		if *patch.IsActive && !job.IsActive {
			reschedule = true
		}

		job.IsActive = *patch.IsActive
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	if reschedule {
		job.NextRunAt = nil
	}

	job.Touch(actor, s.now())

	if err := s.persistence.ScheduledJobRepository().Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to update scheduled job: %w", err)
	}

	return job, nil
}
