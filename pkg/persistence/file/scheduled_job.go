package file

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// ScheduledJobRepository handles scheduled job file operations.
type ScheduledJobRepository struct {
	mu   *sync.RWMutex
	jobs collection[models.ScheduledJob]
}

func (r *ScheduledJobRepository) Save(_ context.Context, job *models.ScheduledJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.jobs.put(job.ID, job)
}

func (r *ScheduledJobRepository) ByID(_ context.Context, id string) (*models.ScheduledJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byID(id)
}

func (r *ScheduledJobRepository) byID(id string) (*models.ScheduledJob, error) {
	job, err := r.jobs.get(id)
	if err != nil {
		return nil, err
	}

	if job == nil {
		return nil, persistence.NewEntityError("ByID", "scheduled job", id, persistence.ErrScheduledJobNotFound)
	}

	return job, nil
}

func (r *ScheduledJobRepository) ByTrigger(_ context.Context, triggerID string) (*models.ScheduledJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs, err := r.jobs.list(func(j *models.ScheduledJob) bool { return j.TriggerID == triggerID })
	if err != nil {
		return nil, err
	}

	if len(jobs) == 0 {
		return nil, persistence.NewEntityError("ByTrigger", "scheduled job", triggerID, persistence.ErrScheduledJobNotFound)
	}

	return jobs[0], nil
}

func (r *ScheduledJobRepository) List(_ context.Context, companyID string) ([]*models.ScheduledJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs, err := r.jobs.list(func(j *models.ScheduledJob) bool { return companyID == "" || j.CompanyID == companyID })
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	return jobs, nil
}

func (r *ScheduledJobRepository) Candidates(_ context.Context, now time.Time) ([]*models.ScheduledJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.jobs.list(func(j *models.ScheduledJob) bool {
		return j.IsActive && (j.NextRunAt == nil || !j.NextRunAt.After(now))
	})
}

func (r *ScheduledJobRepository) Claim(_ context.Context, id string, expected *time.Time, lastRunAt *time.Time, nextRunAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.byID(id)
	if err != nil {
		return false, err
	}

	if !job.IsActive || !sameInstant(job.NextRunAt, expected) {
		return false, nil
	}

	if lastRunAt != nil {
		job.LastRunAt = lastRunAt
	}

	job.NextRunAt = &nextRunAt

	if err := r.jobs.put(id, job); err != nil {
		return false, err
	}

	return true, nil
}

func (r *ScheduledJobRepository) DeactivateByProcess(_ context.Context, processID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs, err := r.jobs.list(func(j *models.ScheduledJob) bool { return j.ProcessID == processID && j.IsActive })
	if err != nil {
		return err
	}

	for _, job := range jobs {
		job.IsActive = false
		if err := r.jobs.put(job.ID, job); err != nil {
			return err
		}
	}

	return nil
}

func (r *ScheduledJobRepository) DeleteByProcess(_ context.Context, processID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs, err := r.jobs.list(func(j *models.ScheduledJob) bool { return j.ProcessID == processID })
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := r.jobs.remove(job.ID); err != nil {
			return err
		}
	}

	return nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return a.Equal(*b)
}
