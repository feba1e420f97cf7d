package file

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// InstanceRepository handles process instance file operations.
type InstanceRepository struct {
	mu        *sync.RWMutex
	instances collection[models.ProcessInstance]
}

func (r *InstanceRepository) Create(_ context.Context, instance *models.ProcessInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.instances.put(instance.ID, instance)
}

func (r *InstanceRepository) ByID(_ context.Context, id string) (*models.ProcessInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byID(id)
}

func (r *InstanceRepository) byID(id string) (*models.ProcessInstance, error) {
	instance, err := r.instances.get(id)
	if err != nil {
		return nil, err
	}

	if instance == nil {
		return nil, persistence.NewEntityError("ByID", "instance", id, persistence.ErrInstanceNotFound)
	}

	return instance, nil
}

func (r *InstanceRepository) Update(_ context.Context, instance *models.ProcessInstance, expected models.InstanceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.byID(instance.ID)
	if err != nil {
		return err
	}

	if stored.Status != expected || stored.Revision != instance.Revision {
		return persistence.NewEntityError("Update", "instance", instance.ID, persistence.ErrStaleState)
	}

	instance.Revision++

	if err := r.instances.put(instance.ID, instance); err != nil {
		instance.Revision--

		return err
	}

	return nil
}

func (r *InstanceRepository) List(_ context.Context, opts persistence.ListInstancesOptions) ([]*models.ProcessInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances, err := r.instances.list(func(i *models.ProcessInstance) bool {
		if opts.CompanyID != "" && i.CompanyID != opts.CompanyID {
			return false
		}

		if opts.ProcessID != "" && i.ProcessID != opts.ProcessID {
			return false
		}

		return opts.Status == nil || i.Status == *opts.Status
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].StartedAt.After(instances[j].StartedAt)
	})

	return instances, nil
}

func (r *InstanceRepository) CountByProcess(_ context.Context, processID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances, err := r.instances.list(func(i *models.ProcessInstance) bool { return i.ProcessID == processID })
	if err != nil {
		return 0, err
	}

	return len(instances), nil
}

func (r *InstanceRepository) DueSuspensions(_ context.Context, now time.Time) ([]*models.ProcessInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances, err := r.instances.list(func(i *models.ProcessInstance) bool {
		s := i.Suspension
		if i.Status != models.InstanceStatusRunning || s == nil || s.ResumeAt == nil {
			return false
		}

		return (s.Kind == models.SuspensionDelay || s.Kind == models.SuspensionRetry) && !s.ResumeAt.After(now)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Suspension.ResumeAt.Before(*instances[j].Suspension.ResumeAt)
	})

	return instances, nil
}
