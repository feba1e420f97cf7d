package file

import (
	"context"
	"sync"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// TriggerRepository handles trigger file operations.
type TriggerRepository struct {
	mu       *sync.RWMutex
	triggers collection[models.Trigger]
}

func (r *TriggerRepository) Save(_ context.Context, trigger *models.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.triggers.put(trigger.ID, trigger)
}

func (r *TriggerRepository) ByID(_ context.Context, id string) (*models.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trigger, err := r.triggers.get(id)
	if err != nil {
		return nil, err
	}

	if trigger == nil {
		return nil, persistence.NewEntityError("ByID", "trigger", id, persistence.ErrTriggerNotFound)
	}

	return trigger, nil
}

func (r *TriggerRepository) ByProcess(_ context.Context, processID string) ([]*models.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.triggers.list(func(t *models.Trigger) bool { return t.ProcessID == processID })
}

func (r *TriggerRepository) Active(_ context.Context, companyID string, triggerType models.TriggerType) ([]*models.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.triggers.list(func(t *models.Trigger) bool {
		return t.IsActive && t.Type == triggerType && t.CompanyID == companyID
	})
}
