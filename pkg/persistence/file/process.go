package file

import (
	"context"
	"sort"
	"sync"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// ProcessRepository handles process definition file operations.
type ProcessRepository struct {
	mu        *sync.RWMutex
	processes collection[models.ProcessDefinition]
	triggers  collection[models.Trigger]
}

func (r *ProcessRepository) Save(_ context.Context, process *models.ProcessDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.processes.put(process.ID, process)
}

func (r *ProcessRepository) ByID(_ context.Context, id string) (*models.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	process, err := r.processes.get(id)
	if err != nil {
		return nil, err
	}

	if process == nil {
		return nil, persistence.NewEntityError("ByID", "process", id, persistence.ErrProcessNotFound)
	}

	return process, nil
}

func (r *ProcessRepository) List(_ context.Context, opts persistence.ListProcessesOptions) ([]*models.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	processes, err := r.processes.list(func(p *models.ProcessDefinition) bool {
		if opts.CompanyID != "" && p.CompanyID != opts.CompanyID {
			return false
		}

		if opts.Status != nil && p.Status != *opts.Status {
			return false
		}

		return opts.IsTemplate == nil || p.IsTemplate == *opts.IsTemplate
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(processes, func(i, j int) bool {
		return processes[i].CreatedAt.After(processes[j].CreatedAt)
	})

	return processes, nil
}

func (r *ProcessRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	triggers, err := r.triggers.list(func(t *models.Trigger) bool { return t.ProcessID == id })
	if err != nil {
		return err
	}

	for _, trigger := range triggers {
		if err := r.triggers.remove(trigger.ID); err != nil {
			return err
		}
	}

	return r.processes.remove(id)
}
