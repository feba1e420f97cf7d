package file

import (
	"context"
	"sort"
	"sync"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// StepExecutionRepository handles step execution file operations.
type StepExecutionRepository struct {
	mu         *sync.RWMutex
	executions collection[models.StepExecution]
}

func (r *StepExecutionRepository) Create(_ context.Context, execution *models.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	active, err := r.executions.list(func(e *models.StepExecution) bool {
		return e.InstanceID == execution.InstanceID && e.StepID == execution.StepID && !e.Status.IsTerminal()
	})
	if err != nil {
		return err
	}

	if len(active) > 0 {
		return persistence.NewEntityError("Create", "step execution", execution.ID, persistence.ErrActiveExecutionExists)
	}

	return r.executions.put(execution.ID, execution)
}

func (r *StepExecutionRepository) ByID(_ context.Context, id string) (*models.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byID(id)
}

func (r *StepExecutionRepository) byID(id string) (*models.StepExecution, error) {
	execution, err := r.executions.get(id)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, persistence.NewEntityError("ByID", "step execution", id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func (r *StepExecutionRepository) Update(_ context.Context, execution *models.StepExecution, expected models.StepExecutionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.byID(execution.ID)
	if err != nil {
		return err
	}

	if stored.Status != expected {
		return persistence.NewEntityError("Update", "step execution", execution.ID, persistence.ErrStaleState)
	}

	return r.executions.put(execution.ID, execution)
}

func (r *StepExecutionRepository) ByInstance(_ context.Context, instanceID string) ([]*models.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions, err := r.executions.list(func(e *models.StepExecution) bool { return e.InstanceID == instanceID })
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		if !executions[i].StartedAt.Equal(executions[j].StartedAt) {
			return executions[i].StartedAt.Before(executions[j].StartedAt)
		}

		return executions[i].ID < executions[j].ID
	})

	return executions, nil
}
