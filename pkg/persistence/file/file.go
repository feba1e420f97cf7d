// Package file provides file-based persistence: one JSON document per entity
// under <root>/<collection>/<id>.json. Conditional updates are serialized by a
// process-wide lock, so the store is safe for concurrent use within one process.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string
	mu   *sync.RWMutex

	processes   *ProcessRepository
	triggers    *TriggerRepository
	instances   *InstanceRepository
	executions  *StepExecutionRepository
	approvals   *ApprovalRepository
	jobs        *ScheduledJobRepository
	templates   *StepTemplateRepository
	connections *APIConnectionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	mu := &sync.RWMutex{}

	p := &Persistence{root: cleanRoot, mu: mu}
	p.triggers = &TriggerRepository{mu: mu, triggers: newCollection[models.Trigger](cleanRoot, "triggers")}
	p.processes = &ProcessRepository{
		mu:        mu,
		processes: newCollection[models.ProcessDefinition](cleanRoot, "processes"),
		triggers:  p.triggers.triggers,
	}
	p.instances = &InstanceRepository{mu: mu, instances: newCollection[models.ProcessInstance](cleanRoot, "instances")}
	p.executions = &StepExecutionRepository{mu: mu, executions: newCollection[models.StepExecution](cleanRoot, "step_executions")}
	p.approvals = &ApprovalRepository{mu: mu, approvals: newCollection[models.Approval](cleanRoot, "approvals")}
	p.jobs = &ScheduledJobRepository{mu: mu, jobs: newCollection[models.ScheduledJob](cleanRoot, "scheduled_jobs")}
	p.templates = &StepTemplateRepository{mu: mu, templates: newCollection[models.StepTemplate](cleanRoot, "step_templates")}
	p.connections = &APIConnectionRepository{mu: mu, connections: newCollection[models.APIConnection](cleanRoot, "api_connections")}

	return p
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) ProcessRepository() persistence.ProcessRepository { return fp.processes }

func (fp *Persistence) TriggerRepository() persistence.TriggerRepository { return fp.triggers }

func (fp *Persistence) InstanceRepository() persistence.InstanceRepository { return fp.instances }

func (fp *Persistence) StepExecutionRepository() persistence.StepExecutionRepository {
	return fp.executions
}

func (fp *Persistence) ApprovalRepository() persistence.ApprovalRepository { return fp.approvals }

func (fp *Persistence) ScheduledJobRepository() persistence.ScheduledJobRepository { return fp.jobs }

func (fp *Persistence) StepTemplateRepository() persistence.StepTemplateRepository {
	return fp.templates
}

func (fp *Persistence) APIConnectionRepository() persistence.APIConnectionRepository {
	return fp.connections
}

var _ persistence.Persistence = (*Persistence)(nil)
