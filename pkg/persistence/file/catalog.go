package file

import (
	"context"
	"sort"
	"sync"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// StepTemplateRepository handles step template file operations.
type StepTemplateRepository struct {
	mu        *sync.RWMutex
	templates collection[models.StepTemplate]
}

func (r *StepTemplateRepository) Save(_ context.Context, template *models.StepTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.templates.put(template.ID, template)
}

func (r *StepTemplateRepository) ByID(_ context.Context, id string) (*models.StepTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	template, err := r.templates.get(id)
	if err != nil {
		return nil, err
	}

	if template == nil {
		return nil, persistence.NewEntityError("ByID", "step template", id, persistence.ErrStepTemplateNotFound)
	}

	return template, nil
}

func (r *StepTemplateRepository) List(_ context.Context, companyID string) ([]*models.StepTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	templates, err := r.templates.list(func(t *models.StepTemplate) bool {
		return t.CompanyID == "" || t.CompanyID == companyID
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })

	return templates, nil
}

// APIConnectionRepository handles API connection file operations.
type APIConnectionRepository struct {
	mu          *sync.RWMutex
	connections collection[models.APIConnection]
}

func (r *APIConnectionRepository) Save(_ context.Context, connection *models.APIConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.connections.put(connection.ID, connection)
}

func (r *APIConnectionRepository) ByID(_ context.Context, id string) (*models.APIConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connection, err := r.connections.get(id)
	if err != nil {
		return nil, err
	}

	if connection == nil {
		return nil, persistence.NewEntityError("ByID", "api connection", id, persistence.ErrAPIConnectionNotFound)
	}

	return connection, nil
}

func (r *APIConnectionRepository) List(_ context.Context, companyID string) ([]*models.APIConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections, err := r.connections.list(func(c *models.APIConnection) bool {
		return companyID == "" || c.CompanyID == companyID
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(connections, func(i, j int) bool { return connections[i].Name < connections[j].Name })

	return connections, nil
}
