package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/google/uuid"
)

// Catalog manages step templates and API connections.
type Catalog struct {
	persistence persistence.Persistence
	now         func() time.Time
}

func NewCatalog(persistence persistence.Persistence) *Catalog {
	return &Catalog{
		persistence: persistence,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateStepTemplate stores a template owned by companyID. Templates loaded
// from the catalog file with an empty company are global.
func (c *Catalog) CreateStepTemplate(ctx context.Context, companyID, actor string, tmpl *models.StepTemplate) (*models.StepTemplate, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	if tmpl.ID == "" {
		tmpl.ID = uuid.Must(uuid.NewV7()).String()
	}

	tmpl.CompanyID = companyID
	tmpl.Touch(actor, c.now())

	if err := c.persistence.StepTemplateRepository().Save(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to save step template: %w", err)
	}

	return tmpl, nil
}

// StepTemplate returns a template of companyID or a global one.
func (c *Catalog) StepTemplate(ctx context.Context, companyID, id string) (*models.StepTemplate, error) {
	tmpl, err := c.persistence.StepTemplateRepository().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if tmpl.CompanyID != "" && !owned(companyID, tmpl.Audit) {
		return nil, notFound(persistence.ErrStepTemplateNotFound, id)
	}

	return tmpl, nil
}

func (c *Catalog) StepTemplates(ctx context.Context, companyID string) ([]*models.StepTemplate, error) {
	return c.persistence.StepTemplateRepository().List(ctx, companyID)
}

func (c *Catalog) CreateAPIConnection(ctx context.Context, companyID, actor string, conn *models.APIConnection) (*models.APIConnection, error) {
	if err := conn.Validate(); err != nil {
		return nil, err
	}

	if conn.ID == "" {
		conn.ID = uuid.Must(uuid.NewV7()).String()
	}

	conn.CompanyID = companyID
	conn.Touch(actor, c.now())

	if err := c.persistence.APIConnectionRepository().Save(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to save api connection: %w", err)
	}

	return conn, nil
}

func (c *Catalog) APIConnection(ctx context.Context, companyID, id string) (*models.APIConnection, error) {
	conn, err := c.persistence.APIConnectionRepository().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !owned(companyID, conn.Audit) {
		return nil, notFound(persistence.ErrAPIConnectionNotFound, id)
	}

	return conn, nil
}

func (c *Catalog) APIConnections(ctx context.Context, companyID string) ([]*models.APIConnection, error) {
	return c.persistence.APIConnectionRepository().List(ctx, companyID)
}
