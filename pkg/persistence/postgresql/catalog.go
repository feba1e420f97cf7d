package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// StepTemplateRepository handles step template database operations.
type StepTemplateRepository struct {
	repository
}

const templateColumns = `
	id, company_id, name, description, type, config, retry,
	created_at, updated_at, COALESCE(created_by, ''), COALESCE(updated_by, '')`

func scanTemplate(row scanner) (*models.StepTemplate, error) {
	var (
		t                     models.StepTemplate
		configJSON, retryJSON []byte
	)

	err := row.Scan(
		&t.ID, &t.CompanyID, &t.Name, &t.Description, &t.Type, &configJSON, &retryJSON,
		&t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	t.Config, err = models.DecodeStepConfig(t.Type, configJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config of step template %s: %w", t.ID, err)
	}

	if err := scanJSON(retryJSON, &t.Retry); err != nil {
		return nil, err
	}

	return &t, nil
}

func (r *StepTemplateRepository) Save(ctx context.Context, t *models.StepTemplate) error {
	config, err := jsonParam(t.Config)
	if err != nil {
		return err
	}

	retry, err := jsonParam(t.Retry)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bpm_step_templates (id, company_id, name, description, type, config, retry,
			created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			type = EXCLUDED.type,
			config = EXCLUDED.config,
			retry = EXCLUDED.retry,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`, t.ID, t.CompanyID, t.Name, t.Description, t.Type, config, retry,
		t.CreatedAt, t.UpdatedAt, t.CreatedBy, t.UpdatedBy)
	if err != nil {
		return fmt.Errorf("failed to save step template %s: %w", t.ID, err)
	}

	return nil
}

func (r *StepTemplateRepository) ByID(ctx context.Context, id string) (*models.StepTemplate, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM bpm_step_templates WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByID", "step template", id, persistence.ErrStepTemplateNotFound)
		}

		return nil, fmt.Errorf("failed to scan step template: %w", err)
	}

	return t, nil
}

func (r *StepTemplateRepository) List(ctx context.Context, companyID string) ([]*models.StepTemplate, error) {
	return queryAll(ctx, r.repository, scanTemplate,
		`SELECT `+templateColumns+` FROM bpm_step_templates WHERE company_id = '' OR company_id = $1 ORDER BY name`, companyID)
}

// APIConnectionRepository handles API connection database operations.
type APIConnectionRepository struct {
	repository
}

const connectionColumns = `
	id, company_id, name, base_url, headers, timeout_ns, is_active,
	created_at, updated_at, COALESCE(created_by, ''), COALESCE(updated_by, '')`

func scanConnection(row scanner) (*models.APIConnection, error) {
	var (
		c           models.APIConnection
		headersJSON []byte
		timeout     int64
	)

	err := row.Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.BaseURL, &headersJSON, &timeout, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt, &c.CreatedBy, &c.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	c.Timeout = models.Duration(timeout)

	if err := scanJSON(headersJSON, &c.Headers); err != nil {
		return nil, err
	}

	return &c, nil
}

func (r *APIConnectionRepository) Save(ctx context.Context, c *models.APIConnection) error {
	headers, err := jsonParam(c.Headers)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bpm_api_connections (id, company_id, name, base_url, headers, timeout_ns, is_active,
			created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			base_url = EXCLUDED.base_url,
			headers = EXCLUDED.headers,
			timeout_ns = EXCLUDED.timeout_ns,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`, c.ID, c.CompanyID, c.Name, c.BaseURL, headers, int64(c.Timeout), c.IsActive,
		c.CreatedAt, c.UpdatedAt, c.CreatedBy, c.UpdatedBy)
	if err != nil {
		return fmt.Errorf("failed to save api connection %s: %w", c.ID, err)
	}

	return nil
}

func (r *APIConnectionRepository) ByID(ctx context.Context, id string) (*models.APIConnection, error) {
	c, err := scanConnection(r.db.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM bpm_api_connections WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByID", "api connection", id, persistence.ErrAPIConnectionNotFound)
		}

		return nil, fmt.Errorf("failed to scan api connection: %w", err)
	}

	return c, nil
}

func (r *APIConnectionRepository) List(ctx context.Context, companyID string) ([]*models.APIConnection, error) {
	return queryAll(ctx, r.repository, scanConnection,
		`SELECT `+connectionColumns+` FROM bpm_api_connections WHERE ($1 = '' OR company_id = $1) ORDER BY name`, companyID)
}
