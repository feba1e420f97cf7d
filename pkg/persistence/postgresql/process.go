package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// ProcessRepository handles process definition database operations.
type ProcessRepository struct {
	repository
}

const processColumns = `
	id, company_id, name, description, steps, status, is_template, version,
	created_at, updated_at, COALESCE(created_by, ''), COALESCE(updated_by, '')`

func scanProcess(row scanner) (*models.ProcessDefinition, error) {
	var (
		p         models.ProcessDefinition
		stepsJSON []byte
	)

	err := row.Scan(
		&p.ID, &p.CompanyID, &p.Name, &p.Description, &stepsJSON, &p.Status, &p.IsTemplate, &p.Version,
		&p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	if err := scanJSON(stepsJSON, &p.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of process %s: %w", p.ID, err)
	}

	return &p, nil
}

// Save inserts or replaces a definition.
func (r *ProcessRepository) Save(ctx context.Context, p *models.ProcessDefinition) error {
	steps, err := jsonParam(p.Steps)
	if err != nil {
		return err
	}

	if steps == nil {
		steps = "[]"
	}

	query := `
		INSERT INTO bpm_processes (id, company_id, name, description, steps, status, is_template, version,
			created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			steps = EXCLUDED.steps,
			status = EXCLUDED.status,
			is_template = EXCLUDED.is_template,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`

	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.CompanyID, p.Name, p.Description, steps, p.Status, p.IsTemplate, p.Version,
		p.CreatedAt, p.UpdatedAt, p.CreatedBy, p.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save process %s: %w", p.ID, err)
	}

	return nil
}

func (r *ProcessRepository) ByID(ctx context.Context, id string) (*models.ProcessDefinition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+processColumns+` FROM bpm_processes WHERE id = $1`, id)

	p, err := scanProcess(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByID", "process", id, persistence.ErrProcessNotFound)
		}

		return nil, fmt.Errorf("failed to scan process: %w", err)
	}

	return p, nil
}

func (r *ProcessRepository) List(ctx context.Context, opts persistence.ListProcessesOptions) ([]*models.ProcessDefinition, error) {
	var (
		where []string
		args  []any
	)

	if opts.CompanyID != "" {
		args = append(args, opts.CompanyID)
		where = append(where, fmt.Sprintf("company_id = $%d", len(args)))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	if opts.IsTemplate != nil {
		args = append(args, *opts.IsTemplate)
		where = append(where, fmt.Sprintf("is_template = $%d", len(args)))
	}

	query := `SELECT ` + processColumns + ` FROM bpm_processes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	query += ` ORDER BY created_at DESC`

	return queryAll(ctx, r.repository, scanProcess, query, args...)
}

// Delete removes a definition; triggers go with it through ON DELETE CASCADE.
func (r *ProcessRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bpm_processes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete process %s: %w", id, err)
	}

	return nil
}
