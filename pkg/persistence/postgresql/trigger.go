package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// TriggerRepository handles trigger database operations.
type TriggerRepository struct {
	repository
}

const triggerColumns = `
	id, process_id, company_id, type, condition, is_active,
	created_at, updated_at, COALESCE(created_by, ''), COALESCE(updated_by, '')`

func scanTrigger(row scanner) (*models.Trigger, error) {
	var (
		t             models.Trigger
		conditionJSON []byte
	)

	err := row.Scan(
		&t.ID, &t.ProcessID, &t.CompanyID, &t.Type, &conditionJSON, &t.IsActive,
		&t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	t.Condition, err = models.DecodeTriggerCondition(t.Type, conditionJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode condition of trigger %s: %w", t.ID, err)
	}

	return &t, nil
}

func (r *TriggerRepository) Save(ctx context.Context, t *models.Trigger) error {
	condition, err := jsonParam(t.Condition)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bpm_triggers (id, process_id, company_id, type, condition, is_active,
			created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			condition = EXCLUDED.condition,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`

	_, err = r.db.ExecContext(ctx, query,
		t.ID, t.ProcessID, t.CompanyID, t.Type, condition, t.IsActive,
		t.CreatedAt, t.UpdatedAt, t.CreatedBy, t.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger %s: %w", t.ID, err)
	}

	return nil
}

func (r *TriggerRepository) ByID(ctx context.Context, id string) (*models.Trigger, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM bpm_triggers WHERE id = $1`, id)

	t, err := scanTrigger(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByID", "trigger", id, persistence.ErrTriggerNotFound)
		}

		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}

	return t, nil
}

func (r *TriggerRepository) ByProcess(ctx context.Context, processID string) ([]*models.Trigger, error) {
	return queryAll(ctx, r.repository, scanTrigger,
		`SELECT `+triggerColumns+` FROM bpm_triggers WHERE process_id = $1 ORDER BY created_at`, processID)
}

func (r *TriggerRepository) Active(ctx context.Context, companyID string, triggerType models.TriggerType) ([]*models.Trigger, error) {
	return queryAll(ctx, r.repository, scanTrigger,
		`SELECT `+triggerColumns+` FROM bpm_triggers WHERE is_active AND company_id = $1 AND type = $2 ORDER BY created_at`,
		companyID, triggerType)
}
