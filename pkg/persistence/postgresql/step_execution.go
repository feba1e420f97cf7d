package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// StepExecutionRepository handles step execution database operations.
type StepExecutionRepository struct {
	repository
}

const executionColumns = `
	id, instance_id, company_id, step_id, step_type, attempt, status,
	input_data, output_data, error_data, started_at, completed_at`

func scanExecution(row scanner) (*models.StepExecution, error) {
	var (
		e                            models.StepExecution
		inputJSON, outputJSON, errJSON []byte
		completedAt                  sql.NullTime
	)

	err := row.Scan(
		&e.ID, &e.InstanceID, &e.CompanyID, &e.StepID, &e.StepType, &e.Attempt, &e.Status,
		&inputJSON, &outputJSON, &errJSON, &e.StartedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	e.CompletedAt = timePtr(completedAt)

	if err := scanJSON(inputJSON, &e.InputData); err != nil {
		return nil, err
	}

	if err := scanJSON(outputJSON, &e.OutputData); err != nil {
		return nil, err
	}

	if err := scanJSON(errJSON, &e.ErrorData); err != nil {
		return nil, err
	}

	return &e, nil
}

func executionJSON(e *models.StepExecution) (input, output, errData any, err error) {
	if input, err = jsonParam(e.InputData); err != nil {
		return nil, nil, nil, err
	}

	if output, err = jsonParam(e.OutputData); err != nil {
		return nil, nil, nil, err
	}

	if errData, err = jsonParam(e.ErrorData); err != nil {
		return nil, nil, nil, err
	}

	return input, output, errData, nil
}

// Create relies on the partial unique index over non-terminal attempts.
func (r *StepExecutionRepository) Create(ctx context.Context, e *models.StepExecution) error {
	input, output, errData, err := executionJSON(e)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bpm_step_executions (id, instance_id, company_id, step_id, step_type, attempt, status,
			input_data, output_data, error_data, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.InstanceID, e.CompanyID, e.StepID, e.StepType, e.Attempt, e.Status,
		input, output, errData, e.StartedAt, e.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewEntityError("Create", "step execution", e.ID, persistence.ErrActiveExecutionExists)
		}

		return fmt.Errorf("failed to create step execution %s: %w", e.ID, err)
	}

	return nil
}

func (r *StepExecutionRepository) ByID(ctx context.Context, id string) (*models.StepExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM bpm_step_executions WHERE id = $1`, id)

	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByID", "step execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan step execution: %w", err)
	}

	return e, nil
}

func (r *StepExecutionRepository) Update(ctx context.Context, e *models.StepExecution, expected models.StepExecutionStatus) error {
	_, output, errData, err := executionJSON(e)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE bpm_step_executions
		SET status = $1, output_data = $2, error_data = $3, completed_at = $4
		WHERE id = $5 AND status = $6
	`, e.Status, output, errData, e.CompletedAt, e.ID, expected)
	if err != nil {
		return fmt.Errorf("failed to update step execution %s: %w", e.ID, err)
	}

	updated, err := rowsAffected(result)
	if err != nil {
		return err
	}

	if !updated {
		if _, err := r.ByID(ctx, e.ID); err != nil {
			return err
		}

		return persistence.NewEntityError("Update", "step execution", e.ID, persistence.ErrStaleState)
	}

	return nil
}

func (r *StepExecutionRepository) ByInstance(ctx context.Context, instanceID string) ([]*models.StepExecution, error) {
	return queryAll(ctx, r.repository, scanExecution,
		`SELECT `+executionColumns+` FROM bpm_step_executions WHERE instance_id = $1 ORDER BY started_at, id`, instanceID)
}
