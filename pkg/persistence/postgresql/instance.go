package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// InstanceRepository handles process instance database operations.
type InstanceRepository struct {
	repository
}

const instanceColumns = `
	id, process_id, company_id, snapshot, COALESCE(trigger_id, ''), COALESCE(parent_instance_id, ''),
	COALESCE(parent_execution_id, ''), context_data, current_step, status, suspension, error,
	cancel_reason, revision, started_at, completed_at, created_at, updated_at,
	COALESCE(created_by, ''), COALESCE(updated_by, '')`

func scanInstance(row scanner) (*models.ProcessInstance, error) {
	var (
		i                                           models.ProcessInstance
		snapshotJSON, contextJSON, suspJSON, errJSON []byte
		completedAt                                 sql.NullTime
	)

	err := row.Scan(
		&i.ID, &i.ProcessID, &i.CompanyID, &snapshotJSON, &i.TriggerID, &i.ParentInstanceID,
		&i.ParentExecutionID, &contextJSON, &i.CurrentStep, &i.Status, &suspJSON, &errJSON,
		&i.CancelReason, &i.Revision, &i.StartedAt, &completedAt, &i.CreatedAt, &i.UpdatedAt,
		&i.CreatedBy, &i.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	i.CompletedAt = timePtr(completedAt)

	for _, col := range []struct {
		data []byte
		dst  any
	}{
		{snapshotJSON, &i.Snapshot},
		{contextJSON, &i.ContextData},
		{suspJSON, &i.Suspension},
		{errJSON, &i.Error},
	} {
		if err := scanJSON(col.data, col.dst); err != nil {
			return nil, fmt.Errorf("failed to decode instance %s: %w", i.ID, err)
		}
	}

	return &i, nil
}

// resumeAt is the indexed copy of the suspension's resume time.
func resumeAt(i *models.ProcessInstance) *time.Time {
	if i.Suspension == nil {
		return nil
	}

	return i.Suspension.ResumeAt
}

func instanceJSON(i *models.ProcessInstance) (snapshot, contextData, suspension, errData any, err error) {
	if snapshot, err = jsonParam(i.Snapshot); err != nil {
		return
	}

	if contextData, err = jsonParam(i.ContextData); err != nil {
		return
	}

	if contextData == nil {
		contextData = "{}"
	}

	if suspension, err = jsonParam(i.Suspension); err != nil {
		return
	}

	errData, err = jsonParam(i.Error)

	return
}

func (r *InstanceRepository) Create(ctx context.Context, i *models.ProcessInstance) error {
	snapshot, contextData, suspension, errData, err := instanceJSON(i)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bpm_process_instances (id, process_id, company_id, snapshot, trigger_id, parent_instance_id,
			parent_execution_id, context_data, current_step, status, suspension, resume_at, error, cancel_reason,
			revision, started_at, completed_at, created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21)
	`

	_, err = r.db.ExecContext(ctx, query,
		i.ID, i.ProcessID, i.CompanyID, snapshot, i.TriggerID, i.ParentInstanceID,
		i.ParentExecutionID, contextData, i.CurrentStep, i.Status, suspension, resumeAt(i), errData, i.CancelReason,
		i.Revision, i.StartedAt, i.CompletedAt, i.CreatedAt, i.UpdatedAt, i.CreatedBy, i.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create instance %s: %w", i.ID, err)
	}

	return nil
}

func (r *InstanceRepository) ByID(ctx context.Context, id string) (*models.ProcessInstance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM bpm_process_instances WHERE id = $1`, id)

	i, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByID", "instance", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return i, nil
}

// Update is guarded by the expected status and the caller's revision.
func (r *InstanceRepository) Update(ctx context.Context, i *models.ProcessInstance, expected models.InstanceStatus) error {
	_, contextData, suspension, errData, err := instanceJSON(i)
	if err != nil {
		return err
	}

	query := `
		UPDATE bpm_process_instances SET
			context_data = $1,
			current_step = $2,
			status = $3,
			suspension = $4,
			resume_at = $5,
			error = $6,
			cancel_reason = $7,
			completed_at = $8,
			updated_at = $9,
			updated_by = $10,
			revision = revision + 1
		WHERE id = $11 AND status = $12 AND revision = $13
	`

	result, err := r.db.ExecContext(ctx, query,
		contextData, i.CurrentStep, i.Status, suspension, resumeAt(i), errData, i.CancelReason,
		i.CompletedAt, i.UpdatedAt, i.UpdatedBy,
		i.ID, expected, i.Revision,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", i.ID, err)
	}

	updated, err := rowsAffected(result)
	if err != nil {
		return err
	}

	if !updated {
		if _, err := r.ByID(ctx, i.ID); err != nil {
			return err
		}

		return persistence.NewEntityError("Update", "instance", i.ID, persistence.ErrStaleState)
	}

	i.Revision++

	return nil
}

func (r *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.ProcessInstance, error) {
	var (
		where []string
		args  []any
	)

	if opts.CompanyID != "" {
		args = append(args, opts.CompanyID)
		where = append(where, fmt.Sprintf("company_id = $%d", len(args)))
	}

	if opts.ProcessID != "" {
		args = append(args, opts.ProcessID)
		where = append(where, fmt.Sprintf("process_id = $%d", len(args)))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + instanceColumns + ` FROM bpm_process_instances`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	query += ` ORDER BY started_at DESC`

	return queryAll(ctx, r.repository, scanInstance, query, args...)
}

func (r *InstanceRepository) CountByProcess(ctx context.Context, processID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bpm_process_instances WHERE process_id = $1`, processID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances of process %s: %w", processID, err)
	}

	return count, nil
}

func (r *InstanceRepository) DueSuspensions(ctx context.Context, now time.Time) ([]*models.ProcessInstance, error) {
	return queryAll(ctx, r.repository, scanInstance, `
		SELECT `+instanceColumns+`
		FROM bpm_process_instances
		WHERE status = 'running'
		  AND resume_at IS NOT NULL
		  AND resume_at <= $1
		  AND suspension->>'kind' IN ('delay', 'retry')
		ORDER BY resume_at
	`, now)
}
