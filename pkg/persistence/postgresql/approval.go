package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// ApprovalRepository handles approval database operations.
type ApprovalRepository struct {
	repository
}

const approvalColumns = `
	id, instance_id, execution_id, company_id, step_id, approver_user_id, status, comments,
	responded_by, requested_at, responded_at, to_jsonb(reminders_sent), reminder_interval_ns, expires_at`

func scanApproval(row scanner) (*models.Approval, error) {
	var (
		a                       models.Approval
		respondedAt, expiresAt  sql.NullTime
		remindersJSON           []byte
		reminderInterval        int64
	)

	err := row.Scan(
		&a.ID, &a.InstanceID, &a.ExecutionID, &a.CompanyID, &a.StepID, &a.ApproverUserID, &a.Status, &a.Comments,
		&a.RespondedBy, &a.RequestedAt, &respondedAt, &remindersJSON, &reminderInterval, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	a.RespondedAt = timePtr(respondedAt)
	a.ExpiresAt = timePtr(expiresAt)
	a.ReminderInterval = models.Duration(reminderInterval)

	if err := scanJSON(remindersJSON, &a.RemindersSent); err != nil {
		return nil, err
	}

	for i := range a.RemindersSent {
		a.RemindersSent[i] = a.RemindersSent[i].UTC()
	}

	return &a, nil
}

func (r *ApprovalRepository) Create(ctx context.Context, a *models.Approval) error {
	query := `
		INSERT INTO bpm_approvals (id, instance_id, execution_id, company_id, step_id, approver_user_id, status,
			comments, responded_by, requested_at, responded_at, reminder_interval_ns, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.InstanceID, a.ExecutionID, a.CompanyID, a.StepID, a.ApproverUserID, a.Status,
		a.Comments, a.RespondedBy, a.RequestedAt, a.RespondedAt, int64(a.ReminderInterval), a.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create approval %s: %w", a.ID, err)
	}

	return nil
}

func (r *ApprovalRepository) ByID(ctx context.Context, id string) (*models.Approval, error) {
	return r.one(ctx, "ByID", `SELECT `+approvalColumns+` FROM bpm_approvals WHERE id = $1`, id)
}

func (r *ApprovalRepository) ByExecution(ctx context.Context, executionID string) (*models.Approval, error) {
	return r.one(ctx, "ByExecution", `SELECT `+approvalColumns+` FROM bpm_approvals WHERE execution_id = $1`, executionID)
}

func (r *ApprovalRepository) one(ctx context.Context, op, query, id string) (*models.Approval, error) {
	a, err := scanApproval(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError(op, "approval", id, persistence.ErrApprovalNotFound)
		}

		return nil, fmt.Errorf("failed to scan approval: %w", err)
	}

	return a, nil
}

func (r *ApprovalRepository) ByInstance(ctx context.Context, instanceID string) ([]*models.Approval, error) {
	return queryAll(ctx, r.repository, scanApproval,
		`SELECT `+approvalColumns+` FROM bpm_approvals WHERE instance_id = $1 ORDER BY requested_at`, instanceID)
}

func (r *ApprovalRepository) Pending(ctx context.Context, companyID string) ([]*models.Approval, error) {
	return queryAll(ctx, r.repository, scanApproval, `
		SELECT `+approvalColumns+`
		FROM bpm_approvals
		WHERE status = 'pending' AND ($1 = '' OR company_id = $1)
		ORDER BY requested_at
	`, companyID)
}

func (r *ApprovalRepository) Resolve(ctx context.Context, id string, status models.ApprovalStatus, comments, respondedBy string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bpm_approvals
		SET status = $1, comments = $2, responded_by = $3, responded_at = $4
		WHERE id = $5 AND status = 'pending'
	`, status, comments, respondedBy, at, id)
	if err != nil {
		return fmt.Errorf("failed to resolve approval %s: %w", id, err)
	}

	return r.guarded(ctx, "Resolve", id, result)
}

func (r *ApprovalRepository) AppendReminder(ctx context.Context, id string, sentCount int, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bpm_approvals
		SET reminders_sent = array_append(reminders_sent, $1)
		WHERE id = $2 AND status = 'pending' AND COALESCE(array_length(reminders_sent, 1), 0) = $3
	`, at, id, sentCount)
	if err != nil {
		return fmt.Errorf("failed to append reminder to approval %s: %w", id, err)
	}

	return r.guarded(ctx, "AppendReminder", id, result)
}

func (r *ApprovalRepository) guarded(ctx context.Context, op, id string, result sql.Result) error {
	updated, err := rowsAffected(result)
	if err != nil {
		return err
	}

	if updated {
		return nil
	}

	if _, err := r.ByID(ctx, id); err != nil {
		return err
	}

	return persistence.NewEntityError(op, "approval", id, persistence.ErrStaleState)
}
