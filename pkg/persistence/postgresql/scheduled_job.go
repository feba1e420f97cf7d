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

// ScheduledJobRepository handles scheduled job database operations.
type ScheduledJobRepository struct {
	repository
}

const jobColumns = `
	id, company_id, name, process_id, COALESCE(trigger_id, ''), cron, timezone, payload,
	last_run_at, next_run_at, is_active, created_at, updated_at,
	COALESCE(created_by, ''), COALESCE(updated_by, '')`

func scanJob(row scanner) (*models.ScheduledJob, error) {
	var (
		j                  models.ScheduledJob
		payloadJSON        []byte
		lastRun, nextRun   sql.NullTime
	)

	err := row.Scan(
		&j.ID, &j.CompanyID, &j.Name, &j.ProcessID, &j.TriggerID, &j.Cron, &j.Timezone, &payloadJSON,
		&lastRun, &nextRun, &j.IsActive, &j.CreatedAt, &j.UpdatedAt, &j.CreatedBy, &j.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	j.LastRunAt = timePtr(lastRun)
	j.NextRunAt = timePtr(nextRun)

	if err := scanJSON(payloadJSON, &j.Payload); err != nil {
		return nil, err
	}

	return &j, nil
}

func (r *ScheduledJobRepository) Save(ctx context.Context, j *models.ScheduledJob) error {
	payload, err := jsonParam(j.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bpm_scheduled_jobs (id, company_id, name, process_id, trigger_id, cron, timezone, payload,
			last_run_at, next_run_at, is_active, created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			cron = EXCLUDED.cron,
			timezone = EXCLUDED.timezone,
			payload = EXCLUDED.payload,
			last_run_at = EXCLUDED.last_run_at,
			next_run_at = EXCLUDED.next_run_at,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`

	_, err = r.db.ExecContext(ctx, query,
		j.ID, j.CompanyID, j.Name, j.ProcessID, j.TriggerID, j.Cron, j.Timezone, payload,
		j.LastRunAt, j.NextRunAt, j.IsActive, j.CreatedAt, j.UpdatedAt, j.CreatedBy, j.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save scheduled job %s: %w", j.ID, err)
	}

	return nil
}

func (r *ScheduledJobRepository) ByID(ctx context.Context, id string) (*models.ScheduledJob, error) {
	return r.one(ctx, "ByID", `SELECT `+jobColumns+` FROM bpm_scheduled_jobs WHERE id = $1`, id)
}

func (r *ScheduledJobRepository) ByTrigger(ctx context.Context, triggerID string) (*models.ScheduledJob, error) {
	return r.one(ctx, "ByTrigger", `SELECT `+jobColumns+` FROM bpm_scheduled_jobs WHERE trigger_id = $1 LIMIT 1`, triggerID)
}

func (r *ScheduledJobRepository) one(ctx context.Context, op, query, id string) (*models.ScheduledJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError(op, "scheduled job", id, persistence.ErrScheduledJobNotFound)
		}

		return nil, fmt.Errorf("failed to scan scheduled job: %w", err)
	}

	return j, nil
}

func (r *ScheduledJobRepository) List(ctx context.Context, companyID string) ([]*models.ScheduledJob, error) {
	return queryAll(ctx, r.repository, scanJob,
		`SELECT `+jobColumns+` FROM bpm_scheduled_jobs WHERE ($1 = '' OR company_id = $1) ORDER BY name`, companyID)
}

func (r *ScheduledJobRepository) Candidates(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error) {
	return queryAll(ctx, r.repository, scanJob, `
		SELECT `+jobColumns+`
		FROM bpm_scheduled_jobs
		WHERE is_active AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY next_run_at NULLS FIRST
	`, now)
}

// Claim is the single atomic check that keeps concurrent runners from
// firing the same period twice.
func (r *ScheduledJobRepository) Claim(ctx context.Context, id string, expected *time.Time, lastRunAt *time.Time, nextRunAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bpm_scheduled_jobs
		SET last_run_at = COALESCE($2::timestamptz, last_run_at),
			next_run_at = $3,
			updated_at = NOW()
		WHERE id = $1 AND is_active AND next_run_at IS NOT DISTINCT FROM $4::timestamptz
	`, id, lastRunAt, nextRunAt, expected)
	if err != nil {
		return false, fmt.Errorf("failed to claim scheduled job %s: %w", id, err)
	}

	return rowsAffected(result)
}

func (r *ScheduledJobRepository) DeactivateByProcess(ctx context.Context, processID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bpm_scheduled_jobs SET is_active = false, updated_at = NOW() WHERE process_id = $1 AND is_active`, processID)
	if err != nil {
		return fmt.Errorf("failed to deactivate scheduled jobs of process %s: %w", processID, err)
	}

	return nil
}

func (r *ScheduledJobRepository) DeleteByProcess(ctx context.Context, processID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bpm_scheduled_jobs WHERE process_id = $1`, processID)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled jobs of process %s: %w", processID, err)
	}

	return nil
}
