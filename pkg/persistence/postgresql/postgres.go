// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	processes   *ProcessRepository
	triggers    *TriggerRepository
	instances   *InstanceRepository
	executions  *StepExecutionRepository
	approvals   *ApprovalRepository
	jobs        *ScheduledJobRepository
	templates   *StepTemplateRepository
	connections *APIConnectionRepository
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence creates a new PostgreSQL persistence layer and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	base := repository{db: database, logger: logger}

	return &Persistence{
		db:          database,
		logger:      logger,
		processes:   &ProcessRepository{base},
		triggers:    &TriggerRepository{base},
		instances:   &InstanceRepository{base},
		executions:  &StepExecutionRepository{base},
		approvals:   &ApprovalRepository{base},
		jobs:        &ScheduledJobRepository{base},
		templates:   &StepTemplateRepository{base},
		connections: &APIConnectionRepository{base},
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) ProcessRepository() persistence.ProcessRepository { return p.processes }

func (p *Persistence) TriggerRepository() persistence.TriggerRepository { return p.triggers }

func (p *Persistence) InstanceRepository() persistence.InstanceRepository { return p.instances }

func (p *Persistence) StepExecutionRepository() persistence.StepExecutionRepository {
	return p.executions
}

func (p *Persistence) ApprovalRepository() persistence.ApprovalRepository { return p.approvals }

func (p *Persistence) ScheduledJobRepository() persistence.ScheduledJobRepository { return p.jobs }

func (p *Persistence) StepTemplateRepository() persistence.StepTemplateRepository {
	return p.templates
}

func (p *Persistence) APIConnectionRepository() persistence.APIConnectionRepository {
	return p.connections
}
