// Package persistence provides the storage abstraction for process definitions,
// triggers, instances, step executions, approvals, scheduled jobs, step
// templates and API connections.
//
// Every state mutation of instances, executions, approvals and scheduled jobs
// is a single-row conditional update: it applies only if the stored row still
// matches what the caller read, and reports ErrStaleState otherwise.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

type Persistence interface {
	ProcessRepository() ProcessRepository
	TriggerRepository() TriggerRepository
	InstanceRepository() InstanceRepository
	StepExecutionRepository() StepExecutionRepository
	ApprovalRepository() ApprovalRepository
	ScheduledJobRepository() ScheduledJobRepository
	StepTemplateRepository() StepTemplateRepository
	APIConnectionRepository() APIConnectionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListProcessesOptions filters process definition listings.
type ListProcessesOptions struct {
	CompanyID  string
	Status     *models.ProcessStatus
	IsTemplate *bool
}

// ProcessRepository stores process definitions.
type ProcessRepository interface {
	// Save inserts or replaces a definition.
	Save(ctx context.Context, process *models.ProcessDefinition) error
	ByID(ctx context.Context, id string) (*models.ProcessDefinition, error)
	List(ctx context.Context, opts ListProcessesOptions) ([]*models.ProcessDefinition, error)
	// Delete removes a definition together with its triggers.
	Delete(ctx context.Context, id string) error
}

// TriggerRepository stores triggers.
type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.Trigger) error
	ByID(ctx context.Context, id string) (*models.Trigger, error)
	ByProcess(ctx context.Context, processID string) ([]*models.Trigger, error)
	// Active returns the active triggers of a type within a company.
	Active(ctx context.Context, companyID string, triggerType models.TriggerType) ([]*models.Trigger, error)
}

// ListInstancesOptions filters instance listings.
type ListInstancesOptions struct {
	CompanyID string
	ProcessID string
	Status    *models.InstanceStatus
}

// InstanceRepository stores process instances.
type InstanceRepository interface {
	Create(ctx context.Context, instance *models.ProcessInstance) error
	ByID(ctx context.Context, id string) (*models.ProcessInstance, error)
	// Update writes instance only if the stored row has status expected and
	// the same Revision as instance. On success instance.Revision is advanced.
	Update(ctx context.Context, instance *models.ProcessInstance, expected models.InstanceStatus) error
	List(ctx context.Context, opts ListInstancesOptions) ([]*models.ProcessInstance, error)
	CountByProcess(ctx context.Context, processID string) (int, error)
	// DueSuspensions returns running instances parked on a delay or retry
	// whose resume time is at or before now.
	DueSuspensions(ctx context.Context, now time.Time) ([]*models.ProcessInstance, error)
}

// StepExecutionRepository stores the append-only step attempt history.
type StepExecutionRepository interface {
	// Create inserts a new attempt. It fails with ErrActiveExecutionExists
	// while another attempt of the same step in the same instance is not terminal.
	Create(ctx context.Context, execution *models.StepExecution) error
	ByID(ctx context.Context, id string) (*models.StepExecution, error)
	// Update writes execution only if the stored row has status expected.
	Update(ctx context.Context, execution *models.StepExecution, expected models.StepExecutionStatus) error
	// ByInstance returns the history of an instance in execution order.
	ByInstance(ctx context.Context, instanceID string) ([]*models.StepExecution, error)
}

// ApprovalRepository stores approvals.
type ApprovalRepository interface {
	Create(ctx context.Context, approval *models.Approval) error
	ByID(ctx context.Context, id string) (*models.Approval, error)
	ByExecution(ctx context.Context, executionID string) (*models.Approval, error)
	ByInstance(ctx context.Context, instanceID string) ([]*models.Approval, error)
	Pending(ctx context.Context, companyID string) ([]*models.Approval, error)
	// Resolve records a decision only if the approval is still pending.
	Resolve(ctx context.Context, id string, status models.ApprovalStatus, comments, respondedBy string, at time.Time) error
	// AppendReminder appends at to RemindersSent only if exactly sentCount
	// reminders were recorded so far and the approval is still pending.
	AppendReminder(ctx context.Context, id string, sentCount int, at time.Time) error
}

// ScheduledJobRepository stores scheduled jobs.
type ScheduledJobRepository interface {
	Save(ctx context.Context, job *models.ScheduledJob) error
	ByID(ctx context.Context, id string) (*models.ScheduledJob, error)
	ByTrigger(ctx context.Context, triggerID string) (*models.ScheduledJob, error)
	List(ctx context.Context, companyID string) ([]*models.ScheduledJob, error)
	// Candidates returns active jobs that are due at now or were never
	// scheduled (NextRunAt is nil).
	Candidates(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error)
	// Claim advances a job in one atomic step: it sets LastRunAt and
	// NextRunAt only if the job is active and its NextRunAt still equals
	// expected (nil meaning never scheduled). It reports whether the claim won.
	Claim(ctx context.Context, id string, expected *time.Time, lastRunAt *time.Time, nextRunAt time.Time) (bool, error)
	// DeactivateByProcess marks every job of a process inactive.
	DeactivateByProcess(ctx context.Context, processID string) error
	DeleteByProcess(ctx context.Context, processID string) error
}

// StepTemplateRepository stores step templates.
type StepTemplateRepository interface {
	Save(ctx context.Context, template *models.StepTemplate) error
	ByID(ctx context.Context, id string) (*models.StepTemplate, error)
	// List returns the company's templates plus the global ones.
	List(ctx context.Context, companyID string) ([]*models.StepTemplate, error)
}

// APIConnectionRepository stores API connections.
type APIConnectionRepository interface {
	Save(ctx context.Context, connection *models.APIConnection) error
	ByID(ctx context.Context, id string) (*models.APIConnection, error)
	List(ctx context.Context, companyID string) ([]*models.APIConnection, error)
}
