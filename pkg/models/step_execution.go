package models

import "time"

// StepExecutionStatus is the state of one step attempt.
type StepExecutionStatus string

const (
	StepExecutionPending   StepExecutionStatus = "pending"
	StepExecutionRunning   StepExecutionStatus = "running"
	StepExecutionCompleted StepExecutionStatus = "completed"
	StepExecutionFailed    StepExecutionStatus = "failed"
	StepExecutionSkipped   StepExecutionStatus = "skipped"
)

func (s StepExecutionStatus) IsTerminal() bool {
	switch s {
	case StepExecutionCompleted, StepExecutionFailed, StepExecutionSkipped:
		return true
	}

	return false
}

// StepExecution records one attempt of one step within an instance.
// Rows are append-only history: a retry is a new row.
type StepExecution struct {
	ID          string              `json:"id"`
	InstanceID  string              `json:"instance_id"`
	StepID      string              `json:"step_id"`
	StepType    StepType            `json:"step_type"`
	Attempt     int                 `json:"attempt"`
	Status      StepExecutionStatus `json:"status"`
	InputData   map[string]any      `json:"input_data,omitempty"`
	OutputData  map[string]any      `json:"output_data,omitempty"`
	ErrorData   map[string]any      `json:"error_data,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	CompanyID   string              `json:"company_id"`
}

// Finish moves the execution to a terminal status.
func (e *StepExecution) Finish(status StepExecutionStatus, output, errorData map[string]any, now time.Time) {
	e.Status = status
	e.OutputData = output
	e.ErrorData = errorData
	completed := now
	e.CompletedAt = &completed
}
