// Package protocol defines the contracts between the engine and pluggable step
// handlers and the external collaborators they call.
package protocol

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

// StepHandler executes one step type. Handlers are registered by type and must
// not mutate the instance they receive.
type StepHandler interface {
	Type() models.StepType
	Execute(ctx context.Context, req StepRequest) (StepResult, error)
}

// StepRequest carries everything a handler may read while executing a step.
type StepRequest struct {
	Instance  *models.ProcessInstance
	Step      models.Step
	Execution *models.StepExecution
	Logger    *slog.Logger
	Now       time.Time
}

// Data is the template and expression scope for the step: the instance context
// plus an "instance" entry describing the instance itself.
func (r StepRequest) Data() map[string]any {
	data := make(map[string]any, len(r.Instance.ContextData)+2)
	for k, v := range r.Instance.ContextData {
		data[k] = v
	}

	data["instance"] = map[string]any{
		"id":         r.Instance.ID,
		"process_id": r.Instance.ProcessID,
		"company_id": r.Instance.CompanyID,
		"step_id":    r.Step.ID,
		"attempt":    r.Execution.Attempt,
	}
	data["now"] = r.Now.UTC().Format(time.RFC3339)

	return data
}

// StepResult is the outcome of a successful handler call. A non-nil Suspend
// parks the instance; otherwise the step completes with Output and Next
// overrides the next step.
type StepResult struct {
	Output  map[string]any
	Next    string
	Suspend *models.Suspension

	// Spawned lists child instances created by the step that the engine must
	// run once the parent is persisted.
	Spawned []string
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the executor fails the step without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var permanent *PermanentError

	return errors.As(err, &permanent)
}
