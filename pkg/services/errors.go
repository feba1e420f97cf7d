// Package services implements the management operations behind the HTTP API:
// process definitions, triggers, scheduled jobs, the step template and API
// connection catalog, and instance queries.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/approval"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/trigger"
	"github.com/dukex/procflow/pkg/workflow"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotTemplate    = errors.New("process definition is not a template")

	// Business Logic Conflicts (409 Conflict).
	ErrCannotModifyArchived = errors.New("cannot modify archived process definition")
	ErrProcessInUse         = errors.New("process definition has instances")
	ErrNotDraft             = errors.New("only draft process definitions can be deleted")
	ErrInvalidStatusChange  = errors.New("invalid process status change")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return models.IsValidationError(err) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNotTemplate) ||
		errors.Is(err, trigger.ErrInvalidPayload) ||
		errors.Is(err, trigger.ErrWrongTriggerType) ||
		errors.Is(err, approval.ErrInvalidDecision) ||
		errors.Is(err, models.ErrInvalidDefinition) ||
		errors.Is(err, models.ErrInvalidStepConfig) ||
		errors.Is(err, models.ErrInvalidCondition)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyArchived) ||
		errors.Is(err, ErrProcessInUse) ||
		errors.Is(err, ErrNotDraft) ||
		errors.Is(err, ErrInvalidStatusChange) ||
		errors.Is(err, workflow.ErrProcessNotActive) ||
		errors.Is(err, workflow.ErrNotWaitingApproval) ||
		errors.Is(err, approval.ErrAlreadyResolved) ||
		errors.Is(err, models.ErrInvalidTransition) ||
		errors.Is(err, persistence.ErrStaleState)
}

// IsNotFound checks if an error means the addressed entity does not exist for the caller.
func IsNotFound(err error) bool {
	return persistence.IsNotFound(err)
}

// IsUnauthorized checks if an error is a rejected webhook signature.
func IsUnauthorized(err error) bool {
	return errors.Is(err, trigger.ErrInvalidSignature)
}

func notFound(entity error, id string) error {
	return fmt.Errorf("%w: %s", entity, id)
}

// owned reports whether an entity scoped to owner is visible to companyID.
func owned(companyID string, owner models.Audit) bool {
	return owner.CompanyID == companyID
}
