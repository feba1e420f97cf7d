// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	ErrProcessNotFound       = errors.New("process definition not found")
	ErrTriggerNotFound       = errors.New("trigger not found")
	ErrInstanceNotFound      = errors.New("process instance not found")
	ErrExecutionNotFound     = errors.New("step execution not found")
	ErrApprovalNotFound      = errors.New("approval not found")
	ErrScheduledJobNotFound  = errors.New("scheduled job not found")
	ErrStepTemplateNotFound  = errors.New("step template not found")
	ErrAPIConnectionNotFound = errors.New("api connection not found")

	// ErrStaleState indicates a conditional update lost against a concurrent writer.
	ErrStaleState = errors.New("stale state: row changed since it was read")

	// ErrActiveExecutionExists indicates a non-terminal execution already exists
	// for the same instance and step.
	ErrActiveExecutionExists = errors.New("a non-terminal execution already exists for this step")
)

// EntityError wraps a persistence error with the operation and entity it concerns.
type EntityError struct {
	Op     string // Operation being performed (e.g., "ByID", "Update")
	Entity string // Entity kind (e.g., "instance")
	ID     string // Entity ID if applicable
	Err    error  // Underlying error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for entity errors.
func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op, entity, id string, err error) *EntityError {
	return &EntityError{
		Op:     op,
		Entity: entity,
		ID:     id,
		Err:    err,
	}
}

// IsNotFound checks if an error is any of the not-found errors.
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrProcessNotFound,
		ErrTriggerNotFound,
		ErrInstanceNotFound,
		ErrExecutionNotFound,
		ErrApprovalNotFound,
		ErrScheduledJobNotFound,
		ErrStepTemplateNotFound,
		ErrAPIConnectionNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// IsStaleState checks if an error indicates a lost conditional update.
func IsStaleState(err error) bool {
	return errors.Is(err, ErrStaleState)
}
