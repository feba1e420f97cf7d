package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDefinition = errors.New("invalid process definition")
	ErrInvalidStepConfig = errors.New("invalid step configuration")
	ErrUnknownNextStep   = errors.New("step references an unknown step")
	ErrInvalidCron       = errors.New("invalid cron expression")
	ErrInvalidTimezone   = errors.New("invalid timezone")
	ErrInvalidCondition  = errors.New("invalid trigger condition")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError describes a configuration error on a single field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func newValidationError(err error, field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Err, e.Reason)
	}

	return fmt.Sprintf("%s: %s: %s", e.Err, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError

	return errors.As(err, &ve)
}
