package workflow

import (
	"errors"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/registry"
)

var (
	ErrProcessNotActive   = errors.New("process definition is not active")
	ErrNotWaitingApproval = errors.New("instance is not waiting on this approval")
	ErrStepLimitExceeded  = errors.New("instance exceeded the step limit of a single run")

	// ErrInvalidTransition is returned for rejected status edges.
	ErrInvalidTransition = models.ErrInvalidTransition

	// ErrNoHandler is recorded as the step error when no handler serves a step type.
	ErrNoHandler = registry.ErrNoHandler
)

// errorData converts a step or instance failure into its stored form.
func errorData(err error, extra map[string]any) map[string]any {
	data := map[string]any{"message": err.Error()}
	for k, v := range extra {
		data[k] = v
	}

	return data
}
