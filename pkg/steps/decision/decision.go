// Package decision implements the decision step, which selects the next step
// from ordered predicates over the instance context.
package decision

import (
	"context"
	"fmt"

	"github.com/dukex/procflow/pkg/expression"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
)

type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (*Handler) Type() models.StepType {
	return models.StepTypeDecision
}

// Execute picks the first branch whose predicate holds, or the default.
func (*Handler) Execute(_ context.Context, req protocol.StepRequest) (protocol.StepResult, error) {
	cfg, ok := req.Step.Config.(*models.DecisionConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("%w: step %s", models.ErrInvalidStepConfig, req.Step.ID))
	}

	data := req.Data()

	for i, branch := range cfg.Branches {
		matched, err := expression.EvalBool(branch.When, data)
		if err != nil {
			return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("branch %d: %w", i, err))
		}

		if matched {
			return protocol.StepResult{
				Output: map[string]any{"branch": i, "next": branch.Next},
				Next:   branch.Next,
			}, nil
		}
	}

	return protocol.StepResult{
		Output: map[string]any{"branch": "default", "next": cfg.Default},
		Next:   cfg.Default,
	}, nil
}
