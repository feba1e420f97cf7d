// Package subprocess implements the subprocess step, which starts a child
// instance and either waits for it or lets it run on its own.
package subprocess

import (
	"context"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/template"
)

type Handler struct {
	starter protocol.ChildStarter
}

func New(starter protocol.ChildStarter) *Handler {
	return &Handler{starter: starter}
}

func (*Handler) Type() models.StepType {
	return models.StepTypeSubprocess
}

func (h *Handler) Execute(ctx context.Context, req protocol.StepRequest) (protocol.StepResult, error) {
	cfg, ok := req.Step.Config.(*models.SubprocessConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("%w: step %s", models.ErrInvalidStepConfig, req.Step.ID))
	}

	input, err := template.RenderMap(cfg.Input, req.Data())
	if err != nil {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("failed to render input: %w", err))
	}

	child, err := h.starter.StartChild(ctx, req.Instance, req.Execution, cfg, input)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to start subprocess %s: %w", cfg.ProcessID, err)
	}

	result := protocol.StepResult{
		Output:  map[string]any{"child_instance_id": child.ID},
		Spawned: []string{child.ID},
	}

	if cfg.Wait {
		result.Suspend = &models.Suspension{
			Kind:            models.SuspensionSubprocess,
			StepID:          req.Step.ID,
			ExecutionID:     req.Execution.ID,
			ChildInstanceID: child.ID,
		}
	}

	return result, nil
}
