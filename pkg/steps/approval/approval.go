// Package approval implements the approval step: it opens an approval through
// the gate and parks the instance until a human responds.
package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/template"
)

type Handler struct {
	requester protocol.ApprovalRequester
}

func New(requester protocol.ApprovalRequester) *Handler {
	return &Handler{requester: requester}
}

func (*Handler) Type() models.StepType {
	return models.StepTypeApproval
}

func (h *Handler) Execute(ctx context.Context, req protocol.StepRequest) (protocol.StepResult, error) {
	cfg, ok := req.Step.Config.(*models.ApprovalConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("%w: step %s", models.ErrInvalidStepConfig, req.Step.ID))
	}

	approver, err := template.RenderString(cfg.Approver, req.Data())
	if err != nil {
		return protocol.StepResult{}, protocol.Permanent(err)
	}

	if approver == "" {
		return protocol.StepResult{}, protocol.Permanent(errors.New("approver rendered empty"))
	}

	approval, err := h.requester.RequestApproval(ctx, req.Execution, approver, cfg)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to request approval: %w", err)
	}

	return protocol.StepResult{
		Output: map[string]any{"approval_id": approval.ID, "approver": approver},
		Suspend: &models.Suspension{
			Kind:        models.SuspensionApproval,
			StepID:      req.Step.ID,
			ExecutionID: req.Execution.ID,
			ApprovalID:  approval.ID,
		},
	}, nil
}
