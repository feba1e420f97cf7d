// Package delay implements the delay step. It never waits in process: the
// instance is parked with a resume time and picked up by the scheduler tick.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/template"
)

type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (*Handler) Type() models.StepType {
	return models.StepTypeDelay
}

func (*Handler) Execute(_ context.Context, req protocol.StepRequest) (protocol.StepResult, error) {
	cfg, ok := req.Step.Config.(*models.DelayConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("%w: step %s", models.ErrInvalidStepConfig, req.Step.ID))
	}

	resumeAt, err := resumeTime(cfg, req)
	if err != nil {
		return protocol.StepResult{}, protocol.Permanent(err)
	}

	if !resumeAt.After(req.Now) {
		return protocol.StepResult{Output: map[string]any{"delayed_until": resumeAt.Format(time.RFC3339)}}, nil
	}

	return protocol.StepResult{
		Output: map[string]any{"delayed_until": resumeAt.Format(time.RFC3339)},
		Suspend: &models.Suspension{
			Kind:        models.SuspensionDelay,
			StepID:      req.Step.ID,
			ExecutionID: req.Execution.ID,
			ResumeAt:    &resumeAt,
		},
	}, nil
}

func resumeTime(cfg *models.DelayConfig, req protocol.StepRequest) (time.Time, error) {
	if cfg.Duration > 0 {
		return req.Now.Add(cfg.Duration.Std()).UTC(), nil
	}

	rendered, err := template.RenderString(cfg.Until, req.Data())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to render until: %w", err)
	}

	until, err := time.Parse(time.RFC3339, rendered)
	if err != nil {
		return time.Time{}, fmt.Errorf("until %q is not an RFC 3339 timestamp: %w", rendered, err)
	}

	return until.UTC(), nil
}
