// Package notification implements the notification step.
package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/template"
)

const DefaultChannel = "email"

var errNoNotifier = errors.New("no notifier configured")

type Handler struct {
	notifier protocol.Notifier
}

func New(notifier protocol.Notifier) *Handler {
	return &Handler{notifier: notifier}
}

func (*Handler) Type() models.StepType {
	return models.StepTypeNotification
}

// Execute renders the message and sends it. The outcome reflects the send
// only, never a delivery receipt.
func (h *Handler) Execute(ctx context.Context, req protocol.StepRequest) (protocol.StepResult, error) {
	cfg, ok := req.Step.Config.(*models.NotificationConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("%w: step %s", models.ErrInvalidStepConfig, req.Step.ID))
	}

	if h.notifier == nil {
		return protocol.StepResult{}, protocol.Permanent(errNoNotifier)
	}

	data := req.Data()
	n := protocol.Notification{
		CompanyID:  req.Instance.CompanyID,
		InstanceID: req.Instance.ID,
		Channel:    cfg.Channel,
	}

	if n.Channel == "" {
		n.Channel = DefaultChannel
	}

	for _, field := range []struct {
		src string
		dst *string
	}{{cfg.To, &n.To}, {cfg.Subject, &n.Subject}, {cfg.Body, &n.Body}} {
		rendered, err := template.RenderString(field.src, data)
		if err != nil {
			return protocol.StepResult{}, protocol.Permanent(err)
		}

		*field.dst = rendered
	}

	if n.To == "" {
		return protocol.StepResult{}, protocol.Permanent(errors.New("recipient rendered empty"))
	}

	if err := h.notifier.Notify(ctx, n); err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to send notification: %w", err)
	}

	return protocol.StepResult{Output: map[string]any{
		"channel": n.Channel,
		"to":      n.To,
		"sent":    true,
	}}, nil
}
