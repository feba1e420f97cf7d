// Package document implements the document_generation step.
package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/template"
)

const DefaultFormat = "txt"

var errNoRenderer = errors.New("no document renderer configured")

type Handler struct {
	renderer protocol.DocumentRenderer
}

func New(renderer protocol.DocumentRenderer) *Handler {
	return &Handler{renderer: renderer}
}

func (*Handler) Type() models.StepType {
	return models.StepTypeDocument
}

func (h *Handler) Execute(ctx context.Context, req protocol.StepRequest) (protocol.StepResult, error) {
	cfg, ok := req.Step.Config.(*models.DocumentConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("%w: step %s", models.ErrInvalidStepConfig, req.Step.ID))
	}

	if h.renderer == nil {
		return protocol.StepResult{}, protocol.Permanent(errNoRenderer)
	}

	data := req.Data()

	name, err := template.RenderString(cfg.Name, data)
	if err != nil {
		return protocol.StepResult{}, protocol.Permanent(err)
	}

	format := cfg.Format
	if format == "" {
		format = DefaultFormat
	}

	doc, err := h.renderer.Render(ctx, protocol.DocumentRequest{
		CompanyID:  req.Instance.CompanyID,
		InstanceID: req.Instance.ID,
		Template:   cfg.Template,
		Format:     format,
		Name:       name,
		Data:       data,
	})
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to generate document: %w", err)
	}

	return protocol.StepResult{Output: map[string]any{
		"document_id":   doc.ID,
		"document_name": doc.Name,
		"document_uri":  doc.URI,
		"format":        doc.Format,
		"size":          doc.Size,
	}}, nil
}
