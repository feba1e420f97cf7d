// Package action implements the action step: a named operation invoked with
// templated parameters.
package action

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/template"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidParams    = errors.New("invalid operation params")
)

// Operation runs one named action with already rendered params.
type Operation func(ctx context.Context, req protocol.StepRequest, params map[string]any) (map[string]any, error)

// Handler dispatches action steps to registered operations.
type Handler struct {
	store      protocol.DataStore
	operations map[string]Operation
}

// New creates a handler with the built-in operations. store may be nil, in
// which case the record.* operations fail permanently.
func New(store protocol.DataStore) *Handler {
	h := &Handler{store: store, operations: map[string]Operation{}}

	h.Register("context.set", contextSet)
	h.Register("log", logMessage)
	h.Register("record.get", h.recordGet)
	h.Register("record.create", h.recordCreate)
	h.Register("record.update", h.recordUpdate)
	h.Register("record.delete", h.recordDelete)

	return h
}

func (h *Handler) Register(name string, op Operation) {
	h.operations[name] = op
}

// Operations returns the registered operation names, sorted.
func (h *Handler) Operations() []string {
	return slices.Sorted(maps.Keys(h.operations))
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeAction
}

func (h *Handler) Execute(ctx context.Context, req protocol.StepRequest) (protocol.StepResult, error) {
	cfg, ok := req.Step.Config.(*models.ActionConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("%w: step %s", models.ErrInvalidStepConfig, req.Step.ID))
	}

	op, ok := h.operations[cfg.Operation]
	if !ok {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("%w: %s", ErrUnknownOperation, cfg.Operation))
	}

	params, err := template.RenderMap(cfg.Params, req.Data())
	if err != nil {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("failed to render params: %w", err))
	}

	output, err := op(ctx, req, params)
	if err != nil {
		return protocol.StepResult{}, err
	}

	return protocol.StepResult{Output: output}, nil
}

func contextSet(_ context.Context, _ protocol.StepRequest, params map[string]any) (map[string]any, error) {
	return params, nil
}

func logMessage(ctx context.Context, req protocol.StepRequest, params map[string]any) (map[string]any, error) {
	message := fmt.Sprint(params["message"])
	level, _ := params["level"].(string)

	logger := req.Logger.With("step_id", req.Step.ID, "operation", "log")

	switch level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		level = "info"
		logger.InfoContext(ctx, message)
	}

	return map[string]any{"message": message, "level": level, "logged": true}, nil
}
