package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/protocol"
)

var errNoDataStore = errors.New("no data store configured")

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", protocol.Permanent(fmt.Errorf("%w: %s is required", ErrInvalidParams, key))
	}

	return v, nil
}

func mapParam(params map[string]any, key string) (map[string]any, error) {
	v, ok := params[key].(map[string]any)
	if !ok {
		return nil, protocol.Permanent(fmt.Errorf("%w: %s must be an object", ErrInvalidParams, key))
	}

	return v, nil
}

func (h *Handler) target(params map[string]any, needID bool) (entity, id string, err error) {
	if h.store == nil {
		return "", "", protocol.Permanent(errNoDataStore)
	}

	entity, err = stringParam(params, "entity")
	if err != nil {
		return "", "", err
	}

	if needID {
		id, err = stringParam(params, "id")
		if err != nil {
			return "", "", err
		}
	}

	return entity, id, nil
}

func (h *Handler) recordGet(ctx context.Context, req protocol.StepRequest, params map[string]any) (map[string]any, error) {
	entity, id, err := h.target(params, true)
	if err != nil {
		return nil, err
	}

	record, err := h.store.Get(ctx, req.Instance.CompanyID, entity, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", entity, id, err)
	}

	return map[string]any{"record": record}, nil
}

func (h *Handler) recordCreate(ctx context.Context, req protocol.StepRequest, params map[string]any) (map[string]any, error) {
	entity, _, err := h.target(params, false)
	if err != nil {
		return nil, err
	}

	data, err := mapParam(params, "data")
	if err != nil {
		return nil, err
	}

	record, err := h.store.Create(ctx, req.Instance.CompanyID, entity, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", entity, err)
	}

	return map[string]any{"record": record, "record_id": record["id"]}, nil
}

func (h *Handler) recordUpdate(ctx context.Context, req protocol.StepRequest, params map[string]any) (map[string]any, error) {
	entity, id, err := h.target(params, true)
	if err != nil {
		return nil, err
	}

	data, err := mapParam(params, "data")
	if err != nil {
		return nil, err
	}

	record, err := h.store.Update(ctx, req.Instance.CompanyID, entity, id, data)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", entity, id, err)
	}

	return map[string]any{"record": record, "record_id": id}, nil
}

func (h *Handler) recordDelete(ctx context.Context, req protocol.StepRequest, params map[string]any) (map[string]any, error) {
	entity, id, err := h.target(params, true)
	if err != nil {
		return nil, err
	}

	if err := h.store.Delete(ctx, req.Instance.CompanyID, entity, id); err != nil {
		return nil, fmt.Errorf("failed to delete %s %s: %w", entity, id, err)
	}

	return map[string]any{"record_id": id, "deleted": true}, nil
}
