// Package apicall implements the api_call step over a registered API
// connection.
package apicall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/template"
)

var ErrConnectionInactive = errors.New("api connection is inactive")

// StatusError is returned by callers for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Retryable reports whether a retry may succeed: server errors, timeouts and
// rate limiting.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests
}

// ConnectionSource resolves connection ids.
type ConnectionSource interface {
	ByID(ctx context.Context, id string) (*models.APIConnection, error)
}

type Handler struct {
	connections ConnectionSource
	caller      protocol.APICaller
}

func New(connections ConnectionSource, caller protocol.APICaller) *Handler {
	return &Handler{connections: connections, caller: caller}
}

func (*Handler) Type() models.StepType {
	return models.StepTypeAPICall
}

func (h *Handler) Execute(ctx context.Context, req protocol.StepRequest) (protocol.StepResult, error) {
	cfg, ok := req.Step.Config.(*models.APICallConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("%w: step %s", models.ErrInvalidStepConfig, req.Step.ID))
	}

	conn, err := h.connections.ByID(ctx, cfg.ConnectionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return protocol.StepResult{}, protocol.Permanent(err)
		}

		return protocol.StepResult{}, fmt.Errorf("failed to load api connection: %w", err)
	}

	if !conn.IsActive {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("%w: %s", ErrConnectionInactive, conn.ID))
	}

	call, err := buildRequest(cfg, conn, req.Data())
	if err != nil {
		return protocol.StepResult{}, protocol.Permanent(err)
	}

	resp, err := h.caller.Call(ctx, call)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return protocol.StepResult{}, protocol.Permanent(err)
		}

		return protocol.StepResult{}, err
	}

	return protocol.StepResult{Output: map[string]any{
		"status_code": resp.StatusCode,
		"body":        resp.Body,
		"headers":     resp.Headers,
	}}, nil
}

func buildRequest(cfg *models.APICallConfig, conn *models.APIConnection, data map[string]any) (protocol.APIRequest, error) {
	path, err := template.RenderString(cfg.Path, data)
	if err != nil {
		return protocol.APIRequest{}, fmt.Errorf("failed to render path: %w", err)
	}

	headers := make(map[string]string, len(cfg.Headers))

	for k, v := range cfg.Headers {
		rendered, err := template.RenderString(v, data)
		if err != nil {
			return protocol.APIRequest{}, fmt.Errorf("failed to render header %s: %w", k, err)
		}

		headers[k] = rendered
	}

	var body any

	if cfg.Body != "" {
		body, err = template.Render(cfg.Body, data)
		if err != nil {
			return protocol.APIRequest{}, fmt.Errorf("failed to render body: %w", err)
		}
	}

	timeout := cfg.Timeout.Std()
	if timeout == 0 {
		timeout = conn.Timeout.Std()
	}

	return protocol.APIRequest{
		Connection: conn,
		Method:     strings.ToUpper(cfg.Method),
		Path:       path,
		Headers:    headers,
		Body:       body,
		Timeout:    timeout,
	}, nil
}
