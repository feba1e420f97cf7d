// Package apiclient performs api_call step requests against registered API
// connections. Each connection gets its own circuit breaker.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/steps/apicall"
	"github.com/sony/gobreaker"
)

const DefaultTimeout = 30 * time.Second

// ErrCircuitOpen is returned while a connection's breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

type Config struct {
	// FailureThreshold consecutive failures open a connection's breaker.
	FailureThreshold uint32
	// OpenTimeout is how long an open breaker waits before probing again.
	OpenTimeout time.Duration
}

type Client struct {
	http     *http.Client
	config   Config
	logger   *slog.Logger
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func New(httpClient *http.Client, config Config, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}

	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}

	return &Client{
		http:     httpClient,
		config:   config,
		logger:   logger.With("module", "api_client"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Call sends req through its connection. Non-2xx replies are returned as
// *apicall.StatusError; only server errors count against the breaker.
func (c *Client) Call(ctx context.Context, req protocol.APIRequest) (*protocol.APIResponse, error) {
	if req.Connection == nil {
		return nil, errors.New("api request has no connection")
	}

	breaker := c.breaker(req.Connection.ID)

	var clientErr error

	result, err := breaker.Execute(func() (interface{}, error) {
		resp, err := c.do(ctx, req)

		var statusErr *apicall.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			clientErr = err

			return nil, nil
		}

		return resp, err
	})

	if clientErr != nil {
		return nil, clientErr
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: connection %s", ErrCircuitOpen, req.Connection.ID)
	}

	if err != nil {
		return nil, err
	}

	resp, _ := result.(*protocol.APIResponse)

	return resp, nil
}

func (c *Client) do(ctx context.Context, req protocol.APIRequest) (*protocol.APIResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = req.Connection.Timeout.Std()
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader

	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}

		body = bytes.NewReader(raw)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	url := strings.TrimRight(req.Connection.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range req.Connection.Headers {
		httpReq.Header.Set(key, value)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	decoded := decodeBody(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apicall.StatusError{StatusCode: resp.StatusCode, Body: decoded}
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return &protocol.APIResponse{StatusCode: resp.StatusCode, Headers: headers, Body: decoded}, nil
}

// decodeBody returns the JSON value of raw, or raw as a string when it is not JSON.
func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}

	return v
}

func (c *Client) breaker(connectionID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[connectionID]; ok {
		return cb
	}

	threshold := c.config.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        connectionID,
		MaxRequests: 1,
		Timeout:     c.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("Circuit breaker state changed", "connection_id", name, "from", from.String(), "to", to.String())
		},
	})
	c.breakers[connectionID] = cb

	return cb
}
