// Package notify delivers notifications produced by notification steps and
// the approval gate.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/procflow/pkg/protocol"
)

// Log writes every notification to the logger. It is the default when no
// delivery endpoint is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("module", "notifier")}
}

func (l *Log) Notify(ctx context.Context, n protocol.Notification) error {
	l.logger.InfoContext(ctx, "Notification",
		"company_id", n.CompanyID,
		"instance_id", n.InstanceID,
		"channel", n.Channel,
		"to", n.To,
		"subject", n.Subject,
		"body", n.Body,
	)

	return nil
}

// Webhook posts notifications as JSON to a delivery service.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

// Notify succeeds when the delivery service accepts the message with a 2xx.
func (w *Webhook) Notify(ctx context.Context, n protocol.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}

	return nil
}

// Router sends each notification to the notifier registered for its
// channel, or to the fallback.
type Router struct {
	channels map[string]protocol.Notifier
	fallback protocol.Notifier
}

func NewRouter(fallback protocol.Notifier) *Router {
	return &Router{channels: make(map[string]protocol.Notifier), fallback: fallback}
}

func (r *Router) Route(channel string, n protocol.Notifier) {
	r.channels[channel] = n
}

func (r *Router) Notify(ctx context.Context, n protocol.Notification) error {
	if target, ok := r.channels[n.Channel]; ok {
		return target.Notify(ctx, n)
	}

	if r.fallback == nil {
		return fmt.Errorf("no notifier for channel %q", n.Channel)
	}

	return r.fallback.Notify(ctx, n)
}
