// internal/notify/webhook.go
package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookConfig points the sink at one receiver.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// Webhook POSTs each event as JSON.
type Webhook struct {
	client *resty.Client
	cfg    WebhookConfig
	logger *zap.Logger
}

type webhookBody struct {
	Event     Event     `json:"event"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func NewWebhook(cfg WebhookConfig, logger *zap.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "swimdesk-notify/1.0")
	if cfg.Secret != "" {
		client.SetHeader("X-Swimdesk-Secret", cfg.Secret)
	}
	return &Webhook{client: client, cfg: cfg, logger: logger}
}

func (w *Webhook) Notify(ctx context.Context, event Event, payload Payload) {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookBody{Event: event, Payload: payload, Timestamp: time.Now().UTC()}).
		Post(w.cfg.URL)
	if err != nil {
		w.logger.Warn("Webhook delivery failed",
			zap.String("event", string(event)),
			zap.Error(err),
		)
		return
	}
	if resp.IsError() {
		w.logger.Warn("Webhook rejected notification",
			zap.String("event", string(event)),
			zap.Int("status", resp.StatusCode()),
		)
		return
	}
	w.logger.Debug("Webhook delivered", zap.String("event", string(event)))
}
