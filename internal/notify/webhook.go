package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookConfig describes an HTTP endpoint that accepts rendered messages as JSON.
type WebhookConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// WebhookSender posts messages to an HTTP endpoint. Any non-2xx reply is a delivery failure.
type WebhookSender struct {
	client *resty.Client
	url    string
}

func NewWebhookSender(cfg WebhookConfig) (*WebhookSender, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify: webhook url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &WebhookSender{client: client, url: cfg.URL}, nil
}

func (s *WebhookSender) Send(ctx context.Context, message Message) error {
	if err := message.Validate(); err != nil {
		return err
	}
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(message).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("notify: webhook request: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("notify: webhook rejected message: status %d", res.StatusCode())
	}
	return nil
}
