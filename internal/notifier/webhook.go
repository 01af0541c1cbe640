package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cinderlog/cinder/internal/models"
)

// WebhookConfig holds webhook notifier configuration.
type WebhookConfig struct {
	// URL receives POSTed alert payloads.
	URL string

	// Timeout bounds each delivery attempt (default: 10s).
	Timeout time.Duration
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("webhook URL must start with http:// or https://")
	}
	return nil
}

// WebhookNotifier POSTs alerts to an HTTP endpoint as JSON.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &WebhookNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// webhookPayload is the JSON body POSTed for each alert.
type webhookPayload struct {
	Event  string        `json:"event"`
	Alert  *models.Alert `json:"alert"`
	SentAt time.Time     `json:"sent_at"`
}

// Send POSTs the alert to the configured endpoint. Any status outside
// the 2xx range is an error.
func (w *WebhookNotifier) Send(ctx context.Context, alert *models.Alert) error {
	payload := webhookPayload{
		Event:  "alert.triggered",
		Alert:  alert,
		SentAt: time.Now().UTC(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close is a no-op for the webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}
