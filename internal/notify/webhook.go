package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"FleetAlertEngine/internal/models"
)

// WebhookConfig is the per-channel settings blob for type "webhook".
type WebhookConfig struct {
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers,omitempty"`
	BasicAuthUser string            `json:"basic_auth_user,omitempty"`
	BasicAuthPass string            `json:"basic_auth_pass,omitempty"`
}

type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender(client *http.Client) *WebhookSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSender{client: client}
}

func (s *WebhookSender) Type() string { return models.ChannelWebhook }

// webhookPayload is the structured body POSTed to the configured URL.
type webhookPayload struct {
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	Event   models.AlertEvent `json:"event"`
}

func (s *WebhookSender) Send(ctx context.Context, config json.RawMessage, msg Message) error {
	var cfg WebhookConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return &DeliveryError{Channel: s.Type(), Kind: FailureValidation, Err: err}
	}
	if cfg.URL == "" {
		return &DeliveryError{Channel: s.Type(), Kind: FailureValidation, Err: fmt.Errorf("webhook channel requires url")}
	}

	payload, err := json.Marshal(webhookPayload{Subject: msg.Subject, Body: msg.Body, Event: msg.Event})
	if err != nil {
		return &DeliveryError{Channel: s.Type(), Kind: FailureValidation, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Channel: s.Type(), Kind: FailureValidation, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		req.SetBasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: s.Type(), Kind: FailureTransport, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{
			Channel:    s.Type(),
			Kind:       FailureTransport,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("webhook returned %d", resp.StatusCode),
		}
	}
	return nil
}
