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

// SlackConfig is the per-channel settings blob for type "slack".
type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel,omitempty"`
	Username   string `json:"username,omitempty"`
}

type SlackSender struct {
	client *http.Client
}

func NewSlackSender(client *http.Client) *SlackSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &SlackSender{client: client}
}

func (s *SlackSender) Type() string { return models.ChannelSlack }

type slackPayload struct {
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
}

func (s *SlackSender) Send(ctx context.Context, config json.RawMessage, msg Message) error {
	var cfg SlackConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return &DeliveryError{Channel: s.Type(), Kind: FailureValidation, Err: err}
	}
	if cfg.WebhookURL == "" {
		return &DeliveryError{Channel: s.Type(), Kind: FailureValidation, Err: fmt.Errorf("slack channel requires webhook_url")}
	}

	payload, err := json.Marshal(slackPayload{
		Text:     fmt.Sprintf("*%s*\n%s", msg.Subject, msg.Body),
		Channel:  cfg.Channel,
		Username: cfg.Username,
	})
	if err != nil {
		return &DeliveryError{Channel: s.Type(), Kind: FailureValidation, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Channel: s.Type(), Kind: FailureValidation, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

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
			Err:        fmt.Errorf("slack webhook returned %d", resp.StatusCode),
		}
	}
	return nil
}
