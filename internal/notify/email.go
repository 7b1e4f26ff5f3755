package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"FleetAlertEngine/internal/models"

	"gopkg.in/gomail.v2"
)

// EmailConfig is the per-channel settings blob for type "email".
type EmailConfig struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

type EmailSender struct{}

func NewEmailSender() *EmailSender {
	return &EmailSender{}
}

func (s *EmailSender) Type() string { return models.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, config json.RawMessage, msg Message) error {
	var cfg EmailConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return &DeliveryError{Channel: s.Type(), Kind: FailureValidation, Err: err}
	}
	if err := cfg.validate(); err != nil {
		return &DeliveryError{Channel: s.Type(), Kind: FailureValidation, Err: err}
	}

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.From)
	m.SetHeader("To", cfg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	// gomail has no context support; run the dial-and-send in a goroutine so
	// the dispatcher's send timeout still applies.
	done := make(chan error, 1)
	go func() {
		done <- d.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return &DeliveryError{Channel: s.Type(), Kind: FailureTransport, Err: ctx.Err()}
	case err := <-done:
		if err == nil {
			return nil
		}
		kind := FailureTransport
		if isAuthFailure(err) {
			kind = FailureAuthentication
		}
		return &DeliveryError{Channel: s.Type(), Kind: kind, Err: err}
	}
}

func (c *EmailConfig) validate() error {
	if c.Host == "" || c.Port == 0 {
		return fmt.Errorf("email channel requires host and port")
	}
	if c.From == "" {
		return fmt.Errorf("email channel requires a from address")
	}
	if len(c.To) == 0 {
		return fmt.Errorf("email channel requires at least one recipient")
	}
	for _, to := range c.To {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("malformed recipient %q", to)
		}
	}
	return nil
}

func isAuthFailure(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "535") || strings.Contains(s, "auth")
}
