package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"FleetAlertEngine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() Message {
	return Message{
		Subject: "[CRITICAL] engine temp high",
		Body:    "temperature gt 90 (observed 95)",
		Event: models.AlertEvent{
			ID:          "ev-1",
			TenantID:    "t-1",
			AlertRuleID: "r-1",
			DeviceID:    "d-1",
			MetricName:  "temperature",
			MetricValue: 95,
			Severity:    models.SeverityCritical,
			FiredAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewSlackSender(nil))

	s, err := r.For(models.ChannelSlack)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelSlack, s.Type())

	_, err = r.For("carrier-pigeon")
	require.Error(t, err)
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, FailureValidation, de.Kind)
}

func TestSlackSenderPostsFormattedText(t *testing.T) {
	var received slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackSender(srv.Client())
	config := json.RawMessage(fmt.Sprintf(`{"webhook_url": %q, "channel": "#alerts"}`, srv.URL))

	require.NoError(t, s.Send(context.Background(), config, testMessage()))
	assert.Equal(t, "*[CRITICAL] engine temp high*\ntemperature gt 90 (observed 95)", received.Text)
	assert.Equal(t, "#alerts", received.Channel)
}

func TestSlackSenderNon2xxIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewSlackSender(srv.Client())
	config := json.RawMessage(fmt.Sprintf(`{"webhook_url": %q}`, srv.URL))

	err := s.Send(context.Background(), config, testMessage())
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, FailureTransport, de.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, de.StatusCode)
}

func TestSlackSenderMissingURLIsValidationFailure(t *testing.T) {
	s := NewSlackSender(nil)
	err := s.Send(context.Background(), json.RawMessage(`{}`), testMessage())

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, FailureValidation, de.Kind)
}

func TestWebhookSenderPostsStructuredPayload(t *testing.T) {
	var received webhookPayload
	var gotAuthUser string
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthUser, _, _ = r.BasicAuth()
		gotHeader = r.Header.Get("X-Origin")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.Client())
	config := json.RawMessage(fmt.Sprintf(`{
		"url": %q,
		"headers": {"X-Origin": "fleet-alert"},
		"basic_auth_user": "svc",
		"basic_auth_pass": "secret"
	}`, srv.URL))

	require.NoError(t, s.Send(context.Background(), config, testMessage()))
	assert.Equal(t, "svc", gotAuthUser)
	assert.Equal(t, "fleet-alert", gotHeader)
	assert.Equal(t, "[CRITICAL] engine temp high", received.Subject)
	assert.Equal(t, "ev-1", received.Event.ID)
	assert.Equal(t, 95.0, received.Event.MetricValue)
}

func TestWebhookSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.Client())
	config := json.RawMessage(fmt.Sprintf(`{"url": %q}`, srv.URL))

	err := s.Send(context.Background(), config, testMessage())
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, FailureTransport, de.Kind)
	assert.Equal(t, http.StatusBadRequest, de.StatusCode)
}

func TestEmailConfigValidation(t *testing.T) {
	s := NewEmailSender()

	cases := []struct {
		name   string
		config string
	}{
		{"missing host", `{"port": 587, "from": "a@b.com", "to": ["c@d.com"]}`},
		{"missing from", `{"host": "smtp.example.com", "port": 587, "to": ["c@d.com"]}`},
		{"no recipients", `{"host": "smtp.example.com", "port": 587, "from": "a@b.com"}`},
		{"malformed recipient", `{"host": "smtp.example.com", "port": 587, "from": "a@b.com", "to": ["nope"]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Send(context.Background(), json.RawMessage(tc.config), testMessage())
			var de *DeliveryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, FailureValidation, de.Kind)
		})
	}
}

func TestEmailAuthFailureClassification(t *testing.T) {
	assert.True(t, isAuthFailure(fmt.Errorf("535 5.7.8 authentication credentials invalid")))
	assert.True(t, isAuthFailure(fmt.Errorf("smtp auth rejected")))
	assert.False(t, isAuthFailure(fmt.Errorf("connection refused")))
}
