package models

import (
	"encoding/json"
	"time"
)

// Alarm status constants
const (
	AlarmActive       = "ACTIVE"
	AlarmAcknowledged = "ACKNOWLEDGED"
	AlarmCleared      = "CLEARED"
)

// AlertEvent is the append-only record of one admitted rule fire. Created
// exactly once per fire and never mutated, except for the notification audit
// columns the dispatcher fills in after each send attempt.
type AlertEvent struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenant_id"`
	AlertRuleID        string     `json:"alert_rule_id"`
	DeviceID           string     `json:"device_id"`
	MetricName         string     `json:"metric_name"`
	MetricValue        float64    `json:"metric_value"`
	Message            string     `json:"message"`
	Severity           string     `json:"severity"`
	FiredAt            time.Time  `json:"fired_at"`
	NotificationSent   bool       `json:"notification_sent"`
	NotificationSentAt *time.Time `json:"notification_sent_at,omitempty"`
}

// Alarm is the operator-facing incident record, distinct from the per-fire
// AlertEvent log. One open alarm exists per (tenant, rule, device); repeated
// fires refresh it instead of duplicating it.
type Alarm struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	AlertRuleID    *string    `json:"alert_rule_id,omitempty"`
	DeviceID       *string    `json:"device_id,omitempty"`
	Status         string     `json:"status"`
	Message        string     `json:"message"`
	FiredAt        time.Time  `json:"fired_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	AckComment     *string    `json:"ack_comment,omitempty"`
	ClearedAt      *time.Time `json:"cleared_at,omitempty"`
}

// Open reports whether the alarm still represents an ongoing incident.
func (a *Alarm) Open() bool {
	return a.Status == AlarmActive || a.Status == AlarmAcknowledged
}

// Notification channel types
const (
	ChannelEmail   = "email"
	ChannelSlack   = "slack"
	ChannelWebhook = "webhook"
	ChannelAPNS    = "apns"
	ChannelFCM     = "fcm"
	ChannelSMS     = "sms"
)

// NotificationChannel is a configured notification transport. Config is
// opaque at this level; each channel service unmarshals its own settings.
type NotificationChannel struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenant_id"`
	Type     string          `json:"type"`
	Config   json.RawMessage `json:"config"`
	Enabled  bool            `json:"enabled"`
}

// NotificationRule binds one alert rule to one channel. Many-to-many join;
// a rule may fan out to zero or more channels.
type NotificationRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	AlertRuleID string `json:"alert_rule_id"`
	ChannelID   string `json:"channel_id"`
	Enabled     bool   `json:"enabled"`
}
