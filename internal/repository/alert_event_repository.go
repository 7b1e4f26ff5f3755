package repository

import (
	"context"
	"database/sql"
	"fmt"

	"FleetAlertEngine/internal/dispatch"
	"FleetAlertEngine/internal/models"

	"github.com/google/uuid"
)

// AlertEventRepository owns the append-only fire log and its notification
// audit trail.
type AlertEventRepository struct {
	db *sql.DB
}

func NewAlertEventRepository(db *sql.DB) *AlertEventRepository {
	return &AlertEventRepository{db: db}
}

// Create appends one fire record.
func (r *AlertEventRepository) Create(ctx context.Context, event *models.AlertEvent) error {
	query := `
		INSERT INTO alert_events (
			id, tenant_id, alert_rule_id, device_id, metric_name,
			metric_value, message, severity, fired_at, notification_sent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.TenantID, event.AlertRuleID, event.DeviceID, event.MetricName,
		event.MetricValue, event.Message, event.Severity, event.FiredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}
	return nil
}

// RecordOutcome appends one send attempt to the audit trail. Successful
// attempts also stamp the parent event's notification columns.
func (r *AlertEventRepository) RecordOutcome(ctx context.Context, outcome dispatch.Outcome) error {
	query := `
		INSERT INTO notification_outcomes (
			id, alert_event_id, channel_id, channel_type, success, error, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var sendErr sql.NullString
	if outcome.Error != "" {
		sendErr = sql.NullString{String: outcome.Error, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(), outcome.AlertEventID, outcome.ChannelID, outcome.ChannelType,
		outcome.Success, sendErr, outcome.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record notification outcome: %w", err)
	}

	if outcome.Success {
		_, err = r.db.ExecContext(ctx,
			`UPDATE alert_events SET notification_sent = TRUE, notification_sent_at = $1 WHERE id = $2`,
			outcome.AttemptedAt, outcome.AlertEventID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark alert event notified: %w", err)
		}
	}
	return nil
}

// ListByTenant returns recent fires for a tenant, newest first.
func (r *AlertEventRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]models.AlertEvent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, alert_rule_id, device_id, metric_name,
		       metric_value, message, severity, fired_at,
		       notification_sent, notification_sent_at
		FROM alert_events
		WHERE tenant_id = $1
		ORDER BY fired_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert events: %w", err)
	}
	defer rows.Close()

	var events []models.AlertEvent
	for rows.Next() {
		var e models.AlertEvent
		var sentAt sql.NullTime
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.AlertRuleID, &e.DeviceID, &e.MetricName,
			&e.MetricValue, &e.Message, &e.Severity, &e.FiredAt,
			&e.NotificationSent, &sentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		if sentAt.Valid {
			t := sentAt.Time
			e.NotificationSentAt = &t
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alert events: %w", err)
	}

	return events, nil
}

var _ dispatch.OutcomeRecorder = (*AlertEventRepository)(nil)
