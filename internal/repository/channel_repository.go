package repository

import (
	"context"
	"database/sql"
	"fmt"

	"FleetAlertEngine/internal/dispatch"
	"FleetAlertEngine/internal/models"
)

// ChannelRepository serves notification channels and the rule-to-channel
// bindings the dispatcher resolves on every fire.
type ChannelRepository struct {
	db *sql.DB
}

func NewChannelRepository(db *sql.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// ChannelsForRule returns the enabled channels bound to the rule through
// enabled notification rules. Disabled bindings and disabled channels are
// both filtered here so the dispatcher never sees them.
func (r *ChannelRepository) ChannelsForRule(ctx context.Context, tenantID, ruleID string) ([]models.NotificationChannel, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT c.id, c.tenant_id, c.type, c.config, c.enabled
		FROM notification_channels c
		JOIN notification_rules nr ON nr.channel_id = c.id
		WHERE nr.tenant_id = $1 AND nr.alert_rule_id = $2
		  AND nr.enabled = TRUE AND c.enabled = TRUE
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel bindings: %w", err)
	}
	defer rows.Close()

	return scanChannels(rows)
}

// ListByTenant returns all of a tenant's channels, enabled or not.
func (r *ChannelRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.NotificationChannel, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT id, tenant_id, type, config, enabled
		FROM notification_channels
		WHERE tenant_id = $1
		ORDER BY type, id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	return scanChannels(rows)
}

func scanChannels(rows *sql.Rows) ([]models.NotificationChannel, error) {
	var channels []models.NotificationChannel
	for rows.Next() {
		var ch models.NotificationChannel
		if err := rows.Scan(&ch.ID, &ch.TenantID, &ch.Type, &ch.Config, &ch.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read channels: %w", err)
	}
	return channels, nil
}

var _ dispatch.BindingSource = (*ChannelRepository)(nil)
