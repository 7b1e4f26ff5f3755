package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FleetAlertEngine/internal/alarm"
	"FleetAlertEngine/internal/models"
)

// AlarmRepository is the Postgres store behind the alarm lifecycle manager.
type AlarmRepository struct {
	db *sql.DB
}

func NewAlarmRepository(db *sql.DB) *AlarmRepository {
	return &AlarmRepository{db: db}
}

const alarmColumns = `
	id, tenant_id, alert_rule_id, device_id, status, message, fired_at,
	acknowledged_at, acknowledged_by, ack_comment, cleared_at
`

// GetOpen returns the ACTIVE or ACKNOWLEDGED alarm for the triple, or nil.
// At most one open alarm exists per triple; the lifecycle guarantees it.
func (r *AlarmRepository) GetOpen(ctx context.Context, tenantID, ruleID, deviceID string) (*models.Alarm, error) {
	query := `SELECT ` + alarmColumns + `
		FROM alarms
		WHERE tenant_id = $1 AND alert_rule_id = $2 AND device_id = $3
		  AND status IN ($4, $5)
	`

	row := r.db.QueryRowContext(ctx, query, tenantID, ruleID, deviceID,
		models.AlarmActive, models.AlarmAcknowledged)
	a, err := scanAlarm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AlarmRepository) Get(ctx context.Context, tenantID, alarmID string) (*models.Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE tenant_id = $1 AND id = $2`

	row := r.db.QueryRowContext(ctx, query, tenantID, alarmID)
	a, err := scanAlarm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AlarmRepository) Create(ctx context.Context, a *models.Alarm) error {
	query := `
		INSERT INTO alarms (id, tenant_id, alert_rule_id, device_id, status, message, fired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.TenantID, a.AlertRuleID, a.DeviceID, a.Status, a.Message, a.FiredAt)
	if err != nil {
		return fmt.Errorf("failed to create alarm: %w", err)
	}
	return nil
}

func (r *AlarmRepository) Refresh(ctx context.Context, tenantID, alarmID string, firedAt time.Time, message string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alarms SET fired_at = $1, message = $2 WHERE tenant_id = $3 AND id = $4`,
		firedAt, message, tenantID, alarmID)
	if err != nil {
		return fmt.Errorf("failed to refresh alarm: %w", err)
	}
	return requireRow(result)
}

func (r *AlarmRepository) SetAcknowledged(ctx context.Context, tenantID, alarmID, operator, comment string, at time.Time) error {
	query := `
		UPDATE alarms
		SET status = $1, acknowledged_at = $2, acknowledged_by = $3, ack_comment = $4
		WHERE tenant_id = $5 AND id = $6 AND status = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		models.AlarmAcknowledged, at, operator, nullString(comment),
		tenantID, alarmID, models.AlarmActive)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alarm: %w", err)
	}
	return requireRow(result)
}

func (r *AlarmRepository) SetCleared(ctx context.Context, tenantID, alarmID string, at time.Time) error {
	query := `
		UPDATE alarms
		SET status = $1, cleared_at = $2
		WHERE tenant_id = $3 AND id = $4 AND status IN ($5, $6)
	`

	result, err := r.db.ExecContext(ctx, query,
		models.AlarmCleared, at, tenantID, alarmID,
		models.AlarmActive, models.AlarmAcknowledged)
	if err != nil {
		return fmt.Errorf("failed to clear alarm: %w", err)
	}
	return requireRow(result)
}

// ListByTenant returns a tenant's alarms newest first, optionally filtered to
// one status.
func (r *AlarmRepository) ListByTenant(ctx context.Context, tenantID, status string, limit int) ([]models.Alarm, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY fired_at DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarms: %w", err)
	}
	defer rows.Close()

	var alarms []models.Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		alarms = append(alarms, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alarms: %w", err)
	}

	return alarms, nil
}

func scanAlarm(row rowScanner) (*models.Alarm, error) {
	var a models.Alarm
	var ruleID, deviceID, ackBy, ackComment sql.NullString
	var ackAt, clearedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.TenantID, &ruleID, &deviceID, &a.Status, &a.Message, &a.FiredAt,
		&ackAt, &ackBy, &ackComment, &clearedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alarm: %w", err)
	}

	if ruleID.Valid {
		a.AlertRuleID = &ruleID.String
	}
	if deviceID.Valid {
		a.DeviceID = &deviceID.String
	}
	if ackAt.Valid {
		t := ackAt.Time
		a.AcknowledgedAt = &t
	}
	if ackBy.Valid {
		a.AcknowledgedBy = &ackBy.String
	}
	if ackComment.Valid {
		a.AckComment = &ackComment.String
	}
	if clearedAt.Valid {
		t := clearedAt.Time
		a.ClearedAt = &t
	}

	return &a, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return alarm.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ alarm.Store = (*AlarmRepository)(nil)
