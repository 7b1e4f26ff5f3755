package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"FleetAlertEngine/internal/models"
)

// RuleRepository reads and writes alert rules. Rule CRUD itself belongs to
// the management API; the engine consumes this store to build its index and
// writes back last_triggered_at through the cooldown suppressor.
type RuleRepository struct {
	db *sql.DB
}

func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `
	id, tenant_id, name, severity, enabled, cooldown_minutes,
	last_triggered_at, rule_type, device_id, metric, operator, threshold,
	conditions, logic, weight_score
`

// ListEnabled returns every enabled rule across tenants, for the index
// rebuild.
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE enabled = TRUE`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []models.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	return rules, nil
}

// GetByID returns one rule inside a tenant, or nil when absent.
func (r *RuleRepository) GetByID(ctx context.Context, tenantID, id string) (*models.AlertRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE tenant_id = $1 AND id = $2`

	row := r.db.QueryRowContext(ctx, query, tenantID, id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// Create inserts a validated rule. Invariant violations are rejected here,
// at write time, so evaluation can assume well-formed rules.
func (r *RuleRepository) Create(ctx context.Context, rule *models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("rejecting invalid rule: %w", err)
	}

	query := `
		INSERT INTO alert_rules (
			id, tenant_id, name, severity, enabled, cooldown_minutes,
			rule_type, device_id, metric, operator, threshold,
			conditions, logic, weight_score
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var deviceID, metric, operator, logic sql.NullString
	var threshold sql.NullFloat64
	var conditions []byte
	var weightScore sql.NullInt64

	switch rule.RuleType {
	case models.RuleTypeThreshold:
		t := rule.Threshold
		deviceID = sql.NullString{String: t.DeviceID, Valid: true}
		metric = sql.NullString{String: t.Metric, Valid: true}
		operator = sql.NullString{String: string(t.Operator), Valid: true}
		threshold = sql.NullFloat64{Float64: t.Threshold, Valid: true}
	case models.RuleTypeComposite:
		c := rule.Composite
		encoded, err := json.Marshal(c.Conditions)
		if err != nil {
			return fmt.Errorf("failed to encode conditions: %w", err)
		}
		conditions = encoded
		logic = sql.NullString{String: c.Logic, Valid: true}
		if c.WeightScore != nil {
			weightScore = sql.NullInt64{Int64: int64(*c.WeightScore), Valid: true}
		}
	}

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.TenantID, rule.Name, rule.Severity, rule.Enabled, rule.CooldownMinutes,
		rule.RuleType, deviceID, metric, operator, threshold,
		conditions, logic, weightScore,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (models.AlertRule, error) {
	var rule models.AlertRule
	var lastTriggered sql.NullTime
	var deviceID, metric, operator, logic sql.NullString
	var threshold sql.NullFloat64
	var conditions []byte
	var weightScore sql.NullInt64

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Severity, &rule.Enabled, &rule.CooldownMinutes,
		&lastTriggered, &rule.RuleType, &deviceID, &metric, &operator, &threshold,
		&conditions, &logic, &weightScore,
	)
	if err == sql.ErrNoRows {
		return rule, err
	}
	if err != nil {
		return rule, fmt.Errorf("failed to scan rule: %w", err)
	}

	if lastTriggered.Valid {
		t := lastTriggered.Time
		rule.LastTriggeredAt = &t
	}

	switch rule.RuleType {
	case models.RuleTypeThreshold:
		rule.Threshold = &models.ThresholdSpec{
			DeviceID:  deviceID.String,
			Metric:    metric.String,
			Operator:  models.Operator(operator.String),
			Threshold: threshold.Float64,
		}
	case models.RuleTypeComposite:
		spec := &models.CompositeSpec{Logic: logic.String}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &spec.Conditions); err != nil {
				return rule, fmt.Errorf("failed to decode conditions for rule %s: %w", rule.ID, err)
			}
		}
		if weightScore.Valid {
			ws := int(weightScore.Int64)
			spec.WeightScore = &ws
		}
		rule.Composite = spec
	}

	return rule, nil
}

// TouchLastTriggered is a helper for tests and backfills; the hot path
// updates last_triggered_at through the cooldown suppressor's conditional
// UPDATE instead.
func (r *RuleRepository) TouchLastTriggered(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alert_rules SET last_triggered_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to update last_triggered_at: %w", err)
	}
	return nil
}
