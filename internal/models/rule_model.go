package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Rule constants
const (
	RuleTypeThreshold = "THRESHOLD"
	RuleTypeComposite = "COMPOSITE"

	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"

	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Operator is a numeric comparison selector.
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
	OpNEQ Operator = "neq"
)

// ValidOperator reports whether op is one of the six supported comparisons.
func ValidOperator(op Operator) bool {
	switch op {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNEQ:
		return true
	}
	return false
}

// AlertCondition is one clause of a composite rule. Pure value object owned
// by its rule; it has no identity of its own.
type AlertCondition struct {
	Field     string   `json:"field"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
	Weight    int      `json:"weight"`
}

// ThresholdSpec holds the fields populated only for THRESHOLD rules.
type ThresholdSpec struct {
	DeviceID  string
	Metric    string
	Operator  Operator
	Threshold float64
}

// CompositeSpec holds the fields populated only for COMPOSITE rules.
// Conditions keep their stored order; order does not affect AND/OR semantics
// but must round-trip exactly for display.
type CompositeSpec struct {
	Conditions  []AlertCondition
	Logic       string
	WeightScore *int
}

// AlertRule is a tagged union discriminated by RuleType: exactly one of
// Threshold or Composite is populated. The type is fixed at creation.
type AlertRule struct {
	ID              string
	TenantID        string
	Name            string
	Severity        string
	Enabled         bool
	CooldownMinutes int
	LastTriggeredAt *time.Time

	RuleType  string
	Threshold *ThresholdSpec
	Composite *CompositeSpec
}

// Cooldown returns the rule's suppression window as a duration.
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// Validate enforces the union invariants. The rule store rejects violations
// at write time; the engine treats a failure here as a data-integrity bug.
func (r *AlertRule) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("rule %s: tenant_id is required", r.ID)
	}
	if r.CooldownMinutes < 1 {
		return fmt.Errorf("rule %s: cooldown_minutes must be >= 1", r.ID)
	}
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return fmt.Errorf("rule %s: invalid severity %q", r.ID, r.Severity)
	}

	switch r.RuleType {
	case RuleTypeThreshold:
		if r.Composite != nil {
			return fmt.Errorf("rule %s: THRESHOLD rule carries composite fields", r.ID)
		}
		t := r.Threshold
		if t == nil || t.DeviceID == "" || t.Metric == "" {
			return fmt.Errorf("rule %s: THRESHOLD rule missing device_id/metric", r.ID)
		}
		if !ValidOperator(t.Operator) {
			return fmt.Errorf("rule %s: invalid operator %q", r.ID, t.Operator)
		}
	case RuleTypeComposite:
		if r.Threshold != nil {
			return fmt.Errorf("rule %s: COMPOSITE rule carries threshold fields", r.ID)
		}
		c := r.Composite
		if c == nil || len(c.Conditions) == 0 {
			return fmt.Errorf("rule %s: COMPOSITE rule requires at least one condition", r.ID)
		}
		if c.Logic != LogicAnd && c.Logic != LogicOr {
			return fmt.Errorf("rule %s: invalid logic %q", r.ID, c.Logic)
		}
		for i, cond := range c.Conditions {
			if cond.Field == "" {
				return fmt.Errorf("rule %s: condition %d missing field", r.ID, i)
			}
			if !ValidOperator(cond.Operator) {
				return fmt.Errorf("rule %s: condition %d invalid operator %q", r.ID, i, cond.Operator)
			}
			if cond.Weight < 1 || cond.Weight > 100 {
				return fmt.Errorf("rule %s: condition %d weight %d out of [1,100]", r.ID, i, cond.Weight)
			}
		}
	default:
		return fmt.Errorf("rule %s: unknown rule_type %q", r.ID, r.RuleType)
	}
	return nil
}

// ruleJSON is the flat wire representation shared by both variants.
type ruleJSON struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	Name            string     `json:"name"`
	Severity        string     `json:"severity"`
	Enabled         bool       `json:"enabled"`
	CooldownMinutes int        `json:"cooldown_minutes"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	RuleType        string     `json:"rule_type"`

	// THRESHOLD fields
	DeviceID  *string  `json:"device_id,omitempty"`
	Metric    *string  `json:"metric,omitempty"`
	Operator  *string  `json:"operator,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`

	// COMPOSITE fields
	Conditions  []AlertCondition `json:"conditions,omitempty"`
	Logic       *string          `json:"logic,omitempty"`
	WeightScore *int             `json:"weight_score,omitempty"`
}

func (r AlertRule) MarshalJSON() ([]byte, error) {
	out := ruleJSON{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Name:            r.Name,
		Severity:        r.Severity,
		Enabled:         r.Enabled,
		CooldownMinutes: r.CooldownMinutes,
		LastTriggeredAt: r.LastTriggeredAt,
		RuleType:        r.RuleType,
	}
	switch r.RuleType {
	case RuleTypeThreshold:
		if r.Threshold == nil {
			return nil, fmt.Errorf("rule %s: THRESHOLD rule without threshold fields", r.ID)
		}
		op := string(r.Threshold.Operator)
		out.DeviceID = &r.Threshold.DeviceID
		out.Metric = &r.Threshold.Metric
		out.Operator = &op
		out.Threshold = &r.Threshold.Threshold
	case RuleTypeComposite:
		if r.Composite == nil {
			return nil, fmt.Errorf("rule %s: COMPOSITE rule without conditions", r.ID)
		}
		out.Conditions = r.Composite.Conditions
		out.Logic = &r.Composite.Logic
		out.WeightScore = r.Composite.WeightScore
	default:
		return nil, fmt.Errorf("rule %s: unknown rule_type %q", r.ID, r.RuleType)
	}
	return json.Marshal(out)
}

func (r *AlertRule) UnmarshalJSON(data []byte) error {
	var in ruleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	r.ID = in.ID
	r.TenantID = in.TenantID
	r.Name = in.Name
	r.Severity = in.Severity
	r.Enabled = in.Enabled
	r.CooldownMinutes = in.CooldownMinutes
	r.LastTriggeredAt = in.LastTriggeredAt
	r.RuleType = in.RuleType
	r.Threshold = nil
	r.Composite = nil

	hasThresholdFields := in.DeviceID != nil || in.Metric != nil || in.Operator != nil || in.Threshold != nil
	hasCompositeFields := in.Conditions != nil || in.Logic != nil || in.WeightScore != nil

	switch in.RuleType {
	case RuleTypeThreshold:
		if hasCompositeFields {
			return fmt.Errorf("rule %s: THRESHOLD rule mixes composite fields", in.ID)
		}
		if in.DeviceID == nil || in.Metric == nil || in.Operator == nil || in.Threshold == nil {
			return fmt.Errorf("rule %s: THRESHOLD rule requires device_id, metric, operator, threshold", in.ID)
		}
		r.Threshold = &ThresholdSpec{
			DeviceID:  *in.DeviceID,
			Metric:    *in.Metric,
			Operator:  Operator(*in.Operator),
			Threshold: *in.Threshold,
		}
	case RuleTypeComposite:
		if hasThresholdFields {
			return fmt.Errorf("rule %s: COMPOSITE rule mixes threshold fields", in.ID)
		}
		if len(in.Conditions) == 0 || in.Logic == nil {
			return fmt.Errorf("rule %s: COMPOSITE rule requires conditions and logic", in.ID)
		}
		r.Composite = &CompositeSpec{
			Conditions:  in.Conditions,
			Logic:       *in.Logic,
			WeightScore: in.WeightScore,
		}
	default:
		return fmt.Errorf("rule %s: unknown rule_type %q", in.ID, in.RuleType)
	}
	return nil
}
