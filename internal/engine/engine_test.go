package engine

import (
	"context"
	"testing"

	"FleetAlertEngine/internal/metrics"
	"FleetAlertEngine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(NewMemoryLatestStore(), zap.NewNop(), metrics.NewNop())
}

func event(metric string, value float64) models.CanonicalEvent {
	return models.CanonicalEvent{
		TenantID: "t-1",
		DeviceID: "d-1",
		Metric:   metric,
		Value:    value,
	}
}

func thresholdRule(id string, metric string, op models.Operator, threshold float64) models.AlertRule {
	return models.AlertRule{
		ID:              id,
		TenantID:        "t-1",
		Name:            id,
		Severity:        models.SeverityWarning,
		Enabled:         true,
		CooldownMinutes: 5,
		RuleType:        models.RuleTypeThreshold,
		Threshold: &models.ThresholdSpec{
			DeviceID:  "d-1",
			Metric:    metric,
			Operator:  op,
			Threshold: threshold,
		},
	}
}

func compositeRule(id, logic string, weightScore *int, conditions ...models.AlertCondition) models.AlertRule {
	return models.AlertRule{
		ID:              id,
		TenantID:        "t-1",
		Name:            id,
		Severity:        models.SeverityCritical,
		Enabled:         true,
		CooldownMinutes: 5,
		RuleType:        models.RuleTypeComposite,
		Composite: &models.CompositeSpec{
			Conditions:  conditions,
			Logic:       logic,
			WeightScore: weightScore,
		},
	}
}

func fired(results []Result) []string {
	var ids []string
	for _, r := range results {
		if r.Fired {
			ids = append(ids, r.Rule.ID)
		}
	}
	return ids
}

func TestThresholdStrictBoundary(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]models.AlertRule{thresholdRule("r-gt", "temperature", models.OpGT, 30.0)})

	ctx := context.Background()

	assert.Empty(t, fired(e.Evaluate(ctx, event("temperature", 30.0))))
	assert.Equal(t, []string{"r-gt"}, fired(e.Evaluate(ctx, event("temperature", 30.0001))))
}

func TestThresholdIgnoresOtherMetrics(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]models.AlertRule{thresholdRule("r-1", "temperature", models.OpGT, 30.0)})

	assert.Empty(t, fired(e.Evaluate(context.Background(), event("humidity", 99))))
}

func TestThresholdOperators(t *testing.T) {
	cases := []struct {
		op        models.Operator
		value     float64
		threshold float64
		want      bool
	}{
		{models.OpGT, 5, 5, false},
		{models.OpGTE, 5, 5, true},
		{models.OpLT, 4, 5, true},
		{models.OpLTE, 5, 5, true},
		{models.OpEQ, 5, 5, true},
		{models.OpEQ, 5.0000001, 5, false},
		{models.OpNEQ, 5, 5, false},
		{models.OpNEQ, 6, 5, true},
	}

	for _, tc := range cases {
		got, err := Compare(tc.value, tc.op, tc.threshold)
		require.NoError(t, err)
		assert.Equalf(t, tc.want, got, "%g %s %g", tc.value, tc.op, tc.threshold)
	}

	_, err := Compare(1, "between", 2)
	assert.Error(t, err)
}

func TestCompositeAndRequiresAllConditions(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]models.AlertRule{compositeRule("r-and", models.LogicAnd, nil,
		models.AlertCondition{Field: "temperature", Operator: models.OpGT, Threshold: 80, Weight: 50},
		models.AlertCondition{Field: "vibration", Operator: models.OpGT, Threshold: 5, Weight: 50},
	)})

	ctx := context.Background()

	// Only one condition holds so far.
	assert.Empty(t, fired(e.Evaluate(ctx, event("temperature", 85))))

	// Second condition arrives; both latest values now hold.
	assert.Equal(t, []string{"r-and"}, fired(e.Evaluate(ctx, event("vibration", 6))))
}

func TestCompositeOrFiresOnAnyCondition(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]models.AlertRule{compositeRule("r-or", models.LogicOr, nil,
		models.AlertCondition{Field: "temperature", Operator: models.OpGT, Threshold: 80, Weight: 50},
		models.AlertCondition{Field: "vibration", Operator: models.OpGT, Threshold: 5, Weight: 50},
	)})

	assert.Equal(t, []string{"r-or"},
		fired(e.Evaluate(context.Background(), event("vibration", 10))))
}

func TestCompositeMissingFieldIsUnsatisfied(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]models.AlertRule{compositeRule("r-and", models.LogicAnd, nil,
		models.AlertCondition{Field: "temperature", Operator: models.OpGT, Threshold: 0, Weight: 50},
		models.AlertCondition{Field: "never_seen", Operator: models.OpGT, Threshold: 0, Weight: 50},
	)})

	// The never-observed field blocks AND without erroring the pass.
	assert.Empty(t, fired(e.Evaluate(context.Background(), event("temperature", 10))))
}

func TestCompositeWeightScoreOverridesLogic(t *testing.T) {
	ws := 40
	e := newTestEngine(t)
	e.ReplaceRules([]models.AlertRule{compositeRule("r-score", models.LogicAnd, &ws,
		models.AlertCondition{Field: "temperature", Operator: models.OpGT, Threshold: 80, Weight: 50},
		models.AlertCondition{Field: "vibration", Operator: models.OpGT, Threshold: 5, Weight: 30},
	)})

	// AND would demand both conditions; the weight threshold is met by the
	// first alone.
	assert.Equal(t, []string{"r-score"},
		fired(e.Evaluate(context.Background(), event("temperature", 90))))
}

func TestCompositeWeightScoreBelowThreshold(t *testing.T) {
	ws := 60
	e := newTestEngine(t)
	e.ReplaceRules([]models.AlertRule{compositeRule("r-score", models.LogicOr, &ws,
		models.AlertCondition{Field: "temperature", Operator: models.OpGT, Threshold: 80, Weight: 50},
		models.AlertCondition{Field: "vibration", Operator: models.OpGT, Threshold: 5, Weight: 30},
	)})

	// OR would fire on the satisfied condition; the weight threshold says no.
	assert.Empty(t, fired(e.Evaluate(context.Background(), event("temperature", 90))))
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	rule := thresholdRule("r-off", "temperature", models.OpGT, 0)
	rule.Enabled = false

	e := newTestEngine(t)
	e.ReplaceRules([]models.AlertRule{rule})

	assert.Empty(t, e.Evaluate(context.Background(), event("temperature", 100)))
}

func TestMalformedRuleSkippedOthersStillRun(t *testing.T) {
	bad := compositeRule("r-bad", "XOR", nil,
		models.AlertCondition{Field: "temperature", Operator: models.OpGT, Threshold: 0, Weight: 10},
	)
	good := compositeRule("r-good", models.LogicOr, nil,
		models.AlertCondition{Field: "temperature", Operator: models.OpGT, Threshold: 0, Weight: 10},
	)

	e := newTestEngine(t)
	e.ReplaceRules([]models.AlertRule{bad, good})

	assert.Equal(t, []string{"r-good"},
		fired(e.Evaluate(context.Background(), event("temperature", 10))))
}

func TestReplaceRulesSwapsWholeIndex(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]models.AlertRule{thresholdRule("r-old", "temperature", models.OpGT, 0)})

	ctx := context.Background()
	assert.Equal(t, []string{"r-old"}, fired(e.Evaluate(ctx, event("temperature", 1))))

	e.ReplaceRules([]models.AlertRule{thresholdRule("r-new", "temperature", models.OpGT, 0)})
	assert.Equal(t, []string{"r-new"}, fired(e.Evaluate(ctx, event("temperature", 1))))
}

func TestTenantIsolation(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]models.AlertRule{thresholdRule("r-1", "temperature", models.OpGT, 0)})

	other := models.CanonicalEvent{
		TenantID: "t-2",
		DeviceID: "d-1",
		Metric:   "temperature",
		Value:    100,
	}
	assert.Empty(t, e.Evaluate(context.Background(), other))
}
