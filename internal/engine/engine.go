// Package engine evaluates tenant-defined alert rules against canonical
// telemetry events.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"FleetAlertEngine/internal/metrics"
	"FleetAlertEngine/internal/models"

	"go.uber.org/zap"
)

// RuleIntegrityError marks a stored rule that violates its own invariants.
// The rule store is supposed to reject these at write time, so seeing one
// here indicates a data-integrity bug upstream. The rule is skipped for the
// pass and surfaced through the rejected-rules counter.
type RuleIntegrityError struct {
	RuleID string
	Reason error
}

func (e *RuleIntegrityError) Error() string {
	return fmt.Sprintf("rule %s failed integrity check: %v", e.RuleID, e.Reason)
}

func (e *RuleIntegrityError) Unwrap() error { return e.Reason }

// Result is the outcome of evaluating one rule against one event.
type Result struct {
	Rule    models.AlertRule
	Fired   bool
	Message string
}

// ruleIndex is an immutable snapshot of the active rules, partitioned the
// way evaluation reads them. Snapshots are swapped whole on rule sync;
// readers never observe a partially updated rule set.
type ruleIndex struct {
	// THRESHOLD rules keyed by tenant|device.
	byDevice map[string][]models.AlertRule
	// Tenant-wide rules: COMPOSITE rules, plus any rule that cannot be
	// pinned to a device (those fail their integrity check during
	// evaluation, where they are counted and logged).
	byTenant map[string][]models.AlertRule
}

func deviceKey(tenantID, deviceID string) string {
	return tenantID + "|" + deviceID
}

func buildIndex(rules []models.AlertRule) *ruleIndex {
	idx := &ruleIndex{
		byDevice: make(map[string][]models.AlertRule),
		byTenant: make(map[string][]models.AlertRule),
	}
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if rule.RuleType == models.RuleTypeThreshold && rule.Threshold != nil {
			key := deviceKey(rule.TenantID, rule.Threshold.DeviceID)
			idx.byDevice[key] = append(idx.byDevice[key], rule)
			continue
		}
		idx.byTenant[rule.TenantID] = append(idx.byTenant[rule.TenantID], rule)
	}
	return idx
}

// Engine holds the rule index and the latest-value store. It is a cache
// over the rule store, not the source of truth.
type Engine struct {
	index   atomic.Pointer[ruleIndex]
	latest  LatestStore
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(latest LatestStore, log *zap.Logger, m *metrics.Metrics) *Engine {
	e := &Engine{
		latest:  latest,
		log:     log,
		metrics: m,
	}
	e.index.Store(buildIndex(nil))
	return e
}

// ReplaceRules atomically swaps in a new index built from the given rule
// set. Called by the rule-sync path only.
func (e *Engine) ReplaceRules(rules []models.AlertRule) {
	idx := buildIndex(rules)
	e.index.Store(idx)
	e.log.Info("rule index replaced",
		zap.Int("device_buckets", len(idx.byDevice)),
		zap.Int("tenant_buckets", len(idx.byTenant)),
	)
}

// Evaluate runs one pass of all rules applicable to the event's device and
// tenant. The triggering event updates the latest-value store before any
// composite condition is read, so its own field always reflects it. A rule
// that fails its integrity check is skipped, logged, and counted; the
// remaining rules still run.
func (e *Engine) Evaluate(ctx context.Context, event models.CanonicalEvent) []Result {
	if err := e.latest.Set(ctx, event.TenantID, event.DeviceID, event.Metric, event.Value); err != nil {
		e.log.Error("failed to update latest-value store",
			zap.String("device_id", event.DeviceID),
			zap.String("metric", event.Metric),
			zap.Error(err),
		)
	}

	idx := e.index.Load()

	var results []Result
	evaluate := func(rule models.AlertRule) {
		if !rule.Enabled {
			return
		}
		if err := rule.Validate(); err != nil {
			e.metrics.RulesRejected.Inc()
			e.log.Error("skipping malformed rule",
				zap.String("rule_id", rule.ID),
				zap.Error(&RuleIntegrityError{RuleID: rule.ID, Reason: err}),
			)
			return
		}
		switch rule.RuleType {
		case models.RuleTypeThreshold:
			results = append(results, e.evaluateThreshold(rule, event))
		case models.RuleTypeComposite:
			results = append(results, e.evaluateComposite(ctx, rule, event))
		}
	}

	for _, rule := range idx.byDevice[deviceKey(event.TenantID, event.DeviceID)] {
		evaluate(rule)
	}
	for _, rule := range idx.byTenant[event.TenantID] {
		evaluate(rule)
	}

	return results
}

func (e *Engine) evaluateThreshold(rule models.AlertRule, event models.CanonicalEvent) Result {
	t := rule.Threshold
	if event.Metric != t.Metric {
		return Result{Rule: rule}
	}

	fired, err := Compare(event.Value, t.Operator, t.Threshold)
	if err != nil {
		// Validate guarantees the operator; reaching here is a bug.
		e.metrics.RulesRejected.Inc()
		e.log.Error("threshold comparison failed", zap.String("rule_id", rule.ID), zap.Error(err))
		return Result{Rule: rule}
	}
	if !fired {
		return Result{Rule: rule}
	}

	msg := fmt.Sprintf("%s: %s %s %g (observed %g)",
		rule.Name, t.Metric, t.Operator, t.Threshold, event.Value)
	return Result{Rule: rule, Fired: true, Message: msg}
}

func (e *Engine) evaluateComposite(ctx context.Context, rule models.AlertRule, event models.CanonicalEvent) Result {
	c := rule.Composite

	satisfied := 0
	weightSum := 0
	for _, cond := range c.Conditions {
		value, ok, err := e.latest.Get(ctx, event.TenantID, event.DeviceID, cond.Field)
		if err != nil {
			e.log.Error("failed to read latest value for condition",
				zap.String("rule_id", rule.ID),
				zap.String("field", cond.Field),
				zap.Error(err),
			)
			ok = false
		}
		if !ok {
			// Never-observed field: condition not satisfied.
			continue
		}
		holds, err := Compare(value, cond.Operator, cond.Threshold)
		if err != nil {
			e.metrics.RulesRejected.Inc()
			e.log.Error("condition comparison failed", zap.String("rule_id", rule.ID), zap.Error(err))
			return Result{Rule: rule}
		}
		if holds {
			satisfied++
			weightSum += cond.Weight
		}
	}

	var fired bool
	if c.WeightScore != nil {
		// Scoring mode stacks on top of AND/OR: when weight_score is set it
		// decides alone, whatever the boolean logic says.
		fired = weightSum >= *c.WeightScore
	} else if c.Logic == models.LogicAnd {
		fired = satisfied == len(c.Conditions)
	} else {
		fired = satisfied > 0
	}

	if !fired {
		return Result{Rule: rule}
	}

	msg := fmt.Sprintf("%s: %d/%d conditions satisfied on device %s (trigger %s=%g)",
		rule.Name, satisfied, len(c.Conditions), event.DeviceID, event.Metric, event.Value)
	return Result{Rule: rule, Fired: true, Message: msg}
}
