// Package alarm tracks the operator-facing incident lifecycle:
// ACTIVE -> ACKNOWLEDGED -> CLEARED, with ACTIVE -> CLEARED allowed
// directly. CLEARED is terminal.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FleetAlertEngine/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound          = errors.New("alarm not found")
	ErrInvalidTransition = errors.New("invalid alarm state transition")
)

// Store is the persistence contract for alarms. The repository package
// provides the Postgres implementation.
type Store interface {
	// GetOpen returns the open (ACTIVE or ACKNOWLEDGED) alarm for the
	// (tenant, rule, device) triple, or nil when none exists.
	GetOpen(ctx context.Context, tenantID, ruleID, deviceID string) (*models.Alarm, error)
	Get(ctx context.Context, tenantID, alarmID string) (*models.Alarm, error)
	Create(ctx context.Context, alarm *models.Alarm) error
	// Refresh updates fired_at/message on an existing open alarm.
	Refresh(ctx context.Context, tenantID, alarmID string, firedAt time.Time, message string) error
	SetAcknowledged(ctx context.Context, tenantID, alarmID, operator, comment string, at time.Time) error
	SetCleared(ctx context.Context, tenantID, alarmID string, at time.Time) error
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another.
func CanTransition(from, to string) bool {
	switch from {
	case models.AlarmActive:
		return to == models.AlarmAcknowledged || to == models.AlarmCleared
	case models.AlarmAcknowledged:
		return to == models.AlarmCleared
	default:
		return false
	}
}

type Manager struct {
	store Store
	log   *zap.Logger
}

func NewManager(store Store, log *zap.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// RecordFire opens a new alarm for the (tenant, rule, device) triple, or
// refreshes the existing open one. Returns the alarm and whether it was
// newly created. A fire after the previous alarm cleared opens a fresh one.
func (m *Manager) RecordFire(ctx context.Context, tenantID, ruleID, deviceID string, firedAt time.Time, message string) (*models.Alarm, bool, error) {
	existing, err := m.store.GetOpen(ctx, tenantID, ruleID, deviceID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up open alarm: %w", err)
	}

	if existing != nil {
		if err := m.store.Refresh(ctx, tenantID, existing.ID, firedAt, message); err != nil {
			return nil, false, fmt.Errorf("failed to refresh alarm %s: %w", existing.ID, err)
		}
		existing.FiredAt = firedAt
		existing.Message = message
		return existing, false, nil
	}

	created := &models.Alarm{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		AlertRuleID: &ruleID,
		DeviceID:    &deviceID,
		Status:      models.AlarmActive,
		Message:     message,
		FiredAt:     firedAt,
	}
	if err := m.store.Create(ctx, created); err != nil {
		return nil, false, fmt.Errorf("failed to create alarm: %w", err)
	}

	m.log.Info("alarm opened",
		zap.String("alarm_id", created.ID),
		zap.String("rule_id", ruleID),
		zap.String("device_id", deviceID),
	)
	return created, true, nil
}

// Acknowledge moves an ACTIVE alarm to ACKNOWLEDGED, recording the operator
// and comment.
func (m *Manager) Acknowledge(ctx context.Context, tenantID, alarmID, operator, comment string) error {
	a, err := m.store.Get(ctx, tenantID, alarmID)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrNotFound
	}
	if !CanTransition(a.Status, models.AlarmAcknowledged) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, models.AlarmAcknowledged)
	}
	return m.store.SetAcknowledged(ctx, tenantID, alarmID, operator, comment, time.Now())
}

// Clear moves an alarm to its terminal state. Valid from ACTIVE or
// ACKNOWLEDGED.
func (m *Manager) Clear(ctx context.Context, tenantID, alarmID string) error {
	a, err := m.store.Get(ctx, tenantID, alarmID)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrNotFound
	}
	if !CanTransition(a.Status, models.AlarmCleared) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, models.AlarmCleared)
	}
	return m.store.SetCleared(ctx, tenantID, alarmID, time.Now())
}
