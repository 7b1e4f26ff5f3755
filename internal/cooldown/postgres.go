package cooldown

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresSuppressor guards the cooldown with a single conditional UPDATE on
// the rule row, so the check-and-set holds across every process sharing the
// database.
type PostgresSuppressor struct {
	db *sql.DB
}

func NewPostgresSuppressor(db *sql.DB) *PostgresSuppressor {
	return &PostgresSuppressor{db: db}
}

func (s *PostgresSuppressor) TryFire(ctx context.Context, ruleID string, cooldown time.Duration, now time.Time) (bool, error) {
	// The timestamp guard in the WHERE clause is the atomic check-and-set:
	// of N concurrent attempts inside one window, the row matches exactly
	// one UPDATE.
	query := `
		UPDATE alert_rules
		SET last_triggered_at = $1
		WHERE id = $2
		  AND (last_triggered_at IS NULL OR last_triggered_at <= $3)
	`

	cutoff := now.Add(-cooldown)
	result, err := s.db.ExecContext(ctx, query, now, ruleID, cutoff)
	if err != nil {
		return false, fmt.Errorf("cooldown check-and-set failed for rule %s: %w", ruleID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cooldown check-and-set failed for rule %s: %w", ruleID, err)
	}

	return affected == 1, nil
}
