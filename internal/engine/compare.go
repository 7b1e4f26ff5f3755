package engine

import (
	"fmt"

	"FleetAlertEngine/internal/models"
)

// Compare applies a rule operator with standard numeric semantics. eq/neq on
// floats use exact equality; callers wanting fuzzy matching should pre-round.
func Compare(value float64, op models.Operator, threshold float64) (bool, error) {
	switch op {
	case models.OpGT:
		return value > threshold, nil
	case models.OpGTE:
		return value >= threshold, nil
	case models.OpLT:
		return value < threshold, nil
	case models.OpLTE:
		return value <= threshold, nil
	case models.OpEQ:
		return value == threshold, nil
	case models.OpNEQ:
		return value != threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}
