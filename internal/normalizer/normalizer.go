// Package normalizer converts decoded protocol payloads into canonical
// events, validated against the device type's declared data model.
package normalizer

import (
	"fmt"
	"time"

	"FleetAlertEngine/internal/models"

	"go.uber.org/zap"
)

// TypeMismatchError marks a payload field whose value cannot be coerced to
// the declared numeric type. Only the offending field is dropped; the rest
// of the batch continues.
type TypeMismatchError struct {
	Field string
	Value interface{}
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("field %q: non-numeric value %v for numeric field", e.Field, e.Value)
}

type Normalizer struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// Normalize produces zero or more canonical events from a decoded payload.
// Policy:
//   - fields absent from the data model are dropped with a warning, not fatal
//   - values outside the declared [min,max] are still emitted; the bounds are
//     advisory metadata for dashboards
//   - a non-numeric value for a numeric field drops that field only; the
//     field errors are returned alongside the events that did normalize
//   - integers are accepted for float fields
func (n *Normalizer) Normalize(
	identity models.DeviceIdentity,
	dataModel models.DeviceDataModel,
	decoded map[string]interface{},
	observedAt time.Time,
) ([]models.CanonicalEvent, []error) {
	var events []models.CanonicalEvent
	var fieldErrs []error

	// Iterate the data model, not the payload, so emission order follows the
	// declared field order.
	for _, field := range dataModel.Fields {
		raw, ok := decoded[field.Name]
		if !ok {
			continue
		}

		value, err := coerceNumeric(field.Name, raw)
		if err != nil {
			fieldErrs = append(fieldErrs, err)
			n.log.Warn("dropping field with type mismatch",
				zap.String("device_id", identity.DeviceID),
				zap.String("field", field.Name),
				zap.Error(err),
			)
			continue
		}

		if outOfRange(field, value) {
			n.log.Debug("value outside advisory bounds",
				zap.String("device_id", identity.DeviceID),
				zap.String("field", field.Name),
				zap.Float64("value", value),
			)
		}

		events = append(events, models.CanonicalEvent{
			TenantID:   identity.TenantID,
			DeviceID:   identity.DeviceID,
			Metric:     field.Name,
			Value:      value,
			ObservedAt: observedAt,
		})
	}

	for name := range decoded {
		if dataModel.FieldByName(name) == nil {
			n.log.Warn("dropping field not declared in data model",
				zap.String("device_id", identity.DeviceID),
				zap.String("field", name),
			)
		}
	}

	return events, fieldErrs
}

func coerceNumeric(field string, raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	default:
		return 0, &TypeMismatchError{Field: field, Value: raw}
	}
}

func outOfRange(field models.DataModelField, value float64) bool {
	if field.Min != nil && value < *field.Min {
		return true
	}
	if field.Max != nil && value > *field.Max {
		return true
	}
	return false
}
