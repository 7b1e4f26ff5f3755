// internal/models/models.go

package models

import (
	"time"
)

// DeviceIdentity is the result of resolving a wire-level credential. Every
// credential an adapter accepts must map to exactly one of these.
type DeviceIdentity struct {
	TenantID string `json:"tenant_id"`
	DeviceID string `json:"device_id"`
}

// CanonicalEvent is the protocol-agnostic telemetry tuple produced by the
// adapters. Immutable once emitted; the pipeline never mutates it.
type CanonicalEvent struct {
	TenantID   string    `json:"tenant_id"`
	DeviceID   string    `json:"device_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// Field types a device data model may declare.
const (
	FieldTypeFloat = "float"
	FieldTypeInt   = "int"
)

// DataModelField is one declared field of a device type's data model.
// Min/Max are advisory metadata for dashboards, not a rejection rule.
type DataModelField struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Unit string   `json:"unit"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
}

// DeviceDataModel is the ordered list of fields a device type declares.
// Field order matters for binary payload decoding (LoRaWAN channel index).
type DeviceDataModel struct {
	DeviceTypeID string           `json:"device_type_id"`
	Fields       []DataModelField `json:"fields"`
}

// FieldByName returns the declared field with the given name, or nil.
func (m DeviceDataModel) FieldByName(name string) *DataModelField {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// FieldByIndex returns the field at the given declaration position, or nil.
func (m DeviceDataModel) FieldByIndex(idx int) *DataModelField {
	if idx < 0 || idx >= len(m.Fields) {
		return nil
	}
	return &m.Fields[idx]
}

// Command is a downlink instruction addressed to one device. Not part of the
// alerting path, but adapters expose a uniform publish contract for symmetry.
type Command struct {
	TenantID string                 `json:"tenant_id"`
	DeviceID string                 `json:"device_id"`
	Name     string                 `json:"name"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	IssuedAt time.Time              `json:"issued_at"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Services  struct {
		Database bool `json:"database"`
		MQTT     bool `json:"mqtt"`
	} `json:"services"`
}
