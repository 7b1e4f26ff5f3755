package repository

import (
	"context"
	"database/sql"
	"fmt"

	"FleetAlertEngine/internal/models"
)

// DeviceRepository resolves wire-level credentials and serves device data
// models. Both concerns are owned by the external device registry; this
// repository only reads them.
type DeviceRepository struct {
	db *sql.DB
}

func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// ResolveDeviceKey maps an MQTT topic device key to exactly one device.
func (r *DeviceRepository) ResolveDeviceKey(ctx context.Context, key string) (models.DeviceIdentity, error) {
	query := `
		SELECT tenant_id, id
		FROM devices
		WHERE device_key = $1 AND enabled = TRUE
	`

	var identity models.DeviceIdentity
	err := r.db.QueryRowContext(ctx, query, key).Scan(&identity.TenantID, &identity.DeviceID)
	if err == sql.ErrNoRows {
		return models.DeviceIdentity{}, fmt.Errorf("no device for key")
	}
	if err != nil {
		return models.DeviceIdentity{}, fmt.Errorf("failed to resolve device key: %w", err)
	}

	return identity, nil
}

// ResolveDevEUI maps a LoRaWAN DevEUI to exactly one device.
func (r *DeviceRepository) ResolveDevEUI(ctx context.Context, devEUI string) (models.DeviceIdentity, error) {
	query := `
		SELECT tenant_id, id
		FROM devices
		WHERE dev_eui = $1 AND enabled = TRUE
	`

	var identity models.DeviceIdentity
	err := r.db.QueryRowContext(ctx, query, devEUI).Scan(&identity.TenantID, &identity.DeviceID)
	if err == sql.ErrNoRows {
		return models.DeviceIdentity{}, fmt.Errorf("no device for DevEUI %s", devEUI)
	}
	if err != nil {
		return models.DeviceIdentity{}, fmt.Errorf("failed to resolve DevEUI: %w", err)
	}

	return identity, nil
}

// DataModel returns the device type's declared fields in declaration order.
func (r *DeviceRepository) DataModel(ctx context.Context, tenantID, deviceID string) (models.DeviceDataModel, error) {
	if tenantID == "" {
		return models.DeviceDataModel{}, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT f.device_type_id, f.name, f.type, f.unit, f.min, f.max
		FROM device_type_fields f
		JOIN devices d ON d.device_type_id = f.device_type_id
		WHERE d.tenant_id = $1 AND d.id = $2
		ORDER BY f.position
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, deviceID)
	if err != nil {
		return models.DeviceDataModel{}, fmt.Errorf("failed to query data model: %w", err)
	}
	defer rows.Close()

	var dm models.DeviceDataModel
	for rows.Next() {
		var field models.DataModelField
		if err := rows.Scan(&dm.DeviceTypeID, &field.Name, &field.Type, &field.Unit, &field.Min, &field.Max); err != nil {
			return models.DeviceDataModel{}, fmt.Errorf("failed to scan data model field: %w", err)
		}
		dm.Fields = append(dm.Fields, field)
	}
	if err := rows.Err(); err != nil {
		return models.DeviceDataModel{}, fmt.Errorf("failed to read data model: %w", err)
	}

	return dm, nil
}
