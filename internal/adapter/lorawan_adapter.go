package adapter

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"FleetAlertEngine/internal/config"
	"FleetAlertEngine/internal/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const ProtocolLoRaWAN = "lorawan"

// LoRaWANAdapter bridges a LoRaWAN network server: the network server
// forwards uplinks to an HTTP endpoint here, carrying the DevEUI and the
// raw frame payload. The frame encodes channel records of
// [channel uint8][value int16 big-endian]; the channel number indexes the
// device data model's field order, and float fields are scaled by 1/100.
type LoRaWANAdapter struct {
	deps Deps
}

func NewLoRaWANAdapter(deps Deps, _ *config.Config) (Adapter, error) {
	return &LoRaWANAdapter{deps: deps}, nil
}

func (a *LoRaWANAdapter) Protocol() string { return ProtocolLoRaWAN }

func (a *LoRaWANAdapter) Start(_ context.Context) error { return nil }

func (a *LoRaWANAdapter) Stop() error { return nil }

// uplink is the network-server bridge message.
type uplink struct {
	DevEUI     string     `json:"dev_eui"`
	FPort      int        `json:"f_port"`
	FRMPayload string     `json:"frm_payload"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

// RegisterRoutes mounts the uplink endpoint on the shared router.
func (a *LoRaWANAdapter) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ingest/lorawan", a.handleUplink).Methods(http.MethodPost)
}

func (a *LoRaWANAdapter) handleUplink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var up uplink
	if err := json.NewDecoder(r.Body).Decode(&up); err != nil {
		a.deps.Metrics.ParseFailures.WithLabelValues(ProtocolLoRaWAN).Inc()
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed uplink"})
		return
	}

	identity, err := a.Authenticate(ctx, Credentials{DevEUI: up.DevEUI})
	if err != nil {
		a.deps.Metrics.AuthFailures.WithLabelValues(ProtocolLoRaWAN).Inc()
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "unknown DevEUI"})
		return
	}

	dataModel, err := a.deps.DataModels.DataModel(ctx, identity.TenantID, identity.DeviceID)
	if err != nil {
		a.deps.Log.Error("failed to load device data model",
			zap.String("device_id", identity.DeviceID),
			zap.Error(err),
		)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "data model unavailable"})
		return
	}

	frame, err := base64.StdEncoding.DecodeString(up.FRMPayload)
	if err != nil {
		a.deps.Metrics.ParseFailures.WithLabelValues(ProtocolLoRaWAN).Inc()
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "frm_payload is not valid base64"})
		return
	}

	events, err := a.parseFrame(identity, dataModel, frame, up.ReceivedAt)
	if err != nil {
		a.deps.Metrics.ParseFailures.WithLabelValues(ProtocolLoRaWAN).Inc()
		a.deps.Log.Warn("dropping undecodable frame",
			zap.String("device_id", identity.DeviceID),
			zap.Error(err),
		)
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	accepted := 0
	for _, event := range events {
		if err := a.deps.Sink.Submit(ctx, event); err != nil {
			a.deps.Log.Error("failed to submit event",
				zap.String("device_id", event.DeviceID),
				zap.String("metric", event.Metric),
				zap.Error(err),
			)
			continue
		}
		a.deps.Metrics.EventsIngested.WithLabelValues(ProtocolLoRaWAN).Inc()
		accepted++
	}

	respondJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

func (a *LoRaWANAdapter) Authenticate(ctx context.Context, creds Credentials) (models.DeviceIdentity, error) {
	if creds.DevEUI == "" {
		return models.DeviceIdentity{}, &AuthError{Protocol: ProtocolLoRaWAN, Reason: fmt.Errorf("empty DevEUI")}
	}
	identity, err := a.deps.Resolver.ResolveDevEUI(ctx, creds.DevEUI)
	if err != nil {
		return models.DeviceIdentity{}, &AuthError{Protocol: ProtocolLoRaWAN, Reason: err}
	}
	return identity, nil
}

// Parse decodes a raw binary frame (already base64-decoded).
func (a *LoRaWANAdapter) Parse(identity models.DeviceIdentity, dataModel models.DeviceDataModel, payload []byte) ([]models.CanonicalEvent, error) {
	return a.parseFrame(identity, dataModel, payload, nil)
}

func (a *LoRaWANAdapter) parseFrame(identity models.DeviceIdentity, dataModel models.DeviceDataModel, frame []byte, receivedAt *time.Time) ([]models.CanonicalEvent, error) {
	if len(frame) == 0 || len(frame)%3 != 0 {
		return nil, &ParseError{
			Protocol: ProtocolLoRaWAN,
			Reason:   fmt.Errorf("frame length %d is not a multiple of 3", len(frame)),
		}
	}

	observedAt := time.Now()
	if receivedAt != nil {
		observedAt = *receivedAt
	}

	decoded := make(map[string]interface{})
	for i := 0; i < len(frame); i += 3 {
		channel := int(frame[i])
		raw := int16(binary.BigEndian.Uint16(frame[i+1 : i+3]))

		field := dataModel.FieldByIndex(channel)
		if field == nil {
			a.deps.Log.Warn("dropping frame record for undeclared channel",
				zap.String("device_id", identity.DeviceID),
				zap.Int("channel", channel),
			)
			continue
		}

		value := float64(raw)
		if field.Type == models.FieldTypeFloat {
			value /= 100
		}
		decoded[field.Name] = value
	}

	events, _ := a.deps.Normalizer.Normalize(identity, dataModel, decoded, observedAt)
	return events, nil
}

// Publish would require a downlink scheduling call against the network
// server, which this bridge does not hold credentials for.
func (a *LoRaWANAdapter) Publish(_ context.Context, _ models.Command) error {
	return ErrPublishUnsupported
}
