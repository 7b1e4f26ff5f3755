package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"FleetAlertEngine/internal/config"
	"FleetAlertEngine/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const ProtocolHTTP = "http"

// HTTPAdapter ingests telemetry pushed over HTTP. Devices authenticate with
// a signed bearer token carrying tenant/device claims. The listener itself
// belongs to the shared server; this adapter only contributes routes, so
// Start and Stop are no-ops.
type HTTPAdapter struct {
	secret []byte
	deps   Deps
}

func NewHTTPAdapter(deps Deps, cfg *config.Config) (Adapter, error) {
	if cfg.Security.DeviceTokenSecret == "" {
		return nil, fmt.Errorf("device token secret is required")
	}
	return &HTTPAdapter{
		secret: []byte(cfg.Security.DeviceTokenSecret),
		deps:   deps,
	}, nil
}

func (a *HTTPAdapter) Protocol() string { return ProtocolHTTP }

func (a *HTTPAdapter) Start(_ context.Context) error { return nil }

func (a *HTTPAdapter) Stop() error { return nil }

// RegisterRoutes mounts the ingestion endpoint on the shared router.
func (a *HTTPAdapter) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ingest/http", a.handleIngest).Methods(http.MethodPost)
}

func (a *HTTPAdapter) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := bearerToken(r)
	identity, err := a.Authenticate(ctx, Credentials{Token: token})
	if err != nil {
		a.deps.Metrics.AuthFailures.WithLabelValues(ProtocolHTTP).Inc()
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid device token"})
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

	decoded, observedAt, err := a.decodeBody(r)
	if err != nil {
		a.deps.Metrics.ParseFailures.WithLabelValues(ProtocolHTTP).Inc()
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	events, _ := a.deps.Normalizer.Normalize(identity, dataModel, decoded, observedAt)
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
		a.deps.Metrics.EventsIngested.WithLabelValues(ProtocolHTTP).Inc()
		accepted++
	}

	respondJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

// decodeBody accepts a JSON object or a form-encoded body of metric/value
// pairs. The optional "ts" member carries epoch-seconds observation time.
func (a *HTTPAdapter) decodeBody(r *http.Request) (map[string]interface{}, time.Time, error) {
	observedAt := time.Now()
	decoded := make(map[string]interface{})

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, observedAt, &ParseError{Protocol: ProtocolHTTP, Reason: err}
		}
		for key, values := range r.PostForm {
			if len(values) == 0 {
				continue
			}
			if f, err := strconv.ParseFloat(values[0], 64); err == nil {
				decoded[key] = f
			} else {
				// Leave the raw string; the normalizer flags the mismatch.
				decoded[key] = values[0]
			}
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&decoded); err != nil {
			return nil, observedAt, &ParseError{Protocol: ProtocolHTTP, Reason: err}
		}
	}

	if ts, ok := decoded["ts"].(float64); ok {
		observedAt = time.Unix(int64(ts), 0)
	}
	delete(decoded, "ts")

	return decoded, observedAt, nil
}

// Authenticate verifies the device token signature and extracts the
// tenant/device claims.
func (a *HTTPAdapter) Authenticate(_ context.Context, creds Credentials) (models.DeviceIdentity, error) {
	if creds.Token == "" {
		return models.DeviceIdentity{}, &AuthError{Protocol: ProtocolHTTP, Reason: fmt.Errorf("missing bearer token")}
	}

	parsed, err := jwt.Parse(creds.Token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return models.DeviceIdentity{}, &AuthError{Protocol: ProtocolHTTP, Reason: err}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return models.DeviceIdentity{}, &AuthError{Protocol: ProtocolHTTP, Reason: fmt.Errorf("invalid token claims")}
	}

	tenantID, _ := claims["tenant_id"].(string)
	deviceID, _ := claims["device_id"].(string)
	if tenantID == "" || deviceID == "" {
		return models.DeviceIdentity{}, &AuthError{Protocol: ProtocolHTTP, Reason: fmt.Errorf("token missing tenant/device claims")}
	}

	return models.DeviceIdentity{TenantID: tenantID, DeviceID: deviceID}, nil
}

// Parse exists for contract symmetry; HTTP decoding happens in decodeBody
// where the request carries the encoding information.
func (a *HTTPAdapter) Parse(identity models.DeviceIdentity, dataModel models.DeviceDataModel, payload []byte) ([]models.CanonicalEvent, error) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &ParseError{Protocol: ProtocolHTTP, Reason: err}
	}
	observedAt := time.Now()
	if ts, ok := decoded["ts"].(float64); ok {
		observedAt = time.Unix(int64(ts), 0)
	}
	delete(decoded, "ts")
	events, _ := a.deps.Normalizer.Normalize(identity, dataModel, decoded, observedAt)
	return events, nil
}

func (a *HTTPAdapter) Publish(_ context.Context, _ models.Command) error {
	return ErrPublishUnsupported
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
