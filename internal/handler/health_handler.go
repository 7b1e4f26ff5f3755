package handler

import (
	"context"
	"net/http"
	"time"

	"FleetAlertEngine/internal/database"
	"FleetAlertEngine/internal/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// BrokerStatus reports the MQTT adapter's connection state.
type BrokerStatus interface {
	IsConnected() bool
}

type HealthHandler struct {
	db     *database.Database
	broker BrokerStatus
	log    *zap.Logger
}

func NewHealthHandler(db *database.Database, broker BrokerStatus, log *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		broker: broker,
		log:    log,
	}
}

func (h *HealthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/health/live", h.Liveness).Methods("GET")
	r.HandleFunc("/health/ready", h.Readiness).Methods("GET")
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	dbErr := h.db.Health(ctx)
	response.Services.Database = (dbErr == nil)
	response.Services.MQTT = h.broker.IsConnected()

	if !response.Services.Database || !response.Services.MQTT {
		response.Status = "degraded"
		h.log.Warn("health check degraded",
			zap.Bool("database", response.Services.Database),
			zap.Bool("mqtt", response.Services.MQTT),
		)
	}

	statusCode := http.StatusOK
	if response.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	respondJSON(w, statusCode, response)
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbErr := h.db.Health(ctx)
	mqttConnected := h.broker.IsConnected()

	if dbErr != nil || !mqttConnected {
		h.log.Warn("readiness check failed",
			zap.Error(dbErr),
			zap.Bool("mqtt_connected", mqttConnected),
		)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
