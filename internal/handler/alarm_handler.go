package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"FleetAlertEngine/internal/alarm"
	"FleetAlertEngine/internal/repository"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AlarmHandler exposes the operator-facing alarm lifecycle. Tenant identity
// arrives in the X-Tenant-ID header, stamped by the gateway in front of this
// service.
type AlarmHandler struct {
	manager *alarm.Manager
	repo    *repository.AlarmRepository
	log     *zap.Logger
}

func NewAlarmHandler(manager *alarm.Manager, repo *repository.AlarmRepository, log *zap.Logger) *AlarmHandler {
	return &AlarmHandler{
		manager: manager,
		repo:    repo,
		log:     log,
	}
}

func (h *AlarmHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/alarms", h.List).Methods("GET")
	r.HandleFunc("/alarms/{id}", h.Get).Methods("GET")
	r.HandleFunc("/alarms/{id}/acknowledge", h.Acknowledge).Methods("PUT")
	r.HandleFunc("/alarms/{id}/clear", h.Clear).Methods("PUT")
}

func (h *AlarmHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "missing tenant")
		return
	}

	status := r.URL.Query().Get("status")
	alarms, err := h.repo.ListByTenant(r.Context(), tenantID, status, 100)
	if err != nil {
		h.log.Error("failed to list alarms", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list alarms")
		return
	}

	respondJSON(w, http.StatusOK, alarms)
}

func (h *AlarmHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "missing tenant")
		return
	}

	a, err := h.repo.Get(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		h.log.Error("failed to get alarm", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get alarm")
		return
	}
	if a == nil {
		respondError(w, http.StatusNotFound, "alarm not found")
		return
	}

	respondJSON(w, http.StatusOK, a)
}

type acknowledgeRequest struct {
	Operator string `json:"operator"`
	Comment  string `json:"comment"`
}

func (h *AlarmHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "missing tenant")
		return
	}

	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Operator == "" {
		respondError(w, http.StatusBadRequest, "operator is required")
		return
	}

	alarmID := mux.Vars(r)["id"]
	err := h.manager.Acknowledge(r.Context(), tenantID, alarmID, req.Operator, req.Comment)
	if err != nil {
		h.respondTransitionError(w, alarmID, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (h *AlarmHandler) Clear(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "missing tenant")
		return
	}

	alarmID := mux.Vars(r)["id"]
	err := h.manager.Clear(r.Context(), tenantID, alarmID)
	if err != nil {
		h.respondTransitionError(w, alarmID, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *AlarmHandler) respondTransitionError(w http.ResponseWriter, alarmID string, err error) {
	switch {
	case errors.Is(err, alarm.ErrNotFound):
		respondError(w, http.StatusNotFound, "alarm not found")
	case errors.Is(err, alarm.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("alarm transition failed",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "alarm update failed")
	}
}

func tenantFrom(r *http.Request) string {
	return r.Header.Get("X-Tenant-ID")
}
