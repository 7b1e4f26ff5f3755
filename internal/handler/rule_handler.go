package handler

import (
	"encoding/json"
	"net/http"

	"FleetAlertEngine/internal/engine"
	"FleetAlertEngine/internal/models"
	"FleetAlertEngine/internal/repository"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RuleHandler manages alert rules and the fire history. Rule writes go to
// the store first; the engine picks them up on the next index sync, which
// the sync endpoint can force.
type RuleHandler struct {
	rules  *repository.RuleRepository
	events *repository.AlertEventRepository
	engine *engine.Engine
	log    *zap.Logger
}

func NewRuleHandler(rules *repository.RuleRepository, events *repository.AlertEventRepository, eng *engine.Engine, log *zap.Logger) *RuleHandler {
	return &RuleHandler{
		rules:  rules,
		events: events,
		engine: eng,
		log:    log,
	}
}

func (h *RuleHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/rules", h.Create).Methods("POST")
	r.HandleFunc("/rules/sync", h.Sync).Methods("POST")
	r.HandleFunc("/rules/{id}", h.Get).Methods("GET")
	r.HandleFunc("/alert-events", h.ListEvents).Methods("GET")
}

func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "missing tenant")
		return
	}

	var rule models.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule.TenantID = tenantID
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if err := rule.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.rules.Create(r.Context(), &rule); err != nil {
		h.log.Error("failed to create rule", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "missing tenant")
		return
	}

	rule, err := h.rules.GetByID(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		h.log.Error("failed to get rule", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	if rule == nil {
		respondError(w, http.StatusNotFound, "rule not found")
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Sync rebuilds the engine's rule index from the store immediately instead
// of waiting for the periodic refresh.
func (h *RuleHandler) Sync(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.ListEnabled(r.Context())
	if err != nil {
		h.log.Error("failed to load rules for sync", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "rule sync failed")
		return
	}

	h.engine.ReplaceRules(rules)
	h.log.Info("rule index replaced", zap.Int("rules", len(rules)))

	respondJSON(w, http.StatusOK, map[string]int{"rules": len(rules)})
}

func (h *RuleHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "missing tenant")
		return
	}

	events, err := h.events.ListByTenant(r.Context(), tenantID, 100)
	if err != nil {
		h.log.Error("failed to list alert events", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list alert events")
		return
	}

	respondJSON(w, http.StatusOK, events)
}
