// Package handlers serves the alerts REST surface: history, rules, and the
// test-fire endpoint.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/alerts"
	"github.com/aristath/moneta/internal/auth"
)

// Handler handles alert HTTP requests
type Handler struct {
	repo   *alerts.Repository
	engine *alerts.Engine
	log    zerolog.Logger
}

// NewHandler creates a new alerts handler
func NewHandler(repo *alerts.Repository, engine *alerts.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		engine: engine,
		log:    log.With().Str("handler", "alerts").Logger(),
	}
}

// RegisterRoutes mounts the alert routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Get("/unread-count", h.HandleUnreadCount)
	r.Post("/test", h.HandleTest)
	r.Put("/{id}/read", h.HandleMarkRead)
	r.Delete("/{id}", h.HandleDelete)

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.HandleListRules)
		r.Post("/", h.HandleCreateRule)
		r.Put("/{id}", h.HandleUpdateRule)
		r.Delete("/{id}", h.HandleDeleteRule)
	})
}

// HandleList returns alert history with optional unread/severity filters
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := alerts.HistoryFilter{
		UnreadOnly: r.URL.Query().Get("unread") == "true",
		Severity:   r.URL.Query().Get("severity"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	entries, err := h.repo.ListHistory(auth.UserID(r.Context()), filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load alerts")
		return
	}
	if entries == nil {
		entries = []alerts.HistoryEntry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": entries})
}

// HandleUnreadCount returns the unread alert count
func (h *Handler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.repo.UnreadCount(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to count alerts")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]int{"unread": count}})
}

// HandleMarkRead marks one alert read
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	err := h.repo.MarkRead(chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Alert not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to mark alert read")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleDelete removes one alert
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	err := h.repo.DeleteHistory(chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Alert not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to delete alert")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleTest fires a synthetic event through the engine so the user can
// verify their rules and push transport.
func (h *Handler) HandleTest(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	balance := 10.0
	delivered := h.engine.Evaluate(r.Context(), alerts.Event{
		Type:        alerts.EventLowBalance,
		UserID:      userID,
		AccountName: "Test Account",
		Balance:     &balance,
		Description: "Test alert",
	})
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]int{"delivered": delivered}})
}

// HandleListRules returns the user's alert rules
func (h *Handler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.repo.ListRules(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load rules")
		return
	}
	if rules == nil {
		rules = []alerts.Rule{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": rules})
}

type ruleRequest struct {
	RuleType   string   `json:"rule_type"`
	Threshold  *float64 `json:"threshold"`
	Filter     string   `json:"filter"`
	Severity   string   `json:"severity"`
	Enabled    *bool    `json:"enabled"`
	NotifyPush *bool    `json:"notify_push"`
}

// HandleCreateRule adds an alert rule
func (h *Handler) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RuleType == "" {
		h.writeError(w, http.StatusBadRequest, "rule_type is required")
		return
	}

	rule := &alerts.Rule{
		UserID:     auth.UserID(r.Context()),
		RuleType:   alerts.EventType(req.RuleType),
		Threshold:  req.Threshold,
		Filter:     req.Filter,
		Severity:   alerts.Severity(req.Severity),
		Enabled:    true,
		NotifyPush: true,
	}
	if rule.Severity == "" {
		rule.Severity = alerts.SeverityMedium
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.NotifyPush != nil {
		rule.NotifyPush = *req.NotifyPush
	}

	if err := h.repo.CreateRule(rule); err != nil {
		h.log.Error().Err(err).Msg("Failed to create rule")
		h.writeError(w, http.StatusInternalServerError, "Failed to create rule")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": rule})
}

// HandleUpdateRule modifies a rule scoped to its owner
func (h *Handler) HandleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rule := &alerts.Rule{
		ID:         chi.URLParam(r, "id"),
		UserID:     auth.UserID(r.Context()),
		Threshold:  req.Threshold,
		Filter:     req.Filter,
		Severity:   alerts.Severity(req.Severity),
		Enabled:    true,
		NotifyPush: true,
	}
	if rule.Severity == "" {
		rule.Severity = alerts.SeverityMedium
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.NotifyPush != nil {
		rule.NotifyPush = *req.NotifyPush
	}

	if err := h.repo.UpdateRule(rule); err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Rule not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to update rule")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": rule})
}

// HandleDeleteRule removes a rule
func (h *Handler) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	err := h.repo.DeleteRule(chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Rule not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to delete rule")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
