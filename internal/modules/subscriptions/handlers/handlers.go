// Package handlers serves the detected-subscriptions REST surface.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/auth"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/subscriptions"
)

// Handler handles subscription HTTP requests
type Handler struct {
	repo     *subscriptions.Repository
	detector *subscriptions.Detector
	log      zerolog.Logger
}

// NewHandler creates a new subscriptions handler
func NewHandler(repo *subscriptions.Repository, detector *subscriptions.Detector, log zerolog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		detector: detector,
		log:      log.With().Str("handler", "subscriptions").Logger(),
	}
}

// RegisterRoutes mounts the subscription routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/detect", h.HandleDetect)
	r.Delete("/{merchant}", h.HandleDelete)
}

// HandleList returns detected subscriptions, most recently seen first
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	subs, err := h.repo.List(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load subscriptions")
		return
	}
	if subs == nil {
		subs = []domain.DetectedSubscription{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": subs})
}

// HandleDetect runs the recurring-charge scan on demand
func (h *Handler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	found, err := h.detector.Detect(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Msg("Subscription detection failed")
		h.writeError(w, http.StatusInternalServerError, "Detection failed")
		return
	}
	if found == nil {
		found = []domain.DetectedSubscription{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": found})
}

// HandleDelete unflags a merchant so future detections alert again
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(auth.UserID(r.Context()), chi.URLParam(r, "merchant")); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to delete subscription")
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
