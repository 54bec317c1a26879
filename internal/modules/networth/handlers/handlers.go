// Package handlers serves the net-worth REST surface.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/auth"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/networth"
)

// Handler handles net-worth HTTP requests
type Handler struct {
	repo    *networth.Repository
	service *networth.Service
	log     zerolog.Logger
}

// NewHandler creates a new net-worth handler
func NewHandler(repo *networth.Repository, service *networth.Service, log zerolog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		service: service,
		log:     log.With().Str("handler", "networth").Logger(),
	}
}

// RegisterRoutes mounts the net-worth routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/current", h.HandleCurrent)
	r.Get("/history", h.HandleHistory)
	r.Get("/breakdown", h.HandleBreakdown)
	r.Post("/snapshot", h.HandleSnapshot)
}

// HandleCurrent returns the newest snapshot
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	snap, err := h.repo.Latest(auth.UserID(r.Context()), 0)
	if err != nil {
		if errors.Is(err, networth.ErrNoSnapshot) {
			h.writeError(w, http.StatusNotFound, "No snapshot yet")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to load snapshot")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": snap})
}

// HandleHistory returns snapshots, oldest first
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 365
	if raw := r.URL.Query().Get("days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	snaps, err := h.repo.History(auth.UserID(r.Context()), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	if snaps == nil {
		snaps = []domain.NetWorthSnapshot{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": snaps})
}

// HandleBreakdown returns the newest snapshot's per-account breakdown
func (h *Handler) HandleBreakdown(w http.ResponseWriter, r *http.Request) {
	snap, err := h.repo.Latest(auth.UserID(r.Context()), 0)
	if err != nil {
		if errors.Is(err, networth.ErrNoSnapshot) {
			h.writeError(w, http.StatusNotFound, "No snapshot yet")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to load snapshot")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": snap.Breakdown})
}

// HandleSnapshot computes and stores a snapshot right now
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Msg("On-demand snapshot failed")
		h.writeError(w, http.StatusInternalServerError, "Snapshot failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": snap})
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
