// Package handlers serves the forecasting REST surface.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/auth"
	"github.com/aristath/moneta/internal/forecast"
)

// Handler handles forecasting HTTP requests
type Handler struct {
	repo       *forecast.Repository
	forecaster *forecast.Forecaster
	log        zerolog.Logger
}

// NewHandler creates a new forecasting handler
func NewHandler(repo *forecast.Repository, forecaster *forecast.Forecaster, log zerolog.Logger) *Handler {
	return &Handler{
		repo:       repo,
		forecaster: forecaster,
		log:        log.With().Str("handler", "forecasting").Logger(),
	}
}

// RegisterRoutes mounts the forecasting routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/latest", h.HandleLatest)
	r.Get("/history", h.HandleHistory)
	r.Post("/generate", h.HandleGenerate)
	r.Post("/whatif", h.HandleWhatIf)
	r.Get("/{id}", h.HandleGet)
}

// HandleLatest returns the newest stored forecast
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	snap, err := h.repo.Latest(auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, forecast.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "No forecast yet")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to load forecast")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": snap})
}

// HandleHistory lists stored forecasts, newest first
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	snaps, err := h.repo.History(auth.UserID(r.Context()), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load forecasts")
		return
	}
	if snaps == nil {
		snaps = []forecast.Snapshot{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": snaps})
}

// HandleGet returns one stored forecast
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := h.repo.Get(chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, forecast.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Forecast not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to load forecast")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": snap})
}

type forecastRequest struct {
	HorizonMonths  int     `json:"horizonMonths"`
	WithdrawalRate float64 `json:"withdrawalRate"`
	InflationRate  float64 `json:"inflationRate"`
}

// HandleGenerate runs and persists a forecast
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.forecaster.Generate)
}

// HandleWhatIf runs a forecast with custom assumptions without storing it
func (h *Handler) HandleWhatIf(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.forecaster.WhatIf)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, userID string, opts forecast.Options) (*forecast.Snapshot, error)) {
	var req forecastRequest
	if r.Body != nil {
		// An empty body means defaults
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	snap, err := fn(r.Context(), auth.UserID(r.Context()), forecast.Options{
		HorizonMonths:  req.HorizonMonths,
		WithdrawalRate: req.WithdrawalRate,
		InflationRate:  req.InflationRate,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Forecast run failed")
		h.writeError(w, http.StatusInternalServerError, "Forecast failed")
		return
	}
	if snap == nil {
		h.writeError(w, http.StatusBadRequest, "Not enough snapshot history to forecast (need 5)")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": snap})
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
