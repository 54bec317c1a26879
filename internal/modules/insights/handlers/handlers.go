// Package handlers serves the monthly-insights REST surface.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/auth"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/insights"
)

// Handler handles insights HTTP requests
type Handler struct {
	repo    *insights.Repository
	service *insights.Service
	log     zerolog.Logger
}

// NewHandler creates a new insights handler
func NewHandler(repo *insights.Repository, service *insights.Service, log zerolog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		service: service,
		log:     log.With().Str("handler", "insights").Logger(),
	}
}

// RegisterRoutes mounts the insights routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Get("/latest", h.HandleLatest)
	r.Get("/spending", h.HandleSpending)
	r.Get("/categories", h.HandleCategories)
	r.Get("/savings-rate", h.HandleSavingsRate)
	r.Get("/emergency-fund", h.HandleEmergencyFund)
	r.Post("/generate", h.HandleGenerate)
}

// HandleList returns stored insights, newest month first
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 24
	if raw := r.URL.Query().Get("months"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	list, err := h.repo.List(auth.UserID(r.Context()), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load insights")
		return
	}
	if list == nil {
		list = []domain.MonthlyInsight{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": list})
}

// HandleLatest returns the most recent stored insight
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	insight, ok := h.latest(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": insight})
}

// HandleSpending returns the latest month's top merchants
func (h *Handler) HandleSpending(w http.ResponseWriter, r *http.Request) {
	insight, ok := h.latest(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
		"expenses":     insight.Expenses,
		"topMerchants": insight.TopMerchants,
	}})
}

// HandleCategories returns the latest month's category totals
func (h *Handler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	insight, ok := h.latest(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": insight.CategoryTotals})
}

// HandleSavingsRate returns the latest month's savings rate
func (h *Handler) HandleSavingsRate(w http.ResponseWriter, r *http.Request) {
	insight, ok := h.latest(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]float64{
		"income":      insight.Income,
		"expenses":    insight.Expenses,
		"savingsRate": insight.SavingsRate,
	}})
}

// HandleEmergencyFund reports liquid runway in months
func (h *Handler) HandleEmergencyFund(w http.ResponseWriter, r *http.Request) {
	fund, err := h.service.EmergencyFund(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to compute emergency fund")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": fund})
}

type generateRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// HandleGenerate builds the insight for a month on demand; defaults to the
// current month.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	now := time.Now()
	if req.Year == 0 {
		req.Year = now.Year()
	}
	if req.Month == 0 {
		req.Month = int(now.Month())
	}
	if req.Month < 1 || req.Month > 12 {
		h.writeError(w, http.StatusBadRequest, "month must be between 1 and 12")
		return
	}

	insight, err := h.service.Generate(r.Context(), auth.UserID(r.Context()), req.Year, req.Month)
	if err != nil {
		h.log.Error().Err(err).Msg("Insight generation failed")
		h.writeError(w, http.StatusInternalServerError, "Insight generation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": insight})
}

func (h *Handler) latest(w http.ResponseWriter, r *http.Request) (*domain.MonthlyInsight, bool) {
	insight, err := h.repo.Latest(auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, insights.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "No insights yet")
			return nil, false
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to load insight")
		return nil, false
	}
	return insight, true
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
