// Package handlers serves the insurance-policies REST surface.
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/auth"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/insurance"
)

// Handler handles insurance HTTP requests
type Handler struct {
	repo *insurance.Repository
	log  zerolog.Logger
}

// NewHandler creates a new insurance handler
func NewHandler(repo *insurance.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "insurance").Logger(),
	}
}

// RegisterRoutes mounts the insurance routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleCreate)
	r.Get("/{id}", h.HandleGet)
	r.Put("/{id}", h.HandleUpdate)
	r.Delete("/{id}", h.HandleDelete)
}

// HandleList returns the user's policies
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	policies, err := h.repo.List(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load policies")
		return
	}
	if policies == nil {
		policies = []domain.InsurancePolicy{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": policies})
}

type createPolicyRequest struct {
	PolicyType       string  `json:"policy_type"`
	Provider         string  `json:"provider"`
	CoverageAmount   float64 `json:"coverage_amount"`
	Premium          float64 `json:"premium"`
	PremiumFrequency string  `json:"premium_frequency"`
	RenewalDate      string  `json:"renewal_date"`
	Notes            string  `json:"notes"`
}

// HandleCreate adds a policy
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PolicyType == "" {
		h.writeError(w, http.StatusBadRequest, "policy_type is required")
		return
	}
	if req.PremiumFrequency == "" {
		req.PremiumFrequency = "monthly"
	}

	policy := &domain.InsurancePolicy{
		UserID:           auth.UserID(r.Context()),
		PolicyType:       req.PolicyType,
		Provider:         req.Provider,
		CoverageAmount:   req.CoverageAmount,
		Premium:          req.Premium,
		PremiumFrequency: req.PremiumFrequency,
		RenewalDate:      req.RenewalDate,
		Notes:            req.Notes,
	}
	if err := h.repo.Create(policy); err != nil {
		h.log.Error().Err(err).Msg("Failed to create policy")
		h.writeError(w, http.StatusInternalServerError, "Failed to create policy")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": policy})
}

// HandleGet returns one policy
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	policy, err := h.repo.Get(chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "Policy not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to load policy")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": policy})
}

// HandleUpdate applies an allowlisted field map to a policy
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fields := make(map[string]interface{})
	for name, value := range body {
		if col, ok := insurance.AllowedField(name); ok {
			fields[col] = value
		}
	}
	if len(fields) == 0 {
		h.writeError(w, http.StatusBadRequest, "No valid fields")
		return
	}

	id := chi.URLParam(r, "id")
	userID := auth.UserID(r.Context())
	if err := h.repo.Update(id, userID, fields); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "Policy not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to update policy")
		return
	}

	policy, err := h.repo.Get(id, userID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load policy")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": policy})
}

// HandleDelete removes a policy
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(chi.URLParam(r, "id"), auth.UserID(r.Context())); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "Policy not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to delete policy")
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
