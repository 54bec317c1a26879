// Package handlers serves the manual-assets REST surface.
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/amortization"
	"github.com/aristath/moneta/internal/assets"
	"github.com/aristath/moneta/internal/auth"
	"github.com/aristath/moneta/internal/domain"
)

// Handler handles manual-asset HTTP requests
type Handler struct {
	repo *assets.Repository
	log  zerolog.Logger
}

// NewHandler creates a new assets handler
func NewHandler(repo *assets.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "assets").Logger(),
	}
}

// RegisterRoutes mounts the asset routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleCreate)
	r.Get("/{id}", h.HandleGet)
	r.Put("/{id}", h.HandleUpdate)
	r.Delete("/{id}", h.HandleDelete)
	r.Get("/{id}/history", h.HandleHistory)
	r.Get("/{id}/amortization", h.HandleAmortization)
	r.Get("/{id}/payments", h.HandlePayments)
	r.Post("/{id}/note-payment", h.HandleNotePayment)
}

// HandleList returns the user's active assets
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListActive(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load assets")
		return
	}
	if list == nil {
		list = []domain.ManualAsset{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": list})
}

type createAssetRequest struct {
	AssetType       string   `json:"asset_type"`
	Name            string   `json:"name"`
	CurrentValue    float64  `json:"current_value"`
	ValuationSource string   `json:"valuation_source"`
	Address         string   `json:"address"`
	NotePrincipal   *float64 `json:"note_principal"`
	NoteRate        *float64 `json:"note_rate"`
	NoteStartDate   *string  `json:"note_start_date"`
	NoteTermMonths  *int     `json:"note_term_months"`
}

// HandleCreate adds a manual asset
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AssetType == "" {
		h.writeError(w, http.StatusBadRequest, "asset_type is required")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	asset := &domain.ManualAsset{
		UserID:          auth.UserID(r.Context()),
		AssetType:       req.AssetType,
		Name:            req.Name,
		CurrentValue:    req.CurrentValue,
		ValuationSource: req.ValuationSource,
		Active:          true,
		Address:         req.Address,
		NotePrincipal:   req.NotePrincipal,
		NoteRate:        req.NoteRate,
		NoteStartDate:   req.NoteStartDate,
		NoteTermMonths:  req.NoteTermMonths,
	}
	if asset.ValuationSource == "" {
		asset.ValuationSource = "manual"
	}
	if err := h.repo.Create(asset); err != nil {
		h.log.Error().Err(err).Msg("Failed to create asset")
		h.writeError(w, http.StatusInternalServerError, "Failed to create asset")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": asset})
}

// HandleGet returns one asset
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.loadAsset(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": asset})
}

// HandleUpdate applies an allowlisted field map to an asset
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fields := make(map[string]interface{})
	for name, value := range body {
		if col, ok := assets.AllowedField(name); ok {
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
			h.writeError(w, http.StatusNotFound, "Asset not found")
			return
		}
		h.log.Error().Err(err).Str("asset", id).Msg("Failed to update asset")
		h.writeError(w, http.StatusInternalServerError, "Failed to update asset")
		return
	}

	asset, err := h.repo.Get(id, userID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load asset")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": asset})
}

// HandleDelete deactivates an asset
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.Delete(id, auth.UserID(r.Context())); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "Asset not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to delete asset")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleHistory returns the valuation history for an asset
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.loadAsset(w, r)
	if !ok {
		return
	}
	entries, err := h.repo.ValueHistory(asset.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	if entries == nil {
		entries = []domain.ValueHistoryEntry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": entries})
}

// HandleAmortization returns the full schedule for a note asset
func (h *Handler) HandleAmortization(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.loadAsset(w, r)
	if !ok {
		return
	}
	if !asset.HasNoteSchedule() {
		h.writeError(w, http.StatusBadRequest, "Asset has no note schedule")
		return
	}

	start, err := time.Parse("2006-01-02", *asset.NoteStartDate)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Asset has an invalid note start date")
		return
	}
	result, err := amortization.Compute(amortization.Input{
		Principal:       *asset.NotePrincipal,
		AnnualRate:      *asset.NoteRate,
		TermMonths:      *asset.NoteTermMonths,
		StartDate:       start,
		IncludeSchedule: true,
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": result})
}

// HandlePayments returns the recorded payments for a note asset
func (h *Handler) HandlePayments(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.loadAsset(w, r)
	if !ok {
		return
	}
	payments, err := h.repo.NotePayments(asset.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load payments")
		return
	}
	if payments == nil {
		payments = []domain.NotePayment{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": payments})
}

type notePaymentRequest struct {
	Amount      float64 `json:"amount"`
	PaymentDate string  `json:"payment_date"`
}

// HandleNotePayment records a payment against a note, splitting principal and
// interest at the current balance and rate.
func (h *Handler) HandleNotePayment(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.loadAsset(w, r)
	if !ok {
		return
	}
	if !asset.HasNoteSchedule() {
		h.writeError(w, http.StatusBadRequest, "Asset has no note schedule")
		return
	}

	var req notePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	date := req.PaymentDate
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	principal, interest := amortization.SplitPayment(asset.CurrentValue, *asset.NoteRate, req.Amount)
	balanceAfter := asset.CurrentValue - principal
	if balanceAfter < 0 {
		balanceAfter = 0
	}

	payment := &domain.NotePayment{
		AssetID:      asset.ID,
		PaymentDate:  date,
		Amount:       req.Amount,
		Principal:    principal,
		Interest:     interest,
		BalanceAfter: balanceAfter,
	}
	if err := h.repo.RecordNotePayment(payment); err != nil {
		h.log.Error().Err(err).Str("asset", asset.ID).Msg("Failed to record note payment")
		h.writeError(w, http.StatusInternalServerError, "Failed to record payment")
		return
	}
	if err := h.repo.UpdateValue(asset.ID, balanceAfter, "payment", date); err != nil {
		h.log.Warn().Err(err).Str("asset", asset.ID).Msg("Failed to update note balance")
	}
	if err := h.repo.RecordValue(asset.ID, date, balanceAfter, "payment"); err != nil {
		h.log.Warn().Err(err).Str("asset", asset.ID).Msg("Failed to record valuation")
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": payment})
}

// loadAsset fetches the asset in the URL scoped to the requester
func (h *Handler) loadAsset(w http.ResponseWriter, r *http.Request) (*domain.ManualAsset, bool) {
	asset, err := h.repo.Get(chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "Asset not found")
			return nil, false
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to load asset")
		return nil, false
	}
	return asset, true
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
