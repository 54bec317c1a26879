// Package handlers serves the bank-aggregator REST surface: link lifecycle,
// mirrored accounts and transactions, and the webhook receiver.
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/aggregator"
	"github.com/aristath/moneta/internal/auth"
	"github.com/aristath/moneta/internal/crypto"
	"github.com/aristath/moneta/internal/domain"
)

// Handler handles aggregator HTTP requests
type Handler struct {
	client *aggregator.Client
	repo   *aggregator.Repository
	sync   *aggregator.SyncService
	sealer *crypto.Sealer
	log    zerolog.Logger
}

// NewHandler creates a new aggregator handler
func NewHandler(
	client *aggregator.Client,
	repo *aggregator.Repository,
	sync *aggregator.SyncService,
	sealer *crypto.Sealer,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		client: client,
		repo:   repo,
		sync:   sync,
		sealer: sealer,
		log:    log.With().Str("handler", "plaid").Logger(),
	}
}

// RegisterRoutes mounts the authenticated aggregator routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/link-token", h.HandleLinkToken)
	r.Post("/exchange", h.HandleExchange)
	r.Get("/items", h.HandleListItems)
	r.Delete("/items/{itemId}", h.HandleDeleteItem)
	r.Post("/sync/{itemId}", h.HandleSyncItem)
	r.Post("/sync-all", h.HandleSyncAll)
	r.Get("/accounts", h.HandleListAccounts)
	r.Patch("/accounts/{id}", h.HandleUpdateAccount)
	r.Get("/transactions", h.HandleListTransactions)
}

// HandleLinkToken starts a link flow
func (h *Handler) HandleLinkToken(w http.ResponseWriter, r *http.Request) {
	if !h.client.Configured() {
		h.writeError(w, http.StatusServiceUnavailable, "Aggregator is not configured")
		return
	}
	token, err := h.client.CreateLinkToken(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Msg("Link token creation failed")
		h.writeError(w, http.StatusBadGateway, "Failed to create link token")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]string{"link_token": token}})
}

type exchangeRequest struct {
	PublicToken     string `json:"public_token"`
	InstitutionID   string `json:"institution_id"`
	InstitutionName string `json:"institution_name"`
}

// HandleExchange trades the link public token for an access token, seals it,
// stores the link, mirrors its accounts, and kicks off the first sync.
func (h *Handler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PublicToken == "" {
		h.writeError(w, http.StatusBadRequest, "public_token is required")
		return
	}

	accessToken, itemID, err := h.client.ExchangePublicToken(r.Context(), req.PublicToken)
	if err != nil {
		h.log.Error().Err(err).Msg("Public token exchange failed")
		h.writeError(w, http.StatusBadGateway, "Token exchange failed")
		return
	}

	sealed := accessToken
	if h.sealer != nil {
		sealed, err = h.sealer.Seal(accessToken)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to seal access token")
			h.writeError(w, http.StatusInternalServerError, "Failed to store link")
			return
		}
	}

	link := &domain.InstitutionLink{
		UserID:          auth.UserID(r.Context()),
		SourceKind:      "aggregator",
		ItemID:          itemID,
		AccessToken:     sealed,
		InstitutionID:   req.InstitutionID,
		InstitutionName: req.InstitutionName,
		Status:          domain.LinkStatusGood,
	}
	if err := h.repo.CreateLink(link); err != nil {
		h.log.Error().Err(err).Msg("Failed to store link")
		h.writeError(w, http.StatusInternalServerError, "Failed to store link")
		return
	}

	if err := h.sync.MirrorAccounts(r.Context(), link); err != nil {
		h.log.Warn().Err(err).Str("link", link.ID).Msg("Initial account mirror failed")
	}
	h.background(func(ctx context.Context) {
		if _, err := h.sync.SyncLink(ctx, link); err != nil {
			h.log.Error().Err(err).Str("link", link.ID).Msg("Initial sync failed")
		}
	})

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": link})
}

// HandleListItems returns the user's institution links
func (h *Handler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	links, err := h.repo.ListLinks(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load links")
		return
	}
	if links == nil {
		links = []domain.InstitutionLink{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": links})
}

// HandleDeleteItem revokes the item upstream and removes the link locally.
// The local delete proceeds even if upstream revocation fails.
func (h *Handler) HandleDeleteItem(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	link, err := h.repo.GetLink(chi.URLParam(r, "itemId"), userID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Link not found")
		return
	}

	if h.sealer != nil {
		if token, err := h.sealer.Open(link.AccessToken); err == nil {
			if err := h.client.RemoveItem(r.Context(), token); err != nil {
				h.log.Warn().Err(err).Str("link", link.ID).Msg("Upstream item removal failed")
			}
		}
	}

	if err := h.repo.DeleteLink(link.ID, userID); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to delete link")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleSyncItem runs a delta sync for one link
func (h *Handler) HandleSyncItem(w http.ResponseWriter, r *http.Request) {
	link, err := h.repo.GetLink(chi.URLParam(r, "itemId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Link not found")
		return
	}
	added, err := h.sync.SyncLink(r.Context(), link)
	if err != nil {
		h.log.Error().Err(err).Str("link", link.ID).Msg("Sync failed")
		h.writeError(w, http.StatusBadGateway, "Sync failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]int{"added": added}})
}

// HandleSyncAll starts a background sync of every syncable link
func (h *Handler) HandleSyncAll(w http.ResponseWriter, r *http.Request) {
	h.background(func(ctx context.Context) {
		h.sync.SyncAll(ctx)
	})
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Sync started in background"})
}

// HandleListAccounts returns mirrored accounts
func (h *Handler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.repo.ListAccounts(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load accounts")
		return
	}
	if accounts == nil {
		accounts = []domain.SourceAccount{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": accounts})
}

type updateAccountRequest struct {
	Hidden *bool `json:"hidden"`
}

// HandleUpdateAccount toggles an account's hidden flag
func (h *Handler) HandleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Hidden == nil {
		h.writeError(w, http.StatusBadRequest, "hidden is required")
		return
	}
	err := h.repo.SetAccountHidden(chi.URLParam(r, "id"), auth.UserID(r.Context()), *req.Hidden)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to update account")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleListTransactions returns mirrored transactions, newest first
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	txns, err := h.repo.ListTransactions(auth.UserID(r.Context()), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load transactions")
		return
	}
	if txns == nil {
		txns = []domain.SourceTransaction{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": txns})
}

type webhookPayload struct {
	WebhookType string `json:"webhook_type"`
	WebhookCode string `json:"webhook_code"`
	ItemID      string `json:"item_id"`
	Error       *struct {
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"error"`
}

// HandleWebhook receives aggregator notifications. Always answers 200 so the
// aggregator does not retry; processing happens asynchronously.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.log.Warn().Err(err).Msg("Unparseable webhook")
		w.WriteHeader(http.StatusOK)
		return
	}

	h.log.Info().
		Str("type", payload.WebhookType).
		Str("code", payload.WebhookCode).
		Str("item_id", payload.ItemID).
		Msg("Webhook received")

	switch payload.WebhookType {
	case "TRANSACTIONS":
		itemID := payload.ItemID
		h.background(func(ctx context.Context) {
			h.sync.SyncByItemID(ctx, itemID)
		})
	case "ITEM":
		code := payload.WebhookCode
		message := ""
		if payload.Error != nil {
			code = payload.Error.ErrorCode
			message = payload.Error.ErrorMessage
		}
		if payload.WebhookCode == "ERROR" || payload.WebhookCode == "PENDING_EXPIRATION" {
			h.sync.HandleItemStatus(payload.ItemID, code, message)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// background runs fn detached from the request, with a panic guard and its
// own timeout.
func (h *Handler) background(fn func(ctx context.Context)) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				h.log.Error().Interface("panic", rec).Msg("Background task panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		fn(ctx)
	}()
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
