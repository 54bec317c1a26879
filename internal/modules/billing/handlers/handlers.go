// Package handlers serves the billing plan catalog and the payment-provider
// webhook receiver. Checkout itself happens on the provider's hosted pages.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

// PlanInfo describes one purchasable plan
type PlanInfo struct {
	ID       domain.Plan `json:"id"`
	Name     string      `json:"name"`
	PriceUSD float64     `json:"price_usd"`
	Interval string      `json:"interval"`
	Features []string    `json:"features"`
}

var plans = []PlanInfo{
	{
		ID:       domain.PlanFree,
		Name:     "Free",
		PriceUSD: 0,
		Interval: "forever",
		Features: []string{"Manual assets", "Net worth tracking", "Monthly insights"},
	},
	{
		ID:       domain.PlanPro,
		Name:     "Pro",
		PriceUSD: 8,
		Interval: "month",
		Features: []string{"Bank sync", "Forecasting", "Alerts", "Subscription detection"},
	},
	{
		ID:       domain.PlanLifetime,
		Name:     "Lifetime",
		PriceUSD: 199,
		Interval: "once",
		Features: []string{"Everything in Pro, forever"},
	},
}

// Handler handles billing HTTP requests
type Handler struct {
	log zerolog.Logger
}

// NewHandler creates a new billing handler
func NewHandler(log zerolog.Logger) *Handler {
	return &Handler{log: log.With().Str("handler", "billing").Logger()}
}

// RegisterRoutes mounts the unauthenticated billing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.HandlePlans)
	r.Post("/webhook", h.HandleWebhook)
}

// HandlePlans returns the plan catalog
func (h *Handler) HandlePlans(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": plans})
}

// HandleWebhook acknowledges payment-provider events. Events are logged and
// dropped until plan provisioning lands.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	var event struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &event)
	h.log.Info().Str("type", event.Type).Int("bytes", len(body)).Msg("Billing webhook received")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
