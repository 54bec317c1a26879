package categorize

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/alerts"
)

// newMerchantFloor is the minimum charge for a first-time merchant to count
// as an anomaly; smaller first purchases are noise.
const newMerchantFloor = 100.0

// anomalyMultiple flags charges above this multiple of the 90-day average
const anomalyMultiple = 2.5

// EventSink receives anomaly events; satisfied by the alert engine
type EventSink interface {
	Evaluate(ctx context.Context, event alerts.Event) int
}

// Spend is one outgoing transaction to check against the merchant baseline
type Spend struct {
	UserID   string
	Merchant string
	Amount   float64
	Date     string // YYYY-MM-DD
}

// AnomalyDetector compares spending against each merchant's rolling 90-day
// baseline.
type AnomalyDetector struct {
	repo   *Repository
	events EventSink
	log    zerolog.Logger
}

// NewAnomalyDetector creates a new anomaly detector
func NewAnomalyDetector(repo *Repository, events EventSink, log zerolog.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		repo:   repo,
		events: events,
		log:    log.With().Str("component", "anomaly").Logger(),
	}
}

// Check evaluates a batch of transactions. Credits and income (amount <= 0)
// are ignored entirely: no event, no history row. Every checked transaction
// is appended to merchant history whatever the outcome, so the baseline
// keeps learning. All DB errors are swallowed.
func (d *AnomalyDetector) Check(ctx context.Context, spends []Spend) {
	for _, spend := range spends {
		if spend.Amount <= 0 {
			continue
		}
		merchant := normalizeMerchant(spend.Merchant)
		if merchant == "" {
			continue
		}

		stats, err := d.repo.GetMerchantStats(merchant)
		if err != nil {
			d.log.Warn().Err(err).Str("merchant", merchant).Msg("Baseline lookup failed")
		} else {
			d.evaluate(ctx, spend, merchant, stats)
		}

		if err := d.repo.AppendHistory(merchant, spend.Amount, spend.Date); err != nil {
			d.log.Warn().Err(err).Str("merchant", merchant).Msg("Failed to append merchant history")
		}
	}
}

func (d *AnomalyDetector) evaluate(ctx context.Context, spend Spend, merchant string, stats MerchantStats) {
	switch {
	case stats.Count == 0 && spend.Amount > newMerchantFloor:
		d.events.Evaluate(ctx, alerts.Event{
			Type:        alerts.EventAnomaly,
			UserID:      spend.UserID,
			Description: fmt.Sprintf("New merchant %s: $%.2f", spend.Merchant, spend.Amount),
			Amount:      &spend.Amount,
			Metadata: map[string]interface{}{
				"isNew":    true,
				"merchant": merchant,
				"amount":   spend.Amount,
			},
		})

	case stats.Count > 0 && stats.Average > 0 && spend.Amount > anomalyMultiple*stats.Average:
		d.events.Evaluate(ctx, alerts.Event{
			Type:        alerts.EventAnomaly,
			UserID:      spend.UserID,
			Description: fmt.Sprintf("Unusually large: %s $%.2f (avg $%.2f)", spend.Merchant, spend.Amount, stats.Average),
			Amount:      &spend.Amount,
			Metadata: map[string]interface{}{
				"isNew":    false,
				"merchant": merchant,
				"amount":   spend.Amount,
				"average":  stats.Average,
			},
		})
	}
}
