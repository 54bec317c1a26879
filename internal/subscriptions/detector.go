package subscriptions

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/alerts"
	"github.com/aristath/moneta/internal/categorize"
	"github.com/aristath/moneta/internal/domain"
)

const (
	minCharges        = 3
	expectedInterval  = 30.0 // days
	intervalTolerance = 5.0  // days
	amountTolerance   = 0.10 // fraction of the mean
	lookbackMonths    = 12
)

// Detector scans merchant history for charges that look like subscriptions:
// at least three charges roughly a month apart with a stable amount.
type Detector struct {
	repo    *Repository
	history *categorize.Repository
	events  *alerts.Engine
	log     zerolog.Logger
}

// NewDetector creates a new subscription detector
func NewDetector(repo *Repository, history *categorize.Repository, events *alerts.Engine, log zerolog.Logger) *Detector {
	return &Detector{
		repo:    repo,
		history: history,
		events:  events,
		log:     log.With().Str("component", "subscriptions").Logger(),
	}
}

// Detect runs one scan for a user and returns the merchants newly flagged
// this run. Detection is best-effort per merchant; a bad row never aborts
// the scan.
func (d *Detector) Detect(ctx context.Context, userID string) ([]domain.DetectedSubscription, error) {
	since := time.Now().AddDate(0, -lookbackMonths, 0).Format("2006-01-02")
	charges, err := d.history.MerchantCharges(since)
	if err != nil {
		return nil, err
	}

	var detected []domain.DetectedSubscription
	for merchant, series := range charges {
		sub, ok := classify(merchant, series)
		if !ok {
			continue
		}
		sub.UserID = userID

		flagged, err := d.repo.IsFlagged(userID, merchant)
		if err != nil {
			d.log.Warn().Err(err).Str("merchant", merchant).Msg("Flag lookup failed")
			continue
		}

		if err := d.repo.Save(&sub); err != nil {
			d.log.Warn().Err(err).Str("merchant", merchant).Msg("Failed to persist subscription")
			continue
		}

		if !flagged {
			amount := sub.Amount
			d.events.Evaluate(ctx, alerts.Event{
				Type:        alerts.EventNewSubscription,
				UserID:      userID,
				Amount:      &amount,
				Description: merchant,
				Metadata: map[string]interface{}{
					"merchant":     merchant,
					"intervalDays": sub.IntervalDays,
				},
			})
			detected = append(detected, sub)
		}
	}

	d.log.Info().Str("user", userID).Int("new", len(detected)).Msg("Subscription scan complete")
	return detected, nil
}

// classify decides whether a merchant's charge series is a subscription.
// Requires >= 3 charges, every gap within 30±5 days, and every amount within
// 10% of the series mean.
func classify(merchant string, series []categorize.DatedAmount) (domain.DetectedSubscription, bool) {
	if len(series) < minCharges {
		return domain.DetectedSubscription{}, false
	}

	dates := make([]time.Time, len(series))
	mean := 0.0
	for i, charge := range series {
		t, err := time.Parse("2006-01-02", charge.Date)
		if err != nil {
			return domain.DetectedSubscription{}, false
		}
		dates[i] = t
		mean += charge.Amount
	}
	mean /= float64(len(series))

	intervalSum := 0.0
	for i := 1; i < len(dates); i++ {
		gap := dates[i].Sub(dates[i-1]).Hours() / 24
		if math.Abs(gap-expectedInterval) > intervalTolerance {
			return domain.DetectedSubscription{}, false
		}
		intervalSum += gap
	}

	for _, charge := range series {
		if math.Abs(charge.Amount-mean) > mean*amountTolerance {
			return domain.DetectedSubscription{}, false
		}
	}

	return domain.DetectedSubscription{
		Merchant:     merchant,
		Amount:       math.Round(mean*100) / 100,
		IntervalDays: int(math.Round(intervalSum / float64(len(dates)-1))),
		FirstSeen:    series[0].Date,
		LastSeen:     series[len(series)-1].Date,
	}, true
}
