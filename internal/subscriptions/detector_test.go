package subscriptions

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/alerts"
	"github.com/aristath/moneta/internal/categorize"
	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
)

func setupDetector(t *testing.T) (*Detector, *Repository, *categorize.Repository, *alerts.Repository) {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.NewInMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db.Conn(), zerolog.Nop())
	history := categorize.NewRepository(db.Conn(), zerolog.Nop())
	alertsRepo := alerts.NewRepository(db.Conn(), zerolog.Nop())
	engine := alerts.NewEngine(alertsRepo, nil, zerolog.Nop())
	return NewDetector(repo, history, engine, zerolog.Nop()), repo, history, alertsRepo
}

// monthlyDates returns n dates spaced gapDays apart, ending near today so the
// series falls inside the detection lookback.
func monthlyDates(n int, gapDays int) []string {
	dates := make([]string, n)
	start := time.Now().AddDate(0, 0, -gapDays*(n-1)-7)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i*gapDays).Format("2006-01-02")
	}
	return dates
}

func seedCharges(t *testing.T, history *categorize.Repository, merchant string, dates []string, amounts []float64) {
	t.Helper()
	for i, date := range dates {
		require.NoError(t, history.AppendHistory(merchant, amounts[i], date))
	}
}

func TestClassify(t *testing.T) {
	dates := monthlyDates(4, 30)

	tests := []struct {
		name    string
		dates   []string
		amounts []float64
		want    bool
	}{
		{"steady monthly charge", dates, []float64{15.99, 15.99, 15.99, 15.99}, true},
		{"amount within 10 percent", dates, []float64{100, 105, 95, 100}, true},
		{"amount drift too wide", dates, []float64{100, 120, 95, 100}, false},
		{"too few charges", dates[:2], []float64{9.99, 9.99}, false},
		{"gap at 35 days", monthlyDates(4, 35), []float64{9.99, 9.99, 9.99, 9.99}, true},
		{"gap at 25 days", monthlyDates(4, 25), []float64{9.99, 9.99, 9.99, 9.99}, true},
		{"gap too long", monthlyDates(4, 36), []float64{9.99, 9.99, 9.99, 9.99}, false},
		{"gap too short", monthlyDates(4, 24), []float64{9.99, 9.99, 9.99, 9.99}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := make([]categorize.DatedAmount, len(tt.dates))
			for i := range tt.dates {
				series[i] = categorize.DatedAmount{Date: tt.dates[i], Amount: tt.amounts[i]}
			}
			sub, ok := classify("merchant", series)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Equal(t, tt.dates[0], sub.FirstSeen)
				assert.Equal(t, tt.dates[len(tt.dates)-1], sub.LastSeen)
				assert.Greater(t, sub.Amount, 0.0)
			}
		})
	}
}

func TestClassify_IntervalIsAveraged(t *testing.T) {
	// Gaps of 28 and 32 days average to 30
	start := time.Now().AddDate(0, 0, -70)
	series := []categorize.DatedAmount{
		{Date: start.Format("2006-01-02"), Amount: 12.00},
		{Date: start.AddDate(0, 0, 28).Format("2006-01-02"), Amount: 12.00},
		{Date: start.AddDate(0, 0, 60).Format("2006-01-02"), Amount: 12.00},
	}
	sub, ok := classify("streaming", series)
	require.True(t, ok)
	assert.Equal(t, 30, sub.IntervalDays)
}

func TestDetect_FlagsOnceAndAlertsOnce(t *testing.T) {
	detector, repo, history, alertsRepo := setupDetector(t)
	ctx := context.Background()

	seedCharges(t, history, "netflix", monthlyDates(4, 30), []float64{15.99, 15.99, 15.99, 15.99})
	// A non-recurring merchant in the same history
	seedCharges(t, history, "hardware store", monthlyDates(3, 11), []float64{40, 200, 12})

	detected, err := detector.Detect(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, detected, 1)
	assert.Equal(t, "netflix", detected[0].Merchant)
	assert.InDelta(t, 15.99, detected[0].Amount, 0.001)
	assert.Equal(t, 30, detected[0].IntervalDays)

	// Known merchants are refreshed but not re-announced
	detected, err = detector.Detect(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, detected)

	subs, err := repo.List("u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)

	// The detection produced a new_subscription event; no rule exists so
	// nothing was delivered, but the engine was reachable
	entries, err := alertsRepo.ListHistory("u1", alerts.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDetect_DeleteAllowsReflagging(t *testing.T) {
	detector, repo, history, _ := setupDetector(t)
	ctx := context.Background()

	seedCharges(t, history, "gym", monthlyDates(3, 30), []float64{35, 35, 35})

	detected, err := detector.Detect(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, detected, 1)

	require.NoError(t, repo.Delete("u1", "gym"))

	detected, err = detector.Detect(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, detected, 1)
}

func domainSub(userID, merchant string, amount float64, firstSeen, lastSeen string) domain.DetectedSubscription {
	return domain.DetectedSubscription{
		UserID:       userID,
		Merchant:     merchant,
		Amount:       amount,
		IntervalDays: 30,
		FirstSeen:    firstSeen,
		LastSeen:     lastSeen,
	}
}

func TestRepository_SaveRefreshes(t *testing.T) {
	_, repo, _, _ := setupDetector(t)

	first := domainSub("u1", "spotify", 9.99, "2026-01-01", "2026-03-01")
	require.NoError(t, repo.Save(&first))

	second := domainSub("u1", "spotify", 10.99, "2026-01-01", "2026-04-01")
	require.NoError(t, repo.Save(&second))

	subs, err := repo.List("u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.InDelta(t, 10.99, subs[0].Amount, 0.001)
	assert.Equal(t, "2026-04-01", subs[0].LastSeen)
	// First-seen is preserved from the original detection
	assert.Equal(t, "2026-01-01", subs[0].FirstSeen)
}
