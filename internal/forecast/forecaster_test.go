package forecast

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/assets"
	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/networth"
)

func setupForecaster(t *testing.T) (*Forecaster, *networth.Repository, *Repository) {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.NewInMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	snapshots := networth.NewRepository(db.Conn(), zerolog.Nop())
	assetsRepo := assets.NewRepository(db.Conn(), zerolog.Nop())
	repo := NewRepository(db.Conn(), zerolog.Nop())
	return NewForecaster(snapshots, assetsRepo, repo, zerolog.Nop()), snapshots, repo
}

// seedHistory writes n monthly snapshots climbing by step per month, ending at
// latest. Each snapshot carries a monthlyExpenses breakdown entry.
func seedHistory(t *testing.T, snapshots *networth.Repository, userID string, n int, latest, step, expenses float64) {
	t.Helper()
	base := time.Now().AddDate(0, -n, 0)
	for i := 0; i < n; i++ {
		value := latest - step*float64(n-1-i)
		require.NoError(t, snapshots.Save(&domain.NetWorthSnapshot{
			UserID:           userID,
			SnapshotDate:     base.AddDate(0, i, 0).Format("2006-01-02"),
			TotalAssets:      value,
			TotalLiabilities: 0,
			NetWorth:         value,
			Breakdown:        map[string]float64{"monthlyExpenses": expenses},
		}))
	}
}

func TestGenerate_NotEnoughHistory(t *testing.T) {
	forecaster, snapshots, repo := setupForecaster(t)
	seedHistory(t, snapshots, "u1", 4, 100000, 1000, 3000)

	snap, err := forecaster.Generate(context.Background(), "u1", Options{Seed: 1})
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, err = repo.Latest("u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerate_ProjectionShape(t *testing.T) {
	forecaster, snapshots, _ := setupForecaster(t)
	seedHistory(t, snapshots, "u1", 12, 100000, 1000, 3000)

	snap, err := forecaster.Generate(context.Background(), "u1", Options{HorizonMonths: 24, Seed: 42})
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, 24, snap.HorizonMonths)
	assert.Len(t, snap.Scenarios.Base, 24)
	assert.Len(t, snap.Scenarios.Optimistic, 24)
	assert.Len(t, snap.Scenarios.Pessimistic, 24)
	assert.Len(t, snap.Scenarios.MonteCarlo.P10, 24)
	assert.Len(t, snap.Scenarios.MonteCarlo.P50, 24)
	assert.Len(t, snap.Scenarios.MonteCarlo.P90, 24)

	// Percentile bands never cross
	for m := 0; m < 24; m++ {
		mc := snap.Scenarios.MonteCarlo
		assert.LessOrEqual(t, mc.P10[m], mc.P25[m], "month %d", m)
		assert.LessOrEqual(t, mc.P25[m], mc.P50[m], "month %d", m)
		assert.LessOrEqual(t, mc.P50[m], mc.P75[m], "month %d", m)
		assert.LessOrEqual(t, mc.P75[m], mc.P90[m], "month %d", m)
	}

	// Steady $1000/month savings with no volatility gives a linear base case
	assert.InDelta(t, 101000, snap.Scenarios.Base[0], 1.0)
	assert.InDelta(t, 124000, snap.Scenarios.Base[23], 1.0)

	assert.InDelta(t, 100000, snap.Summary.CurrentNetWorth, 0.01)
	assert.InDelta(t, 1000, snap.Summary.AvgMonthlySavings, 1.0)
	assert.InDelta(t, 3000, snap.Summary.AvgMonthlyExpenses, 0.01)
	assert.Equal(t, 12, snap.Summary.SnapshotCount)

	// 3000 * 12 / 0.04
	assert.InDelta(t, 900000, snap.Summary.FireNumber, 0.01)
}

func TestGenerate_Persists(t *testing.T) {
	forecaster, snapshots, repo := setupForecaster(t)
	seedHistory(t, snapshots, "u1", 8, 50000, 500, 2000)

	snap, err := forecaster.Generate(context.Background(), "u1", Options{Seed: 7})
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.NotEmpty(t, snap.ID)

	stored, err := repo.Latest("u1")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, stored.ID)
	assert.Equal(t, defaultHorizonMonths, stored.HorizonMonths)
	assert.Equal(t, snap.Summary.CurrentNetWorth, stored.Summary.CurrentNetWorth)
}

func TestWhatIf_DoesNotPersist(t *testing.T) {
	forecaster, snapshots, repo := setupForecaster(t)
	seedHistory(t, snapshots, "u1", 8, 50000, 500, 2000)

	snap, err := forecaster.WhatIf(context.Background(), "u1", Options{WithdrawalRate: 0.05, Seed: 7})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.InDelta(t, 0.05, snap.Summary.WithdrawalRate, 0.0001)

	_, err = repo.Latest("u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOptions_Normalize(t *testing.T) {
	opts := Options{WithdrawalRate: 0.50, InflationRate: 0.90, Seed: 1}
	opts.normalize()
	assert.Equal(t, defaultHorizonMonths, opts.HorizonMonths)
	assert.InDelta(t, 0.10, opts.WithdrawalRate, 0.0001)
	assert.InDelta(t, 0.15, opts.InflationRate, 0.0001)
}

func TestPercentile_Interpolation(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50}

	assert.InDelta(t, 10, percentile(values, 0), 0.001)
	assert.InDelta(t, 30, percentile(values, 50), 0.001)
	assert.InDelta(t, 50, percentile(values, 100), 0.001)
	// 25th percentile falls at index 1.0
	assert.InDelta(t, 20, percentile(values, 25), 0.001)
	// 10th percentile interpolates between 10 and 20
	assert.InDelta(t, 14, percentile(values, 10), 0.001)

	assert.InDelta(t, 0, percentile(nil, 50), 0.001)
	assert.InDelta(t, 7, percentile([]float64{7}, 90), 0.001)
}

func TestMonteCarlo_Reproducible(t *testing.T) {
	first := newSampler(99).runMonteCarlo(10000, 100, 50, 0, 6)
	second := newSampler(99).runMonteCarlo(10000, 100, 50, 0, 6)
	assert.Equal(t, first.percentiles, second.percentiles)

	// fireTarget <= 0 disables crossing detection
	assert.Empty(t, first.crossingMonths)
}

func TestMonteCarlo_CrossingDetection(t *testing.T) {
	// Strong drift, tiny noise: every trial crosses the target
	res := newSampler(5).runMonteCarlo(1000, 500, 1, 2000, 12)
	assert.Equal(t, monteCarloTrials, len(res.crossingMonths))
	for i, month := range res.crossingMonths {
		assert.GreaterOrEqual(t, month, 1.0)
		assert.LessOrEqual(t, month, 12.0)
		assert.GreaterOrEqual(t, res.portfoliosAtHit[i], 2000.0)
	}
}

func TestFirstDifferences(t *testing.T) {
	assert.Equal(t, []float64{10, -5, 20}, firstDifferences([]float64{0, 10, 5, 25}))
	assert.Equal(t, []float64{0}, firstDifferences([]float64{42}))
}

func TestSeedHistoryOrdering(t *testing.T) {
	// History must come back oldest first for the regression to see a
	// positive slope
	_, snapshots, _ := setupForecaster(t)
	seedHistory(t, snapshots, "u1", 6, 6000, 1000, 0)

	history, err := snapshots.History("u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 6)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].NetWorth, history[i-1].NetWorth,
			fmt.Sprintf("index %d", i))
	}
}
