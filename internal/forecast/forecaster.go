// Package forecast projects net worth forward with linear regression,
// Monte Carlo trials, and a sequence-of-returns sustainability check.
package forecast

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/moneta/internal/assets"
	"github.com/aristath/moneta/internal/networth"
)

const (
	defaultHorizonMonths  = 12
	defaultWithdrawalRate = 0.04
	defaultInflationRate  = 0.03
	minSnapshots          = 5
)

// Options tune one forecast run. Zero values take the defaults; rates are
// clamped to sane ranges.
type Options struct {
	HorizonMonths  int
	WithdrawalRate float64
	InflationRate  float64
	Seed           int64 // 0 = time-seeded
}

func (o *Options) normalize() {
	if o.HorizonMonths <= 0 {
		o.HorizonMonths = defaultHorizonMonths
	}
	if o.WithdrawalRate == 0 {
		o.WithdrawalRate = defaultWithdrawalRate
	}
	o.WithdrawalRate = clamp(o.WithdrawalRate, 0.01, 0.10)
	if o.InflationRate == 0 {
		o.InflationRate = defaultInflationRate
	}
	o.InflationRate = clamp(o.InflationRate, 0.0, 0.15)
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
}

// Scenarios holds the projected trajectories, one value per month
type Scenarios struct {
	Base        []float64   `json:"base"`
	Optimistic  []float64   `json:"optimistic"`
	Pessimistic []float64   `json:"pessimistic"`
	MonteCarlo  Percentiles `json:"monteCarlo"`
}

// Summary holds the scalar outputs of a forecast run
type Summary struct {
	CurrentNetWorth    float64  `json:"currentNetWorth"`
	LiquidNetWorth     float64  `json:"liquidNetWorth"`
	IlliquidValue      float64  `json:"illiquidValue"`
	AvgMonthlySavings  float64  `json:"avgMonthlySavings"`
	AvgMonthlyExpenses float64  `json:"avgMonthlyExpenses"`
	Volatility         float64  `json:"volatility"`
	LiquidVolatility   float64  `json:"liquidVolatility"`
	FireNumber         float64  `json:"fireNumber"`
	FireProbability    int      `json:"fireProbability"`
	MonthsToFireP10    *float64 `json:"monthsToFireP10,omitempty"`
	MonthsToFireP50    *float64 `json:"monthsToFireP50,omitempty"`
	MonthsToFireP90    *float64 `json:"monthsToFireP90,omitempty"`
	SustainabilityRate *int     `json:"sustainabilityRate,omitempty"`
	WithdrawalRate     float64  `json:"withdrawalRate"`
	InflationRate      float64  `json:"inflationRate"`
	SnapshotCount      int      `json:"snapshotCount"`
}

// Snapshot is one persisted forecast run
type Snapshot struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	HorizonMonths int       `json:"horizon_months"`
	Scenarios     Scenarios `json:"scenarios"`
	Summary       Summary   `json:"summary"`
	CreatedAt     time.Time `json:"created_at"`
}

// Forecaster builds and persists forecast snapshots
type Forecaster struct {
	snapshots *networth.Repository
	assets    *assets.Repository
	repo      *Repository
	log       zerolog.Logger
}

// NewForecaster creates a new forecaster
func NewForecaster(snapshots *networth.Repository, assetsRepo *assets.Repository, repo *Repository, log zerolog.Logger) *Forecaster {
	return &Forecaster{
		snapshots: snapshots,
		assets:    assetsRepo,
		repo:      repo,
		log:       log.With().Str("component", "forecast").Logger(),
	}
}

// Generate runs one forecast and persists it. With fewer than five historical
// snapshots there is nothing to regress against, so it returns (nil, nil).
func (f *Forecaster) Generate(ctx context.Context, userID string, opts Options) (*Snapshot, error) {
	snap, err := f.build(userID, opts)
	if err != nil || snap == nil {
		return nil, err
	}
	if err := f.repo.Save(snap); err != nil {
		return nil, err
	}
	f.log.Info().
		Str("user", userID).
		Int("horizon", snap.HorizonMonths).
		Int("fire_probability", snap.Summary.FireProbability).
		Msg("Forecast generated")
	return snap, nil
}

// WhatIf runs a forecast with caller-supplied assumptions without persisting it
func (f *Forecaster) WhatIf(ctx context.Context, userID string, opts Options) (*Snapshot, error) {
	return f.build(userID, opts)
}

func (f *Forecaster) build(userID string, opts Options) (*Snapshot, error) {
	opts.normalize()

	history, err := f.snapshots.History(userID, 0)
	if err != nil {
		return nil, err
	}
	if len(history) < minSnapshots {
		f.log.Debug().Str("user", userID).Int("snapshots", len(history)).Msg("Not enough history to forecast")
		return nil, nil
	}

	values := make([]float64, len(history))
	xs := make([]float64, len(history))
	for i, snap := range history {
		values[i] = snap.NetWorth
		xs[i] = float64(i)
	}
	latest := values[len(values)-1]

	_, slope := stat.LinearRegression(xs, values, nil, false)
	avgMonthlySavings := slope
	sigma := stat.PopStdDev(firstDifferences(values), nil)

	avgExpenses, err := f.snapshots.AverageMonthlyExpenses(userID)
	if err != nil {
		f.log.Warn().Err(err).Msg("Failed to load average expenses, FIRE target disabled")
		avgExpenses = 0
	}
	fireNumber := 0.0
	if avgExpenses > 0 {
		fireNumber = avgExpenses * 12 / opts.WithdrawalRate
	}

	illiquid := f.illiquidValue(userID)
	liquid := math.Max(0, latest-illiquid)
	liquidSeries := make([]float64, len(values))
	for i, v := range values {
		liquidSeries[i] = v - illiquid
	}
	liquidSigma := stat.PopStdDev(firstDifferences(liquidSeries), nil)

	scenarios := Scenarios{
		Base:        project(latest, avgMonthlySavings, opts.HorizonMonths),
		Optimistic:  project(latest, avgMonthlySavings+sigma, opts.HorizonMonths),
		Pessimistic: project(latest, avgMonthlySavings-sigma, opts.HorizonMonths),
	}

	rng := newSampler(opts.Seed)
	mc := rng.runMonteCarlo(liquid, avgMonthlySavings, liquidSigma, fireNumber, opts.HorizonMonths)
	scenarios.MonteCarlo = mc.percentiles

	summary := Summary{
		CurrentNetWorth:    round2(latest),
		LiquidNetWorth:     round2(liquid),
		IlliquidValue:      round2(illiquid),
		AvgMonthlySavings:  round2(avgMonthlySavings),
		AvgMonthlyExpenses: round2(avgExpenses),
		Volatility:         round2(sigma),
		LiquidVolatility:   round2(liquidSigma),
		FireNumber:         round2(fireNumber),
		WithdrawalRate:     opts.WithdrawalRate,
		InflationRate:      opts.InflationRate,
		SnapshotCount:      len(history),
	}
	if fireNumber > 0 {
		summary.FireProbability = int(math.Round(float64(len(mc.crossingMonths)) / float64(mc.trials) * 100))
		if len(mc.crossingMonths) > 0 {
			summary.MonthsToFireP10 = floatPtr(round2(percentile(mc.crossingMonths, 10)))
			summary.MonthsToFireP50 = floatPtr(round2(percentile(mc.crossingMonths, 50)))
			summary.MonthsToFireP90 = floatPtr(round2(percentile(mc.crossingMonths, 90)))
		}
		summary.SustainabilityRate = rng.sustainabilityRate(mc.portfoliosAtHit, avgExpenses, liquidSigma, opts.InflationRate)
	}

	return &Snapshot{
		UserID:        userID,
		HorizonMonths: opts.HorizonMonths,
		Scenarios:     scenarios,
		Summary:       summary,
	}, nil
}

// illiquidValue sums active assets that cannot be spent down
func (f *Forecaster) illiquidValue(userID string) float64 {
	list, err := f.assets.ListActive(userID)
	if err != nil {
		f.log.Warn().Err(err).Msg("Failed to load assets for liquidity split")
		return 0
	}
	total := 0.0
	for _, a := range list {
		if a.IsIlliquid() {
			total += a.CurrentValue
		}
	}
	return total
}

// firstDifferences returns v[i+1]-v[i] for the whole series
func firstDifferences(values []float64) []float64 {
	if len(values) < 2 {
		return []float64{0}
	}
	diffs := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		diffs[i-1] = values[i] - values[i-1]
	}
	return diffs
}

// project walks forward from start with a constant monthly drift
func project(start, drift float64, months int) []float64 {
	out := make([]float64, months)
	value := start
	for i := range out {
		value += drift
		out[i] = round2(value)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func floatPtr(v float64) *float64 {
	return &v
}
