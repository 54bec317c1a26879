package categorize

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/alerts"
	"github.com/aristath/moneta/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.NewInMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// recordingSink captures events instead of delivering them
type recordingSink struct {
	events []alerts.Event
}

func (s *recordingSink) Evaluate(_ context.Context, event alerts.Event) int {
	s.events = append(s.events, event)
	return 1
}

func today() string { return time.Now().Format("2006-01-02") }

func TestAnomaly_NewMerchantFloor(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	sink := &recordingSink{}
	detector := NewAnomalyDetector(repo, sink, zerolog.Nop())

	tests := []struct {
		name   string
		amount float64
		want   int
	}{
		{"below floor", 99.99, 0},
		{"at floor", 100.00, 0},
		{"above floor", 100.01, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink.events = nil
			// Distinct merchant per case so each sees an empty baseline
			detector.Check(context.Background(), []Spend{{
				UserID:   "u1",
				Merchant: "Merchant " + tt.name,
				Amount:   tt.amount,
				Date:     today(),
			}})
			assert.Len(t, sink.events, tt.want)
		})
	}
}

func TestAnomaly_BaselineMultiple(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	sink := &recordingSink{}
	detector := NewAnomalyDetector(repo, sink, zerolog.Nop())

	// Build a $10 average baseline
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.AppendHistory("coffee shop", 10.0, today()))
	}

	// 2.5x the average does not trigger; above it does
	detector.Check(context.Background(), []Spend{{UserID: "u1", Merchant: "Coffee Shop", Amount: 25.0, Date: today()}})
	assert.Empty(t, sink.events)

	detector.Check(context.Background(), []Spend{{UserID: "u1", Merchant: "Coffee Shop", Amount: 25.01, Date: today()}})
	require.Len(t, sink.events, 1)
	assert.Equal(t, alerts.EventAnomaly, sink.events[0].Type)
	assert.Equal(t, false, sink.events[0].Metadata["isNew"])
	assert.Contains(t, sink.events[0].Description, "Coffee Shop")
}

func TestAnomaly_IgnoresCreditsAndEmptyMerchants(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	sink := &recordingSink{}
	detector := NewAnomalyDetector(repo, sink, zerolog.Nop())

	detector.Check(context.Background(), []Spend{
		{UserID: "u1", Merchant: "Payroll", Amount: -3500, Date: today()},
		{UserID: "u1", Merchant: "Refund", Amount: 0, Date: today()},
		{UserID: "u1", Merchant: "   ", Amount: 500, Date: today()},
	})
	assert.Empty(t, sink.events)

	// None of the ignored rows reached merchant history
	stats, err := repo.GetMerchantStats("payroll")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
}

func TestAnomaly_HistoryKeepsLearning(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	sink := &recordingSink{}
	detector := NewAnomalyDetector(repo, sink, zerolog.Nop())

	// First large charge alerts as a new merchant and seeds the baseline
	detector.Check(context.Background(), []Spend{{UserID: "u1", Merchant: "Dentist", Amount: 400, Date: today()}})
	require.Len(t, sink.events, 1)
	assert.Equal(t, true, sink.events[0].Metadata["isNew"])

	// The same charge again is within 2.5x of the baseline
	sink.events = nil
	detector.Check(context.Background(), []Spend{{UserID: "u1", Merchant: "Dentist", Amount: 400, Date: today()}})
	assert.Empty(t, sink.events)

	stats, err := repo.GetMerchantStats("dentist")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.InDelta(t, 400.0, stats.Average, 0.001)
}

func TestAnomaly_Deterministic(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, repo.AppendHistory("gym", 50, today()))

	for i := 0; i < 3; i++ {
		sink := &recordingSink{}
		detector := NewAnomalyDetector(repo, sink, zerolog.Nop())
		detector.Check(context.Background(), []Spend{{UserID: "u1", Merchant: "Gym", Amount: 49, Date: today()}})
		assert.Empty(t, sink.events)
	}
}

func TestRepository_SaveCategoryFirstWins(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, repo.SaveCategory("netflix", "entertainment", "rule"))
	require.NoError(t, repo.SaveCategory("netflix", "shopping", "ai"))

	category, err := repo.GetCategory("netflix")
	require.NoError(t, err)
	assert.Equal(t, "entertainment", category)

	// Cache miss is not an error
	category, err = repo.GetCategory("unknown")
	require.NoError(t, err)
	assert.Empty(t, category)
}
