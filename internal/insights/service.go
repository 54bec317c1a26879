package insights

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/aggregator"
	"github.com/aristath/moneta/internal/assets"
	"github.com/aristath/moneta/internal/categorize"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/networth"
)

const topMerchantCount = 10

// Service builds monthly insights from mirrored source transactions
type Service struct {
	repo        *Repository
	sources     *aggregator.Repository
	categorizer *categorize.Categorizer
	snapshots   *networth.Repository
	assets      *assets.Repository
	log         zerolog.Logger
}

// NewService creates a new insights service
func NewService(
	repo *Repository,
	sources *aggregator.Repository,
	categorizer *categorize.Categorizer,
	snapshots *networth.Repository,
	assetsRepo *assets.Repository,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:        repo,
		sources:     sources,
		categorizer: categorizer,
		snapshots:   snapshots,
		assets:      assetsRepo,
		log:         log.With().Str("component", "insights").Logger(),
	}
}

// Generate aggregates one calendar month and persists the insight.
// Money out is positive in the source mirror.
func (s *Service) Generate(ctx context.Context, userID string, year, month int) (*domain.MonthlyInsight, error) {
	txns, err := s.sources.TransactionsForMonth(userID, year, month)
	if err != nil {
		return nil, err
	}

	insight := &domain.MonthlyInsight{
		UserID:         userID,
		Year:           year,
		Month:          month,
		CategoryTotals: make(map[string]float64),
	}

	toCategorize := make([]categorize.Txn, 0, len(txns))
	merchantTotals := make(map[string]*domain.MerchantTotal)
	for _, txn := range txns {
		if txn.Amount < 0 {
			insight.Income += -txn.Amount
			continue
		}
		insight.Expenses += txn.Amount

		toCategorize = append(toCategorize, categorize.Txn{
			ID:          txn.TransactionID,
			Description: merchantOf(txn),
		})

		key := strings.ToLower(merchantOf(txn))
		if entry, ok := merchantTotals[key]; ok {
			entry.Total += txn.Amount
			entry.Count++
		} else {
			merchantTotals[key] = &domain.MerchantTotal{Merchant: key, Total: txn.Amount, Count: 1}
		}
	}

	categories := s.categorizer.Categorize(ctx, toCategorize)
	amountByID := make(map[string]float64, len(txns))
	for _, txn := range txns {
		amountByID[txn.TransactionID] = txn.Amount
	}
	for id, category := range categories {
		insight.CategoryTotals[category] += amountByID[id]
	}
	for category, total := range insight.CategoryTotals {
		insight.CategoryTotals[category] = round2(total)
	}

	insight.TopMerchants = topMerchants(merchantTotals, topMerchantCount)
	insight.Income = round2(insight.Income)
	insight.Expenses = round2(insight.Expenses)
	if insight.Income > 0 {
		insight.SavingsRate = round2((insight.Income - insight.Expenses) / insight.Income * 100)
	}

	if err := s.repo.Save(insight); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user", userID).
		Int("year", year).
		Int("month", month).
		Int("transactions", len(txns)).
		Msg("Monthly insight generated")
	return insight, nil
}

// EmergencyFund reports how many months of average spending the user's liquid
// holdings cover. Zero expenses yields zero months rather than infinity.
func (s *Service) EmergencyFund(userID string) (map[string]float64, error) {
	avgExpenses, err := s.snapshots.AverageMonthlyExpenses(userID)
	if err != nil {
		return nil, err
	}

	latest, err := s.snapshots.Latest(userID, 0)
	if err != nil {
		return nil, err
	}

	illiquid := 0.0
	if list, err := s.assets.ListActive(userID); err == nil {
		for _, a := range list {
			if a.IsIlliquid() {
				illiquid += a.CurrentValue
			}
		}
	}
	liquid := math.Max(0, latest.NetWorth-illiquid)

	months := 0.0
	if avgExpenses > 0 {
		months = liquid / avgExpenses
	}
	return map[string]float64{
		"liquidNetWorth":     round2(liquid),
		"avgMonthlyExpenses": round2(avgExpenses),
		"months":             round2(months),
	}, nil
}

func merchantOf(txn domain.SourceTransaction) string {
	if txn.MerchantName != "" {
		return txn.MerchantName
	}
	return txn.Name
}

func topMerchants(totals map[string]*domain.MerchantTotal, n int) []domain.MerchantTotal {
	out := make([]domain.MerchantTotal, 0, len(totals))
	for _, entry := range totals {
		entry.Total = round2(entry.Total)
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
