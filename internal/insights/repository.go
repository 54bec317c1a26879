// Package insights aggregates a user's month into income, expenses, category
// totals, and top merchants.
package insights

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

// ErrNotFound is returned when no insight exists for the requested month
var ErrNotFound = errors.New("insight not found")

// Repository persists monthly insights
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new insights repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "insights").Logger(),
	}
}

// Save writes one monthly insight; regenerating a month overwrites it
func (r *Repository) Save(insight *domain.MonthlyInsight) error {
	categories, err := json.Marshal(insight.CategoryTotals)
	if err != nil {
		categories = []byte("{}")
	}
	merchants, err := json.Marshal(insight.TopMerchants)
	if err != nil {
		merchants = []byte("[]")
	}
	_, err = r.db.Exec(
		`INSERT INTO monthly_insights (user_id, year, month, income, expenses, savings_rate, category_totals, top_merchants, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, year, month) DO UPDATE SET
		   income = excluded.income,
		   expenses = excluded.expenses,
		   savings_rate = excluded.savings_rate,
		   category_totals = excluded.category_totals,
		   top_merchants = excluded.top_merchants,
		   created_at = excluded.created_at`,
		insight.UserID, insight.Year, insight.Month, insight.Income, insight.Expenses,
		insight.SavingsRate, string(categories), string(merchants), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save insight: %w", err)
	}
	return nil
}

// Get fetches the insight for one (user, year, month)
func (r *Repository) Get(userID string, year, month int) (*domain.MonthlyInsight, error) {
	row := r.db.QueryRow(
		`SELECT user_id, year, month, income, expenses, savings_rate, category_totals, top_merchants
		 FROM monthly_insights WHERE user_id = ? AND year = ? AND month = ?`,
		userID, year, month)
	return scanInsightFrom(row)
}

// Latest returns the most recent stored insight for a user
func (r *Repository) Latest(userID string) (*domain.MonthlyInsight, error) {
	row := r.db.QueryRow(
		`SELECT user_id, year, month, income, expenses, savings_rate, category_totals, top_merchants
		 FROM monthly_insights WHERE user_id = ?
		 ORDER BY year DESC, month DESC LIMIT 1`, userID)
	return scanInsightFrom(row)
}

// List returns stored insights, newest month first
func (r *Repository) List(userID string, limit int) ([]domain.MonthlyInsight, error) {
	if limit <= 0 {
		limit = 24
	}
	rows, err := r.db.Query(
		`SELECT user_id, year, month, income, expenses, savings_rate, category_totals, top_merchants
		 FROM monthly_insights WHERE user_id = ?
		 ORDER BY year DESC, month DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	defer rows.Close()

	var insights []domain.MonthlyInsight
	for rows.Next() {
		insight, err := scanInsightFrom(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, *insight)
	}
	return insights, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInsightFrom(s rowScanner) (*domain.MonthlyInsight, error) {
	var insight domain.MonthlyInsight
	var categories, merchants string
	err := s.Scan(&insight.UserID, &insight.Year, &insight.Month, &insight.Income,
		&insight.Expenses, &insight.SavingsRate, &categories, &merchants)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan insight: %w", err)
	}
	insight.CategoryTotals = make(map[string]float64)
	_ = json.Unmarshal([]byte(categories), &insight.CategoryTotals)
	_ = json.Unmarshal([]byte(merchants), &insight.TopMerchants)
	return &insight, nil
}
