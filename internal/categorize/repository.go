package categorize

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository persists merchant categories and the rolling merchant history
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new categorization repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "categorize").Logger(),
	}
}

// GetCategory looks up the cached category for a lowercased merchant.
// Returns ("", nil) on a cache miss.
func (r *Repository) GetCategory(merchant string) (string, error) {
	var category string
	err := r.db.QueryRow(
		`SELECT category FROM merchant_categories WHERE merchant = ?`, merchant,
	).Scan(&category)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return category, nil
}

// SaveCategory records a categorization decision. First decision wins: the
// insert is ON CONFLICT DO NOTHING so repeated categorizations stay stable.
func (r *Repository) SaveCategory(merchant, category, source string) error {
	_, err := r.db.Exec(
		`INSERT INTO merchant_categories (merchant, category, source)
		 VALUES (?, ?, ?)
		 ON CONFLICT (merchant) DO NOTHING`,
		merchant, category, source,
	)
	if err != nil {
		return fmt.Errorf("failed to save merchant category: %w", err)
	}
	return nil
}

// MerchantStats is the 90-day baseline for one merchant
type MerchantStats struct {
	Average float64
	Count   int
}

// GetMerchantStats returns the average amount and observation count for a
// merchant over the trailing 90 days.
func (r *Repository) GetMerchantStats(merchant string) (MerchantStats, error) {
	cutoff := time.Now().AddDate(0, 0, -90).Format("2006-01-02")

	var stats MerchantStats
	var avg sql.NullFloat64
	err := r.db.QueryRow(
		`SELECT AVG(amount), COUNT(*) FROM merchant_history WHERE merchant = ? AND txn_date >= ?`,
		merchant, cutoff,
	).Scan(&avg, &stats.Count)
	if err != nil {
		return MerchantStats{}, err
	}
	if avg.Valid {
		stats.Average = avg.Float64
	}
	return stats, nil
}

// AppendHistory records one merchant observation
func (r *Repository) AppendHistory(merchant string, amount float64, date string) error {
	_, err := r.db.Exec(
		`INSERT INTO merchant_history (merchant, txn_date, amount) VALUES (?, ?, ?)`,
		merchant, date, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to append merchant history: %w", err)
	}
	return nil
}

// MerchantCharges returns dated charge amounts for every merchant a user
// could be subscribed to, ordered by merchant then date. Used by subscription
// detection.
func (r *Repository) MerchantCharges(since string) (map[string][]DatedAmount, error) {
	rows, err := r.db.Query(
		`SELECT merchant, txn_date, amount FROM merchant_history
		 WHERE txn_date >= ? AND amount > 0
		 ORDER BY merchant, txn_date`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant charges: %w", err)
	}
	defer rows.Close()

	charges := make(map[string][]DatedAmount)
	for rows.Next() {
		var merchant, date string
		var amount float64
		if err := rows.Scan(&merchant, &date, &amount); err != nil {
			return nil, err
		}
		charges[merchant] = append(charges[merchant], DatedAmount{Date: date, Amount: amount})
	}
	return charges, rows.Err()
}

// DatedAmount is one dated charge
type DatedAmount struct {
	Date   string
	Amount float64
}
