// Package subscriptions detects recurring charges in merchant history.
package subscriptions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

// Repository persists detected subscriptions
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new subscriptions repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "subscriptions").Logger(),
	}
}

// IsFlagged reports whether a merchant was already detected for this user
func (r *Repository) IsFlagged(userID, merchant string) (bool, error) {
	var one int
	err := r.db.QueryRow(
		`SELECT 1 FROM detected_subscriptions WHERE user_id = ? AND merchant = ?`,
		userID, merchant,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Save records a detection; re-detection refreshes the amount and last-seen
func (r *Repository) Save(sub *domain.DetectedSubscription) error {
	sub.DetectedAt = time.Now().UTC()
	_, err := r.db.Exec(
		`INSERT INTO detected_subscriptions (user_id, merchant, amount, interval_days, first_seen, last_seen, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, merchant) DO UPDATE SET
		   amount = excluded.amount,
		   interval_days = excluded.interval_days,
		   last_seen = excluded.last_seen`,
		sub.UserID, sub.Merchant, sub.Amount, sub.IntervalDays,
		sub.FirstSeen, sub.LastSeen, sub.DetectedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// List returns a user's detected subscriptions, most recent charge first
func (r *Repository) List(userID string) ([]domain.DetectedSubscription, error) {
	rows, err := r.db.Query(
		`SELECT user_id, merchant, amount, interval_days, first_seen, last_seen, detected_at
		 FROM detected_subscriptions WHERE user_id = ? ORDER BY last_seen DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.DetectedSubscription
	for rows.Next() {
		var sub domain.DetectedSubscription
		var detectedAt int64
		if err := rows.Scan(&sub.UserID, &sub.Merchant, &sub.Amount, &sub.IntervalDays,
			&sub.FirstSeen, &sub.LastSeen, &detectedAt); err != nil {
			return nil, err
		}
		sub.DetectedAt = time.Unix(detectedAt, 0).UTC()
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Delete removes a detection so the merchant can be re-flagged later
func (r *Repository) Delete(userID, merchant string) error {
	_, err := r.db.Exec(
		`DELETE FROM detected_subscriptions WHERE user_id = ? AND merchant = ?`,
		userID, merchant,
	)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
