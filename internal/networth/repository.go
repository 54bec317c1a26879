// Package networth computes and stores per-user daily net-worth snapshots.
package networth

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

// Repository persists net-worth snapshots
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new net-worth repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "networth").Logger(),
	}
}

// Save writes a snapshot; re-running for the same (user, date) overwrites
func (r *Repository) Save(snap *domain.NetWorthSnapshot) error {
	breakdown, err := json.Marshal(snap.Breakdown)
	if err != nil {
		breakdown = []byte("{}")
	}
	snap.CreatedAt = time.Now().UTC()
	_, err = r.db.Exec(
		`INSERT INTO net_worth_snapshots (user_id, snapshot_date, total_assets, total_liabilities, net_worth, breakdown, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, snapshot_date) DO UPDATE SET
		   total_assets = excluded.total_assets,
		   total_liabilities = excluded.total_liabilities,
		   net_worth = excluded.net_worth,
		   breakdown = excluded.breakdown,
		   created_at = excluded.created_at`,
		snap.UserID, snap.SnapshotDate, snap.TotalAssets, snap.TotalLiabilities,
		snap.NetWorth, string(breakdown), snap.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot for a user, offset rows back.
// Offset 0 is the newest snapshot, offset 1 the one before it.
func (r *Repository) Latest(userID string, offset int) (*domain.NetWorthSnapshot, error) {
	row := r.db.QueryRow(
		`SELECT user_id, snapshot_date, total_assets, total_liabilities, net_worth, breakdown, created_at
		 FROM net_worth_snapshots WHERE user_id = ?
		 ORDER BY snapshot_date DESC LIMIT 1 OFFSET ?`, userID, offset)
	return scanSnapshot(row)
}

// History returns snapshots for a user, oldest first, capped at limit
func (r *Repository) History(userID string, limit int) ([]domain.NetWorthSnapshot, error) {
	if limit <= 0 {
		limit = 365
	}
	rows, err := r.db.Query(
		`SELECT user_id, snapshot_date, total_assets, total_liabilities, net_worth, breakdown, created_at
		 FROM (
		   SELECT * FROM net_worth_snapshots WHERE user_id = ?
		   ORDER BY snapshot_date DESC LIMIT ?
		 ) ORDER BY snapshot_date ASC`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot history: %w", err)
	}
	defer rows.Close()

	var snaps []domain.NetWorthSnapshot
	for rows.Next() {
		snap, err := scanSnapshotRows(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

// AverageMonthlyExpenses returns the mean of breakdown.monthlyExpenses over
// the trailing 12 months of snapshots.
func (r *Repository) AverageMonthlyExpenses(userID string) (float64, error) {
	cutoff := time.Now().AddDate(0, -12, 0).Format("2006-01-02")
	rows, err := r.db.Query(
		`SELECT breakdown FROM net_worth_snapshots WHERE user_id = ? AND snapshot_date >= ?`,
		userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to query expense history: %w", err)
	}
	defer rows.Close()

	sum := 0.0
	count := 0
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, err
		}
		var breakdown map[string]float64
		if err := json.Unmarshal([]byte(raw), &breakdown); err != nil {
			continue
		}
		if v, ok := breakdown["monthlyExpenses"]; ok && v > 0 {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), rows.Err()
}

// ErrNoSnapshot is returned when a user has no snapshots yet
var ErrNoSnapshot = errors.New("no snapshot found")

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshotFrom(s rowScanner) (*domain.NetWorthSnapshot, error) {
	var snap domain.NetWorthSnapshot
	var breakdown string
	var createdAt int64
	err := s.Scan(&snap.UserID, &snap.SnapshotDate, &snap.TotalAssets, &snap.TotalLiabilities,
		&snap.NetWorth, &breakdown, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	snap.CreatedAt = time.Unix(createdAt, 0).UTC()
	snap.Breakdown = make(map[string]float64)
	_ = json.Unmarshal([]byte(breakdown), &snap.Breakdown)
	return &snap, nil
}

func scanSnapshot(row *sql.Row) (*domain.NetWorthSnapshot, error) {
	return scanSnapshotFrom(row)
}

func scanSnapshotRows(rows *sql.Rows) (*domain.NetWorthSnapshot, error) {
	return scanSnapshotFrom(rows)
}
