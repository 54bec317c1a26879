package forecast

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a forecast snapshot does not exist
var ErrNotFound = errors.New("forecast not found")

// Repository persists forecast snapshots
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new forecast repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "forecast").Logger(),
	}
}

// Save inserts a forecast snapshot and populates its id
func (r *Repository) Save(snap *Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.CreatedAt = time.Now().UTC()

	scenarios, err := json.Marshal(snap.Scenarios)
	if err != nil {
		return fmt.Errorf("failed to encode scenarios: %w", err)
	}
	summary, err := json.Marshal(snap.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO forecast_snapshots (id, user_id, horizon_months, scenarios, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.UserID, snap.HorizonMonths, string(scenarios), string(summary), snap.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save forecast: %w", err)
	}
	return nil
}

// Latest returns the newest forecast for a user
func (r *Repository) Latest(userID string) (*Snapshot, error) {
	row := r.db.QueryRow(
		`SELECT id, user_id, horizon_months, scenarios, summary, created_at
		 FROM forecast_snapshots WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT 1`, userID)
	return scanForecast(row)
}

// Get fetches one forecast scoped to its owner
func (r *Repository) Get(id, userID string) (*Snapshot, error) {
	row := r.db.QueryRow(
		`SELECT id, user_id, horizon_months, scenarios, summary, created_at
		 FROM forecast_snapshots WHERE id = ? AND user_id = ?`, id, userID)
	return scanForecast(row)
}

// History lists a user's forecasts, newest first
func (r *Repository) History(userID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(
		`SELECT id, user_id, horizon_months, scenarios, summary, created_at
		 FROM forecast_snapshots WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list forecasts: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanForecastFrom(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanForecastFrom(s rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var scenarios, summary string
	var createdAt int64
	err := s.Scan(&snap.ID, &snap.UserID, &snap.HorizonMonths, &scenarios, &summary, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan forecast: %w", err)
	}
	snap.CreatedAt = time.Unix(createdAt, 0).UTC()
	if err := json.Unmarshal([]byte(scenarios), &snap.Scenarios); err != nil {
		return nil, fmt.Errorf("failed to decode scenarios: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &snap.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &snap, nil
}

func scanForecast(row *sql.Row) (*Snapshot, error) {
	return scanForecastFrom(row)
}
