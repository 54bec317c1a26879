// Package synclog records one row per sync attempt across every ingestion
// method (OFX, aggregator, uploads).
package synclog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

// Repository persists sync log rows
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new sync log repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "synclog").Logger(),
	}
}

// Start opens a sync log row with status running and returns its id
func (r *Repository) Start(userID, institution, method string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(
		`INSERT INTO sync_logs (id, user_id, institution, method, status, started_at)
		 VALUES (?, ?, ?, ?, 'running', ?)`,
		id, userID, institution, method, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to open sync log: %w", err)
	}
	return id, nil
}

// Complete closes a sync log row with status success
func (r *Repository) Complete(id string, transactionsAdded int) error {
	_, err := r.db.Exec(
		`UPDATE sync_logs SET status = 'success', transactions_added = ?, completed_at = ? WHERE id = ?`,
		transactionsAdded, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete sync log: %w", err)
	}
	return nil
}

// Fail closes a sync log row with status error
func (r *Repository) Fail(id, message string) error {
	_, err := r.db.Exec(
		`UPDATE sync_logs SET status = 'error', error_message = ?, completed_at = ? WHERE id = ?`,
		message, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to fail sync log: %w", err)
	}
	return nil
}

// Recent returns the latest sync attempts, newest first
func (r *Repository) Recent(limit int) ([]domain.SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT id, user_id, institution, method, status, transactions_added, error_message, started_at, completed_at
		 FROM sync_logs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.SyncLog
	for rows.Next() {
		var l domain.SyncLog
		var startedAt int64
		var completedAt sql.NullInt64
		if err := rows.Scan(&l.ID, &l.UserID, &l.Institution, &l.Method, &l.Status,
			&l.TransactionsAdded, &l.ErrorMessage, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		l.StartedAt = time.Unix(startedAt, 0).UTC()
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0).UTC()
			l.CompletedAt = &t
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
