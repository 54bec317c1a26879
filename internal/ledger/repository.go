package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrDuplicateImport is returned by MarkImported when the (external id,
// institution) pair has already been recorded. Concurrent imports of the same
// transaction race past the existence check; the unique index is the
// authoritative tie-break.
var ErrDuplicateImport = errors.New("transaction already imported")

// Repository persists account mappings and the duplicate-suppression table
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new ledger repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ledger").Logger(),
	}
}

// GetMapping looks up the ledger account id for (institution, external id).
// Returns sql.ErrNoRows when no mapping exists.
func (r *Repository) GetMapping(institution, externalID string) (string, error) {
	var ledgerID string
	err := r.db.QueryRow(
		`SELECT ledger_account_id FROM ledger_account_map WHERE institution = ? AND external_id = ?`,
		institution, externalID,
	).Scan(&ledgerID)
	if err != nil {
		return "", err
	}
	return ledgerID, nil
}

// SaveMapping records (institution, external id) -> ledger account id.
// On conflict the existing mapping wins and is returned, so concurrent
// resolvers converge on one ledger account.
func (r *Repository) SaveMapping(institution, externalID, ledgerID string) (string, error) {
	_, err := r.db.Exec(
		`INSERT INTO ledger_account_map (institution, external_id, ledger_account_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (institution, external_id) DO NOTHING`,
		institution, externalID, ledgerID, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to save account mapping: %w", err)
	}
	return r.GetMapping(institution, externalID)
}

// IsImported reports whether (external id, institution) has been written to
// the ledger already.
func (r *Repository) IsImported(externalID, institution string) (bool, error) {
	var one int
	err := r.db.QueryRow(
		`SELECT 1 FROM imported_transactions WHERE external_id = ? AND institution = ?`,
		externalID, institution,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkImported records a successful ledger write. Returns ErrDuplicateImport
// when another writer got there first.
func (r *Repository) MarkImported(externalID, institution, ledgerTxnID string) error {
	_, err := r.db.Exec(
		`INSERT INTO imported_transactions (external_id, institution, ledger_txn_id, imported_at)
		 VALUES (?, ?, ?, ?)`,
		externalID, institution, ledgerTxnID, time.Now().Unix(),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") ||
			strings.Contains(strings.ToLower(err.Error()), "constraint") {
			return ErrDuplicateImport
		}
		return fmt.Errorf("failed to record imported transaction: %w", err)
	}
	return nil
}
