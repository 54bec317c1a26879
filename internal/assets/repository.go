// Package assets manages user-declared assets: real estate, vehicles,
// private notes, business interests, and their valuation history.
package assets

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

// Repository persists manual assets, value history, and note payments
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new assets repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "assets").Logger(),
	}
}

const assetColumns = `id, user_id, asset_type, name, current_value, valuation_source, value_as_of,
active, address, note_principal, note_rate, note_start_date, note_term_months, created_at`

// Create inserts a new manual asset and populates its id
func (r *Repository) Create(asset *domain.ManualAsset) error {
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	asset.CreatedAt = time.Now().UTC()
	if asset.ValueAsOf == "" {
		asset.ValueAsOf = asset.CreatedAt.Format("2006-01-02")
	}
	_, err := r.db.Exec(
		`INSERT INTO manual_assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.ID, asset.UserID, asset.AssetType, asset.Name, asset.CurrentValue,
		asset.ValuationSource, asset.ValueAsOf, boolToInt(asset.Active), asset.Address,
		nullFloat(asset.NotePrincipal), nullFloat(asset.NoteRate),
		nullString(asset.NoteStartDate), nullInt(asset.NoteTermMonths),
		asset.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

// Get fetches one asset scoped to its owner
func (r *Repository) Get(id, userID string) (*domain.ManualAsset, error) {
	row := r.db.QueryRow(`SELECT `+assetColumns+` FROM manual_assets WHERE id = ? AND user_id = ?`, id, userID)
	return scanAsset(row)
}

// ListActive returns every active asset for a user
func (r *Repository) ListActive(userID string) ([]domain.ManualAsset, error) {
	rows, err := r.db.Query(
		`SELECT `+assetColumns+` FROM manual_assets WHERE user_id = ? AND active = 1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.ManualAsset
	for rows.Next() {
		asset, err := scanAssetRows(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, rows.Err()
}

// allowedUpdateColumns maps accepted API field names to their columns.
// Unknown field names are rejected at the handler with a validation error.
var allowedUpdateColumns = map[string]string{
	"name":             "name",
	"asset_type":       "asset_type",
	"current_value":    "current_value",
	"valuation_source": "valuation_source",
	"value_as_of":      "value_as_of",
	"active":           "active",
	"address":          "address",
	"note_principal":   "note_principal",
	"note_rate":        "note_rate",
	"note_start_date":  "note_start_date",
	"note_term_months": "note_term_months",
}

// AllowedField reports whether an API field name may be updated
func AllowedField(name string) (string, bool) {
	col, ok := allowedUpdateColumns[name]
	return col, ok
}

// Update applies an allowlisted column map, scoped to the owner.
// The caller validates field names via AllowedField first.
func (r *Repository) Update(id, userID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update")
	}

	query := `UPDATE manual_assets SET `
	args := make([]interface{}, 0, len(fields)+2)
	first := true
	for col, val := range fields {
		if !first {
			query += ", "
		}
		query += col + " = ?"
		args = append(args, val)
		first = false
	}
	query += ` WHERE id = ? AND user_id = ?`
	args = append(args, id, userID)

	res, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateValue persists a recomputed current value (note balance refresh)
func (r *Repository) UpdateValue(id string, value float64, source, asOf string) error {
	_, err := r.db.Exec(
		`UPDATE manual_assets SET current_value = ?, valuation_source = ?, value_as_of = ? WHERE id = ?`,
		value, source, asOf, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update asset value: %w", err)
	}
	return nil
}

// Delete deactivates an asset (assets are never hard-deleted; history rows
// reference them).
func (r *Repository) Delete(id, userID string) error {
	res, err := r.db.Exec(`UPDATE manual_assets SET active = 0 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordValue appends a valuation observation, one per (asset, date)
func (r *Repository) RecordValue(assetID, date string, value float64, source string) error {
	_, err := r.db.Exec(
		`INSERT INTO asset_value_history (asset_id, recorded_date, value, source)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (asset_id, recorded_date) DO UPDATE SET value = excluded.value, source = excluded.source`,
		assetID, date, value, source,
	)
	if err != nil {
		return fmt.Errorf("failed to record asset value: %w", err)
	}
	return nil
}

// ValueHistory returns the valuation history for an asset, oldest first
func (r *Repository) ValueHistory(assetID string) ([]domain.ValueHistoryEntry, error) {
	rows, err := r.db.Query(
		`SELECT asset_id, recorded_date, value, source FROM asset_value_history
		 WHERE asset_id = ? ORDER BY recorded_date`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load value history: %w", err)
	}
	defer rows.Close()

	var entries []domain.ValueHistoryEntry
	for rows.Next() {
		var e domain.ValueHistoryEntry
		if err := rows.Scan(&e.AssetID, &e.RecordedDate, &e.Value, &e.Source); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordNotePayment appends a payment row for a note asset
func (r *Repository) RecordNotePayment(payment *domain.NotePayment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	_, err := r.db.Exec(
		`INSERT INTO note_payments (id, asset_id, payment_date, amount, principal, interest, balance_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID, payment.AssetID, payment.PaymentDate, payment.Amount,
		payment.Principal, payment.Interest, payment.BalanceAfter, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record note payment: %w", err)
	}
	return nil
}

// NotePayments returns the payment history for a note asset, oldest first
func (r *Repository) NotePayments(assetID string) ([]domain.NotePayment, error) {
	rows, err := r.db.Query(
		`SELECT id, asset_id, payment_date, amount, principal, interest, balance_after
		 FROM note_payments WHERE asset_id = ? ORDER BY payment_date`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load note payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.NotePayment
	for rows.Next() {
		var p domain.NotePayment
		if err := rows.Scan(&p.ID, &p.AssetID, &p.PaymentDate, &p.Amount, &p.Principal, &p.Interest, &p.BalanceAfter); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssetFrom(s rowScanner) (*domain.ManualAsset, error) {
	var a domain.ManualAsset
	var active int
	var principal, rate sql.NullFloat64
	var startDate sql.NullString
	var termMonths sql.NullInt64
	var createdAt int64
	err := s.Scan(&a.ID, &a.UserID, &a.AssetType, &a.Name, &a.CurrentValue, &a.ValuationSource,
		&a.ValueAsOf, &active, &a.Address, &principal, &rate, &startDate, &termMonths, &createdAt)
	if err != nil {
		return nil, err
	}
	a.Active = active != 0
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	if principal.Valid {
		a.NotePrincipal = &principal.Float64
	}
	if rate.Valid {
		a.NoteRate = &rate.Float64
	}
	if startDate.Valid {
		a.NoteStartDate = &startDate.String
	}
	if termMonths.Valid {
		v := int(termMonths.Int64)
		a.NoteTermMonths = &v
	}
	return &a, nil
}

func scanAsset(row *sql.Row) (*domain.ManualAsset, error) {
	return scanAssetFrom(row)
}

func scanAssetRows(rows *sql.Rows) (*domain.ManualAsset, error) {
	return scanAssetFrom(rows)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
