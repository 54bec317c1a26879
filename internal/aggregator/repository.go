package aggregator

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

// Repository persists institution links and their mirrored accounts and
// transactions.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new aggregator repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "aggregator").Logger(),
	}
}

const linkColumns = `id, user_id, source_kind, item_id, access_token, institution_id, institution_name,
sync_cursor, status, error_code, error_message, last_synced_at, created_at`

// CreateLink inserts a new institution link
func (r *Repository) CreateLink(link *domain.InstitutionLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	link.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(
		`INSERT INTO plaid_items (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.UserID, link.SourceKind, link.ItemID, link.AccessToken,
		link.InstitutionID, link.InstitutionName, link.SyncCursor, string(link.Status),
		link.ErrorCode, link.ErrorMessage, nullTime(link.LastSyncedAt), link.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create institution link: %w", err)
	}
	return nil
}

// GetLink fetches a link by id scoped to a user
func (r *Repository) GetLink(id, userID string) (*domain.InstitutionLink, error) {
	row := r.db.QueryRow(`SELECT `+linkColumns+` FROM plaid_items WHERE id = ? AND user_id = ?`, id, userID)
	return scanLink(row)
}

// GetLinkByItemID fetches a link by the aggregator's item id (webhooks carry
// no user context).
func (r *Repository) GetLinkByItemID(itemID string) (*domain.InstitutionLink, error) {
	row := r.db.QueryRow(`SELECT `+linkColumns+` FROM plaid_items WHERE item_id = ?`, itemID)
	return scanLink(row)
}

// ListLinks returns all links for a user
func (r *Repository) ListLinks(userID string) ([]domain.InstitutionLink, error) {
	return r.queryLinks(`SELECT `+linkColumns+` FROM plaid_items WHERE user_id = ? ORDER BY created_at`, userID)
}

// ListSyncable returns every aggregator link not awaiting re-login
func (r *Repository) ListSyncable() ([]domain.InstitutionLink, error) {
	return r.queryLinks(
		`SELECT ` + linkColumns + ` FROM plaid_items
		 WHERE source_kind = 'aggregator' AND status != 'login_required'`)
}

// ListHealthy returns every aggregator link in good standing
func (r *Repository) ListHealthy() ([]domain.InstitutionLink, error) {
	return r.queryLinks(
		`SELECT ` + linkColumns + ` FROM plaid_items
		 WHERE source_kind = 'aggregator' AND status = 'good'`)
}

// DeleteLink removes a link and its mirrored accounts and transactions
func (r *Repository) DeleteLink(id, userID string) error {
	res, err := r.db.Exec(`DELETE FROM plaid_items WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	_, _ = r.db.Exec(`DELETE FROM plaid_accounts WHERE item_id = ?`, id)
	return nil
}

// SetStatus transitions a link's health status
func (r *Repository) SetStatus(id string, status domain.LinkStatus, errorCode, errorMessage string) error {
	_, err := r.db.Exec(
		`UPDATE plaid_items SET status = ?, error_code = ?, error_message = ? WHERE id = ?`,
		string(status), errorCode, errorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set link status: %w", err)
	}
	return nil
}

// CommitCursorTx writes back the new cursor and marks the link healthy.
// Runs inside the delta transaction so the cursor only advances with its data.
func (r *Repository) CommitCursorTx(tx *sql.Tx, linkID, cursor string) error {
	_, err := tx.Exec(
		`UPDATE plaid_items SET sync_cursor = ?, status = 'good', error_code = '', error_message = '',
		 last_synced_at = ? WHERE id = ?`,
		cursor, time.Now().Unix(), linkID,
	)
	if err != nil {
		return fmt.Errorf("failed to commit cursor: %w", err)
	}
	return nil
}

// UpsertAccount mirrors one aggregator account locally
func (r *Repository) UpsertAccount(acct *domain.SourceAccount) error {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	_, err := r.db.Exec(
		`INSERT INTO plaid_accounts
		 (id, item_id, user_id, external_id, name, account_type, account_subtype,
		  current_balance, available_balance, credit_limit, currency, hidden)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (item_id, external_id) DO UPDATE SET
		   name = excluded.name,
		   account_type = excluded.account_type,
		   account_subtype = excluded.account_subtype,
		   current_balance = excluded.current_balance,
		   available_balance = excluded.available_balance,
		   credit_limit = excluded.credit_limit,
		   currency = excluded.currency`,
		acct.ID, acct.ItemID, acct.UserID, acct.ExternalID, acct.Name,
		acct.AccountType, acct.AccountSubtype, acct.CurrentBalance,
		nullFloatPtr(acct.AvailableBalance), nullFloatPtr(acct.CreditLimit),
		acct.Currency, boolToInt(acct.Hidden),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// ListAccounts returns the mirrored accounts for a user
func (r *Repository) ListAccounts(userID string) ([]domain.SourceAccount, error) {
	rows, err := r.db.Query(
		`SELECT id, item_id, user_id, external_id, name, account_type, account_subtype,
		        current_balance, available_balance, credit_limit, currency, hidden
		 FROM plaid_accounts WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.SourceAccount
	for rows.Next() {
		var a domain.SourceAccount
		var available, limit sql.NullFloat64
		var hidden int
		if err := rows.Scan(&a.ID, &a.ItemID, &a.UserID, &a.ExternalID, &a.Name, &a.AccountType,
			&a.AccountSubtype, &a.CurrentBalance, &available, &limit, &a.Currency, &hidden); err != nil {
			return nil, err
		}
		if available.Valid {
			a.AvailableBalance = &available.Float64
		}
		if limit.Valid {
			a.CreditLimit = &limit.Float64
		}
		a.Hidden = hidden != 0
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetAccountID resolves the local account id from (external id, link id)
func (r *Repository) GetAccountID(externalID, itemID string) (string, error) {
	var id string
	err := r.db.QueryRow(
		`SELECT id FROM plaid_accounts WHERE external_id = ? AND item_id = ?`, externalID, itemID,
	).Scan(&id)
	return id, err
}

// SetAccountHidden toggles an account's hidden flag scoped to its owner
func (r *Repository) SetAccountHidden(id, userID string, hidden bool) error {
	res, err := r.db.Exec(
		`UPDATE plaid_accounts SET hidden = ? WHERE id = ? AND user_id = ?`,
		boolToInt(hidden), id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpsertTransactionTx mirrors one transaction inside the delta transaction.
// ON CONFLICT updates the mutable fields only.
func (r *Repository) UpsertTransactionTx(tx *sql.Tx, txn *domain.SourceTransaction) error {
	_, err := tx.Exec(
		`INSERT INTO plaid_transactions
		 (transaction_id, account_id, user_id, amount, name, merchant_name, categories, pending, txn_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (transaction_id) DO UPDATE SET
		   amount = excluded.amount,
		   name = excluded.name,
		   merchant_name = excluded.merchant_name,
		   categories = excluded.categories,
		   pending = excluded.pending,
		   txn_date = excluded.txn_date`,
		txn.TransactionID, txn.AccountID, txn.UserID, txn.Amount, txn.Name,
		txn.MerchantName, txn.Categories, boolToInt(txn.Pending), txn.Date,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}
	return nil
}

// DeleteTransactionTx removes one transaction inside the delta transaction,
// scoped to the owning user.
func (r *Repository) DeleteTransactionTx(tx *sql.Tx, transactionID, userID string) error {
	_, err := tx.Exec(
		`DELETE FROM plaid_transactions WHERE transaction_id = ? AND user_id = ?`,
		transactionID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the mirrored transactions for a user, newest first
func (r *Repository) ListTransactions(userID string, limit int) ([]domain.SourceTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(
		`SELECT transaction_id, account_id, user_id, amount, name, merchant_name, categories, pending, txn_date
		 FROM plaid_transactions WHERE user_id = ?
		 ORDER BY txn_date DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.SourceTransaction
	for rows.Next() {
		var t domain.SourceTransaction
		var pending int
		if err := rows.Scan(&t.TransactionID, &t.AccountID, &t.UserID, &t.Amount, &t.Name,
			&t.MerchantName, &t.Categories, &pending, &t.Date); err != nil {
			return nil, err
		}
		t.Pending = pending != 0
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// TransactionsForMonth returns a user's transactions within one calendar month
func (r *Repository) TransactionsForMonth(userID string, year, month int) ([]domain.SourceTransaction, error) {
	start := fmt.Sprintf("%04d-%02d-01", year, month)
	end := fmt.Sprintf("%04d-%02d-32", year, month)
	rows, err := r.db.Query(
		`SELECT transaction_id, account_id, user_id, amount, name, merchant_name, categories, pending, txn_date
		 FROM plaid_transactions WHERE user_id = ? AND txn_date >= ? AND txn_date < ?
		 ORDER BY txn_date`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query month transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.SourceTransaction
	for rows.Next() {
		var t domain.SourceTransaction
		var pending int
		if err := rows.Scan(&t.TransactionID, &t.AccountID, &t.UserID, &t.Amount, &t.Name,
			&t.MerchantName, &t.Categories, &pending, &t.Date); err != nil {
			return nil, err
		}
		t.Pending = pending != 0
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (r *Repository) queryLinks(query string, args ...interface{}) ([]domain.InstitutionLink, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var links []domain.InstitutionLink
	for rows.Next() {
		link, err := scanLinkRows(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLinkFrom(s rowScanner) (*domain.InstitutionLink, error) {
	var link domain.InstitutionLink
	var status string
	var lastSynced sql.NullInt64
	var createdAt int64
	err := s.Scan(&link.ID, &link.UserID, &link.SourceKind, &link.ItemID, &link.AccessToken,
		&link.InstitutionID, &link.InstitutionName, &link.SyncCursor, &status,
		&link.ErrorCode, &link.ErrorMessage, &lastSynced, &createdAt)
	if err != nil {
		return nil, err
	}
	link.Status = domain.LinkStatus(status)
	link.CreatedAt = time.Unix(createdAt, 0).UTC()
	if lastSynced.Valid {
		t := time.Unix(lastSynced.Int64, 0).UTC()
		link.LastSyncedAt = &t
	}
	return &link, nil
}

func scanLink(row *sql.Row) (*domain.InstitutionLink, error) {
	link, err := scanLinkFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan link: %w", err)
	}
	return link, nil
}

func scanLinkRows(rows *sql.Rows) (*domain.InstitutionLink, error) {
	return scanLinkFrom(rows)
}

// JoinCategories flattens the aggregator's category hierarchy for storage
func JoinCategories(categories []string) string {
	return strings.Join(categories, ",")
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullFloatPtr(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
