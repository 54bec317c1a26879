package ledger

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/parsers"
)

// fakeLedger is an in-memory Service implementation
type fakeLedger struct {
	accounts     []Account
	transactions []TransactionRequest
	balances     map[string]float64
	nextID       int
	failCreate   bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]float64)}
}

func (f *fakeLedger) ListAccounts(_ context.Context) ([]Account, error) {
	return f.accounts, nil
}

func (f *fakeLedger) CreateAccount(_ context.Context, name, accountType, currency string) (string, error) {
	if f.failCreate {
		return "", fmt.Errorf("ledger unavailable")
	}
	f.nextID++
	id := fmt.Sprintf("acct-%d", f.nextID)
	f.accounts = append(f.accounts, Account{ID: id, Name: name, Type: accountType})
	return id, nil
}

func (f *fakeLedger) CreateTransaction(_ context.Context, req TransactionRequest) (string, error) {
	f.transactions = append(f.transactions, req)
	return fmt.Sprintf("txn-%d", len(f.transactions)), nil
}

func (f *fakeLedger) UpdateAccountBalance(_ context.Context, accountID string, balance float64, _ string) error {
	f.balances[accountID] = balance
	return nil
}

func setupAdapter(t *testing.T) (*Adapter, *fakeLedger, *Repository) {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.NewInMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db.Conn(), zerolog.Nop())
	ledger := newFakeLedger()
	return NewAdapter(ledger, repo, zerolog.Nop()), ledger, repo
}

func TestUpsertAccount_CreatesOnce(t *testing.T) {
	adapter, ledger, _ := setupAdapter(t)
	ctx := context.Background()

	id, err := adapter.UpsertAccount(ctx, "chase", "ext-1", "Checking", "depository", "USD")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, ledger.accounts, 1)
	assert.Equal(t, "[CHASE] Checking", ledger.accounts[0].Name)
	assert.Equal(t, "asset", ledger.accounts[0].Type)

	// Same source account resolves to the same ledger account, no new create
	again, err := adapter.UpsertAccount(ctx, "chase", "ext-1", "Checking", "depository", "USD")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Len(t, ledger.accounts, 1)
}

func TestUpsertAccount_CreditBecomesLiability(t *testing.T) {
	adapter, ledger, _ := setupAdapter(t)

	_, err := adapter.UpsertAccount(context.Background(), "amex", "card-1", "Platinum", "credit", "USD")
	require.NoError(t, err)
	require.Len(t, ledger.accounts, 1)
	assert.Equal(t, "liabilities", ledger.accounts[0].Type)
}

func TestUpsertAccount_MatchesByDisplayName(t *testing.T) {
	adapter, ledger, repo := setupAdapter(t)
	ctx := context.Background()

	// Account exists in the ledger but no mapping row yet (fresh database)
	ledger.accounts = append(ledger.accounts, Account{ID: "existing", Name: "[CHASE] Checking", Type: "asset"})

	id, err := adapter.UpsertAccount(ctx, "chase", "ext-1", "Checking", "depository", "USD")
	require.NoError(t, err)
	assert.Equal(t, "existing", id)

	// The match was persisted to the mapping table
	mapped, err := repo.GetMapping("chase", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "existing", mapped)
}

func TestUpsertAccount_SurvivesRestart(t *testing.T) {
	adapter, ledger, repo := setupAdapter(t)
	ctx := context.Background()

	id, err := adapter.UpsertAccount(ctx, "chase", "ext-1", "Checking", "depository", "USD")
	require.NoError(t, err)

	// New adapter with an empty cache over the same mapping table
	restarted := NewAdapter(ledger, repo, zerolog.Nop())
	again, err := restarted.UpsertAccount(ctx, "chase", "ext-1", "Checking", "depository", "USD")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Len(t, ledger.accounts, 1)
}

func TestUpsertTransactions_Idempotent(t *testing.T) {
	adapter, ledger, _ := setupAdapter(t)
	ctx := context.Background()

	txns := []parsers.RawTransaction{
		{ID: "t1", Date: "2026-01-10", Name: "AMAZON", Amount: -45.99},
		{ID: "t2", Date: "2026-01-15", Name: "PAYROLL", Amount: 3500.00},
		{Date: "2026-01-16", Name: "COFFEE", Amount: -12.50}, // no external id
	}

	res := adapter.UpsertTransactions(ctx, "chase", "acct-1", txns)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, 0, res.Skipped)
	assert.Len(t, ledger.transactions, 3)

	// Re-running the exact batch adds nothing
	res = adapter.UpsertTransactions(ctx, "chase", "acct-1", txns)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 3, res.Skipped)
	assert.Len(t, ledger.transactions, 3)
}

func TestUpsertTransactions_Direction(t *testing.T) {
	adapter, ledger, _ := setupAdapter(t)

	adapter.UpsertTransactions(context.Background(), "chase", "acct-1", []parsers.RawTransaction{
		{ID: "w1", Date: "2026-01-10", Name: "GROCERIES", Amount: -80.00},
		{ID: "d1", Date: "2026-01-11", Name: "PAYROLL", Amount: 2000.00},
	})
	require.Len(t, ledger.transactions, 2)

	withdrawal := ledger.transactions[0]
	assert.Equal(t, "acct-1", withdrawal.Source)
	assert.Equal(t, "GROCERIES", withdrawal.Destination)
	assert.Equal(t, "80.00", withdrawal.Amount)

	deposit := ledger.transactions[1]
	assert.Equal(t, "PAYROLL", deposit.Source)
	assert.Equal(t, "acct-1", deposit.Destination)
	assert.Equal(t, "2000.00", deposit.Amount)
}

func TestUpsertTransactions_SyntheticIDsDistinguishRows(t *testing.T) {
	adapter, ledger, _ := setupAdapter(t)

	// Same merchant, same day, different amounts: both import
	res := adapter.UpsertTransactions(context.Background(), "chase", "acct-1", []parsers.RawTransaction{
		{Date: "2026-01-10", Name: "COFFEE", Amount: -4.50},
		{Date: "2026-01-10", Name: "COFFEE", Amount: -5.25},
	})
	assert.Equal(t, 2, res.Added)
	assert.Len(t, ledger.transactions, 2)

	// A true duplicate row is suppressed
	res = adapter.UpsertTransactions(context.Background(), "chase", "acct-1", []parsers.RawTransaction{
		{Date: "2026-01-10", Name: "COFFEE", Amount: -4.50},
	})
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 1, res.Skipped)
}

func TestMarkImported_Duplicate(t *testing.T) {
	_, _, repo := setupAdapter(t)

	require.NoError(t, repo.MarkImported("x1", "chase", "txn-1"))
	assert.ErrorIs(t, repo.MarkImported("x1", "chase", "txn-2"), ErrDuplicateImport)

	// Same external id under a different institution is a distinct key
	require.NoError(t, repo.MarkImported("x1", "amex", "txn-3"))
}
