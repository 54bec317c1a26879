package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/parsers"
)

// Service is the subset of the ledger client the adapter needs. Defined as an
// interface so tests can substitute a fake ledger.
type Service interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	CreateAccount(ctx context.Context, name, accountType, currency string) (string, error)
	CreateTransaction(ctx context.Context, req TransactionRequest) (string, error)
	UpdateAccountBalance(ctx context.Context, accountID string, balance float64, date string) error
}

// UpsertResult reports the outcome of a transaction batch upsert
type UpsertResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Adapter performs idempotent account and transaction upserts against the
// external ledger. It holds the process-wide account cache: the cache is
// never invalidated during normal operation and repopulates lazily through
// the persistent mapping after a restart.
type Adapter struct {
	service Service
	repo    *Repository
	log     zerolog.Logger

	mu           sync.Mutex
	accountCache map[string]string // "institution:externalId" -> ledger account id
}

// NewAdapter creates a new ledger adapter
func NewAdapter(service Service, repo *Repository, log zerolog.Logger) *Adapter {
	return &Adapter{
		service:      service,
		repo:         repo,
		log:          log.With().Str("component", "ledger_adapter").Logger(),
		accountCache: make(map[string]string),
	}
}

// UpsertAccount resolves the ledger account for (institution, external id),
// creating one when nothing matches. Resolution order: process-local cache,
// persistent mapping table, ledger display-name match, create. DB or ledger
// failures in the middle steps fall through to the next step; only the final
// create can fail the call.
func (a *Adapter) UpsertAccount(ctx context.Context, institution, externalID, name, accountType, currency string) (string, error) {
	cacheKey := institution + ":" + externalID

	a.mu.Lock()
	if id, ok := a.accountCache[cacheKey]; ok {
		a.mu.Unlock()
		return id, nil
	}
	a.mu.Unlock()

	// Persistent mapping table
	if id, err := a.repo.GetMapping(institution, externalID); err == nil {
		a.cacheAccount(cacheKey, id)
		return id, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		a.log.Warn().Err(err).Str("institution", institution).Msg("Mapping lookup failed, falling through")
	}

	// Match by display name among existing ledger accounts
	displayName := fmt.Sprintf("[%s] %s", strings.ToUpper(institution), name)
	if accounts, err := a.service.ListAccounts(ctx); err == nil {
		for _, acct := range accounts {
			if acct.Name == displayName {
				if id, err := a.repo.SaveMapping(institution, externalID, acct.ID); err == nil {
					a.cacheAccount(cacheKey, id)
					return id, nil
				}
				a.cacheAccount(cacheKey, acct.ID)
				return acct.ID, nil
			}
		}
	} else {
		a.log.Warn().Err(err).Msg("Ledger account listing failed, falling through to create")
	}

	// Create a new ledger account
	ledgerType := "asset"
	if strings.EqualFold(accountType, "credit") {
		ledgerType = "liabilities"
	}
	id, err := a.service.CreateAccount(ctx, displayName, ledgerType, currency)
	if err != nil {
		return "", fmt.Errorf("failed to create ledger account: %w", err)
	}

	// The mapping upsert is the tie-break under concurrent creates
	if mapped, err := a.repo.SaveMapping(institution, externalID, id); err == nil {
		id = mapped
	} else {
		a.log.Warn().Err(err).Str("institution", institution).Msg("Failed to persist account mapping")
	}
	a.cacheAccount(cacheKey, id)

	a.log.Info().
		Str("institution", institution).
		Str("ledger_account", id).
		Str("name", name).
		Msg("Ledger account created")
	return id, nil
}

// UpsertTransactions writes a batch of raw transactions to the ledger,
// suppressing duplicates via the imported-transactions table. Every failure
// mode counts the transaction as skipped; UpsertTransactions never fails.
//
// Writes are sequential: the duplicate-suppression table is racy under
// concurrent inserts for the same external id.
func (a *Adapter) UpsertTransactions(ctx context.Context, institution, ledgerAccountID string, txns []parsers.RawTransaction) UpsertResult {
	var res UpsertResult

	for _, txn := range txns {
		externalID := txn.ID
		if externalID == "" {
			externalID = fmt.Sprintf("%s-%s-%s-%.2f", institution, txn.Date, txn.Name, txn.Amount)
		}

		imported, err := a.repo.IsImported(externalID, institution)
		if err != nil {
			a.log.Warn().Err(err).Str("external_id", externalID).Msg("Import check failed, skipping")
			res.Skipped++
			continue
		}
		if imported {
			res.Skipped++
			continue
		}

		req := TransactionRequest{
			Amount:      fmt.Sprintf("%.2f", absFloat(txn.Amount)),
			Date:        parsers.NormalizeDateOrToday(txn.Date),
			Description: txn.Name,
			ExternalID:  externalID,
		}
		if txn.Amount < 0 {
			// Withdrawal: money leaves the tracked account
			req.Source = ledgerAccountID
			req.Destination = txn.Name
		} else {
			req.Source = txn.Name
			req.Destination = ledgerAccountID
		}

		ledgerTxnID, err := a.service.CreateTransaction(ctx, req)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
				res.Skipped++
				continue
			}
			a.log.Error().Err(err).Str("external_id", externalID).Msg("Ledger transaction create failed")
			res.Skipped++
			continue
		}

		if err := a.repo.MarkImported(externalID, institution, ledgerTxnID); err != nil {
			if errors.Is(err, ErrDuplicateImport) {
				res.Skipped++
				continue
			}
			a.log.Warn().Err(err).Str("external_id", externalID).Msg("Failed to record import key")
		}
		res.Added++
	}

	return res
}

// UpdateAccountBalance pushes a balance observation, best effort
func (a *Adapter) UpdateAccountBalance(ctx context.Context, ledgerAccountID string, balance float64, date string) {
	if err := a.service.UpdateAccountBalance(ctx, ledgerAccountID, balance, date); err != nil {
		a.log.Warn().Err(err).Str("ledger_account", ledgerAccountID).Msg("Balance update failed")
	}
}

// ListAccounts proxies the ledger account listing
func (a *Adapter) ListAccounts(ctx context.Context) ([]Account, error) {
	return a.service.ListAccounts(ctx)
}

func (a *Adapter) cacheAccount(key, id string) {
	a.mu.Lock()
	a.accountCache[key] = id
	a.mu.Unlock()
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
