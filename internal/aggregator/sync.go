package aggregator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/categorize"
	"github.com/aristath/moneta/internal/crypto"
	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/ledger"
	"github.com/aristath/moneta/internal/parsers"
	"github.com/aristath/moneta/internal/synclog"
)

// SyncService drives cursor-based incremental sync for institution links.
// The cursor is the sole consistency anchor: it only advances inside the same
// DB transaction that applies its delta.
type SyncService struct {
	client  *Client
	repo    *Repository
	db      *database.DB
	sealer  *crypto.Sealer
	bridge  *ledger.Adapter             // nil = ledger bridging disabled
	anomaly *categorize.AnomalyDetector // nil = anomaly checks disabled
	logs    *synclog.Repository
	log     zerolog.Logger
}

// NewSyncService creates a new delta-sync service
func NewSyncService(
	client *Client,
	repo *Repository,
	db *database.DB,
	sealer *crypto.Sealer,
	bridge *ledger.Adapter,
	anomaly *categorize.AnomalyDetector,
	logs *synclog.Repository,
	log zerolog.Logger,
) *SyncService {
	return &SyncService{
		client:  client,
		repo:    repo,
		db:      db,
		sealer:  sealer,
		bridge:  bridge,
		anomaly: anomaly,
		logs:    logs,
		log:     log.With().Str("component", "aggregator_sync").Logger(),
	}
}

// SyncLink pulls the full pending delta for one link and applies it in a
// single DB transaction. Returns the number of transactions added.
func (s *SyncService) SyncLink(ctx context.Context, link *domain.InstitutionLink) (int, error) {
	logID, logErr := s.logs.Start(link.UserID, link.InstitutionName, "aggregator")
	if logErr != nil {
		s.log.Warn().Err(logErr).Msg("Failed to open sync log")
	}

	added, err := s.syncLink(ctx, link)
	if logID != "" {
		if err != nil {
			_ = s.logs.Fail(logID, err.Error())
		} else {
			_ = s.logs.Complete(logID, added)
		}
	}
	return added, err
}

func (s *SyncService) syncLink(ctx context.Context, link *domain.InstitutionLink) (int, error) {
	token, err := s.accessToken(link)
	if err != nil {
		return 0, err
	}

	// Collect the full delta before touching the DB
	var (
		addedTxns, modifiedTxns []Transaction
		removedTxns             []RemovedTransaction
		cursor                  = link.SyncCursor
	)
	for {
		page, err := s.client.SyncTransactions(ctx, token, cursor)
		if err != nil {
			s.recordSyncError(link, err)
			return 0, err
		}
		addedTxns = append(addedTxns, page.Added...)
		modifiedTxns = append(modifiedTxns, page.Modified...)
		removedTxns = append(removedTxns, page.Removed...)
		cursor = page.NextCursor
		if !page.HasMore {
			break
		}
	}

	// Apply added, modified, removed and the cursor write-back atomically,
	// in the order the aggregator returned them.
	err = s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, txn := range append(append([]Transaction{}, addedTxns...), modifiedTxns...) {
			local := s.toSourceTransaction(link, txn)
			if err := s.repo.UpsertTransactionTx(tx, local); err != nil {
				return err
			}
		}
		for _, removed := range removedTxns {
			if err := s.repo.DeleteTransactionTx(tx, removed.TransactionID, link.UserID); err != nil {
				return err
			}
		}
		return s.repo.CommitCursorTx(tx, link.ID, cursor)
	})
	if err != nil {
		s.recordSyncError(link, err)
		return 0, fmt.Errorf("failed to apply transaction delta: %w", err)
	}

	// Post-commit side effects are best effort; the local delta stands
	// regardless of what happens downstream.
	s.bridgeToLedger(ctx, link, append(append([]Transaction{}, addedTxns...), modifiedTxns...))
	s.checkAnomalies(ctx, link, addedTxns)

	s.log.Info().
		Str("link", link.ID).
		Int("added", len(addedTxns)).
		Int("modified", len(modifiedTxns)).
		Int("removed", len(removedTxns)).
		Msg("Delta sync complete")
	return len(addedTxns), nil
}

// SyncAll syncs every aggregator link not awaiting re-login. Individual link
// failures are logged and do not stop the fan-out.
func (s *SyncService) SyncAll(ctx context.Context) {
	links, err := s.repo.ListSyncable()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list syncable links")
		return
	}
	for i := range links {
		if _, err := s.SyncLink(ctx, &links[i]); err != nil {
			s.log.Error().Err(err).Str("link", links[i].ID).Msg("Link sync failed")
		}
	}
}

// SyncByItemID syncs the link owning an aggregator item id. Used by the
// webhook path, which carries no user context.
func (s *SyncService) SyncByItemID(ctx context.Context, itemID string) {
	link, err := s.repo.GetLinkByItemID(itemID)
	if err != nil {
		s.log.Warn().Err(err).Str("item_id", itemID).Msg("Webhook for unknown item")
		return
	}
	if _, err := s.SyncLink(ctx, link); err != nil {
		s.log.Error().Err(err).Str("item_id", itemID).Msg("Webhook-triggered sync failed")
	}
}

// RefreshBalances pulls current balances for one link, updates the local
// mirror, and pushes each balance to the ledger best-effort.
func (s *SyncService) RefreshBalances(ctx context.Context, link *domain.InstitutionLink, today string) error {
	token, err := s.accessToken(link)
	if err != nil {
		return err
	}

	accounts, err := s.client.GetAccounts(ctx, token)
	if err != nil {
		s.recordSyncError(link, err)
		return err
	}

	for _, acct := range accounts {
		local := s.toSourceAccount(link, acct)
		if err := s.repo.UpsertAccount(local); err != nil {
			s.log.Warn().Err(err).Str("account", acct.AccountID).Msg("Failed to mirror account")
			continue
		}
		if s.bridge != nil {
			ledgerID, err := s.bridge.UpsertAccount(ctx, s.institutionKey(link), acct.AccountID,
				acct.Name, acct.Subtype, local.Currency)
			if err != nil {
				s.log.Warn().Err(err).Str("account", acct.AccountID).Msg("Ledger account resolve failed")
				continue
			}
			s.bridge.UpdateAccountBalance(ctx, ledgerID, acct.Balances.Current, today)
		}
	}
	return nil
}

// RefreshAllBalances refreshes balances for every link in good standing
func (s *SyncService) RefreshAllBalances(ctx context.Context, today string) {
	links, err := s.repo.ListHealthy()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list healthy links")
		return
	}
	for i := range links {
		if err := s.RefreshBalances(ctx, &links[i], today); err != nil {
			s.log.Error().Err(err).Str("link", links[i].ID).Msg("Balance refresh failed")
		}
	}
}

// MirrorAccounts pulls and stores the account list for a fresh link
func (s *SyncService) MirrorAccounts(ctx context.Context, link *domain.InstitutionLink) error {
	token, err := s.accessToken(link)
	if err != nil {
		return err
	}
	accounts, err := s.client.GetAccounts(ctx, token)
	if err != nil {
		return err
	}
	for _, acct := range accounts {
		if err := s.repo.UpsertAccount(s.toSourceAccount(link, acct)); err != nil {
			return err
		}
	}
	return nil
}

// HandleItemStatus transitions a link's status from a webhook notification
func (s *SyncService) HandleItemStatus(itemID, code, message string) {
	link, err := s.repo.GetLinkByItemID(itemID)
	if err != nil {
		s.log.Warn().Err(err).Str("item_id", itemID).Msg("Status webhook for unknown item")
		return
	}

	status := domain.LinkStatusError
	if code == "ITEM_LOGIN_REQUIRED" || code == "PENDING_EXPIRATION" {
		status = domain.LinkStatusLoginRequired
	}
	if err := s.repo.SetStatus(link.ID, status, code, message); err != nil {
		s.log.Error().Err(err).Str("link", link.ID).Msg("Failed to transition link status")
	}
}

func (s *SyncService) accessToken(link *domain.InstitutionLink) (string, error) {
	if s.sealer == nil {
		return link.AccessToken, nil
	}
	token, err := s.sealer.Open(link.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to unseal access token: %w", err)
	}
	return token, nil
}

func (s *SyncService) recordSyncError(link *domain.InstitutionLink, err error) {
	status := domain.LinkStatusError
	code := ""
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
		if apiErr.LoginRequired() {
			status = domain.LinkStatusLoginRequired
		}
	}
	if dbErr := s.repo.SetStatus(link.ID, status, code, err.Error()); dbErr != nil {
		s.log.Error().Err(dbErr).Str("link", link.ID).Msg("Failed to record sync error")
	}
}

func (s *SyncService) toSourceTransaction(link *domain.InstitutionLink, txn Transaction) *domain.SourceTransaction {
	accountID, err := s.repo.GetAccountID(txn.AccountID, link.ID)
	if err != nil {
		// Account not mirrored yet; keep the external id so the row is usable
		accountID = txn.AccountID
	}
	return &domain.SourceTransaction{
		TransactionID: txn.TransactionID,
		AccountID:     accountID,
		UserID:        link.UserID,
		Amount:        txn.Amount,
		Name:          txn.Name,
		MerchantName:  txn.MerchantName,
		Categories:    JoinCategories(txn.Categories),
		Pending:       txn.Pending,
		Date:          txn.Date,
	}
}

func (s *SyncService) toSourceAccount(link *domain.InstitutionLink, acct Account) *domain.SourceAccount {
	accountType := "asset"
	if acct.Type == "credit" || acct.Type == "loan" {
		accountType = "liability"
	}
	currency := acct.Balances.Currency
	if currency == "" {
		currency = "USD"
	}
	return &domain.SourceAccount{
		ItemID:           link.ID,
		UserID:           link.UserID,
		ExternalID:       acct.AccountID,
		Name:             acct.Name,
		AccountType:      accountType,
		AccountSubtype:   acct.Subtype,
		CurrentBalance:   acct.Balances.Current,
		AvailableBalance: acct.Balances.Available,
		CreditLimit:      acct.Balances.Limit,
		Currency:         currency,
	}
}

func (s *SyncService) institutionKey(link *domain.InstitutionLink) string {
	if link.InstitutionName != "" {
		return link.InstitutionName
	}
	return link.InstitutionID
}

// bridgeToLedger forwards synced transactions to the external ledger, grouped
// by source account. The aggregator records money out as positive, the ledger
// bridge expects withdrawals negative, so amounts are negated.
func (s *SyncService) bridgeToLedger(ctx context.Context, link *domain.InstitutionLink, txns []Transaction) {
	if s.bridge == nil || len(txns) == 0 {
		return
	}

	byAccount := make(map[string][]parsers.RawTransaction)
	names := make(map[string]string)
	for _, txn := range txns {
		byAccount[txn.AccountID] = append(byAccount[txn.AccountID], parsers.RawTransaction{
			ID:     txn.TransactionID,
			Date:   txn.Date,
			Name:   txn.Name,
			Amount: -txn.Amount,
		})
		if _, ok := names[txn.AccountID]; !ok {
			names[txn.AccountID] = txn.AccountID
		}
	}

	institution := s.institutionKey(link)
	for externalID, raw := range byAccount {
		ledgerID, err := s.bridge.UpsertAccount(ctx, institution, externalID, names[externalID], "", "USD")
		if err != nil {
			s.log.Warn().Err(err).Str("account", externalID).Msg("Ledger bridge account resolve failed")
			continue
		}
		result := s.bridge.UpsertTransactions(ctx, institution, ledgerID, raw)
		s.log.Debug().
			Str("account", externalID).
			Int("added", result.Added).
			Int("skipped", result.Skipped).
			Msg("Ledger bridge complete")
	}
}

// checkAnomalies runs the anomaly detector over newly added transactions.
// Aggregator amounts are already positive for spending.
func (s *SyncService) checkAnomalies(ctx context.Context, link *domain.InstitutionLink, added []Transaction) {
	if s.anomaly == nil || len(added) == 0 {
		return
	}
	spends := make([]categorize.Spend, 0, len(added))
	for _, txn := range added {
		merchant := txn.MerchantName
		if merchant == "" {
			merchant = txn.Name
		}
		spends = append(spends, categorize.Spend{
			UserID:   link.UserID,
			Merchant: merchant,
			Amount:   txn.Amount,
			Date:     txn.Date,
		})
	}
	s.anomaly.Check(ctx, spends)
}
