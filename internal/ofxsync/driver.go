// Package ofxsync drives scheduled imports from institution OFX/CSV downloads.
// The actual download is behind a contract; the driver owns parsing, ledger
// upserts, anomaly checks, and the consecutive-failure counter.
package ofxsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/alerts"
	"github.com/aristath/moneta/internal/categorize"
	"github.com/aristath/moneta/internal/ledger"
	"github.com/aristath/moneta/internal/parsers"
	"github.com/aristath/moneta/internal/synclog"
)

// failureThreshold is how many consecutive download failures trigger an alert
const failureThreshold = 3

// Institution is one configured OFX/CSV source
type Institution struct {
	Name        string
	Kind        parsers.Kind
	CSVProfile  *parsers.CSVProfile
	AccountType string // credit institutions map to liability ledger accounts
}

// Downloader fetches statement files for an institution and returns their
// paths. Implementations may call bank OFX endpoints, drive a scraper, or
// pick up files an external process dropped.
type Downloader interface {
	Download(ctx context.Context, inst Institution) ([]string, error)
}

// DirDownloader treats the download directory as the handoff point: an
// external fetcher drops files named "<institution>-*.{ofx,qfx,csv}" and this
// picks up whatever has not been processed yet.
type DirDownloader struct {
	Dir string
}

// Download lists unprocessed files for the institution
func (d *DirDownloader) Download(_ context.Context, inst Institution) ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read download dir: %w", err)
	}
	var files []string
	prefix := strings.ToLower(inst.Name) + "-"
	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || strings.HasSuffix(name, ".done") {
			continue
		}
		files = append(files, filepath.Join(d.Dir, entry.Name()))
	}
	return files, nil
}

// Driver runs the per-institution sync loop
type Driver struct {
	institutions []Institution
	downloader   Downloader
	bridge       *ledger.Adapter
	anomaly      *categorize.AnomalyDetector // nil = disabled
	events       *alerts.Engine
	logs         *synclog.Repository
	log          zerolog.Logger

	mu           sync.Mutex
	failureCount map[string]int
}

// NewDriver creates a new OFX sync driver
func NewDriver(
	institutions []Institution,
	downloader Downloader,
	bridge *ledger.Adapter,
	anomaly *categorize.AnomalyDetector,
	events *alerts.Engine,
	logs *synclog.Repository,
	log zerolog.Logger,
) *Driver {
	return &Driver{
		institutions: institutions,
		downloader:   downloader,
		bridge:       bridge,
		anomaly:      anomaly,
		events:       events,
		logs:         logs,
		log:          log.With().Str("component", "ofxsync").Logger(),
		failureCount: make(map[string]int),
	}
}

// SyncAll processes every configured institution in order. Failures are
// contained per institution; SyncAll never fails.
func (d *Driver) SyncAll(ctx context.Context, userID string) {
	for _, inst := range d.institutions {
		d.syncInstitution(ctx, userID, inst)
	}
}

func (d *Driver) syncInstitution(ctx context.Context, userID string, inst Institution) {
	logID, err := d.logs.Start(userID, inst.Name, "ofx")
	if err != nil {
		d.log.Error().Err(err).Str("institution", inst.Name).Msg("Failed to open sync log")
	}

	files, err := d.downloader.Download(ctx, inst)
	if err != nil {
		count := d.recordFailure(inst.Name)
		d.log.Warn().Err(err).Str("institution", inst.Name).Int("consecutive", count).Msg("Download failed")
		if count == failureThreshold {
			d.events.Evaluate(ctx, alerts.Event{
				Type:        alerts.EventSyncFailure,
				UserID:      userID,
				Institution: inst.Name,
				Description: fmt.Sprintf("%d consecutive download failures: %v", count, err),
			})
		}
		if logID != "" {
			if err := d.logs.Fail(logID, err.Error()); err != nil {
				d.log.Warn().Err(err).Msg("Failed to close sync log")
			}
		}
		return
	}
	d.resetFailures(inst.Name)

	totalAdded := 0
	for _, file := range files {
		added, err := d.importFile(ctx, userID, inst, file)
		if err != nil {
			d.log.Error().Err(err).Str("file", filepath.Base(file)).Msg("Import failed")
			continue
		}
		totalAdded += added

		if err := os.Rename(file, file+".done"); err != nil {
			d.log.Warn().Err(err).Str("file", filepath.Base(file)).Msg("Failed to mark file done")
		}
	}

	if logID != "" {
		if err := d.logs.Complete(logID, totalAdded); err != nil {
			d.log.Warn().Err(err).Msg("Failed to close sync log")
		}
	}
	d.log.Info().Str("institution", inst.Name).Int("files", len(files)).Int("added", totalAdded).Msg("OFX sync complete")
}

// importFile parses one statement file and bridges it into the ledger
func (d *Driver) importFile(ctx context.Context, userID string, inst Institution, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	result := parsers.Parse(inst.Kind, data, inst.CSVProfile)

	accountType := inst.AccountType
	if result.Meta.AccountType != "" {
		accountType = result.Meta.AccountType
	}
	accountID, err := d.bridge.UpsertAccount(ctx, inst.Name, result.Meta.AccountID, accountName(inst, result.Meta), accountType, "USD")
	if err != nil {
		return 0, err
	}

	res := d.bridge.UpsertTransactions(ctx, inst.Name, accountID, result.Transactions)

	if result.Meta.Balance != nil {
		d.bridge.UpdateAccountBalance(ctx, accountID, *result.Meta.Balance, parsers.NormalizeDateOrToday(result.Meta.BalanceDate))
	}

	// Anomaly check covers only what was actually new this run
	if d.anomaly != nil && res.Added > 0 {
		added := result.Transactions[:min(res.Added, len(result.Transactions))]
		spends := make([]categorize.Spend, 0, len(added))
		for _, txn := range added {
			spends = append(spends, categorize.Spend{
				UserID:   userID,
				Merchant: txn.Name,
				Amount:   -txn.Amount, // withdrawals are negative in raw form
				Date:     txn.Date,
			})
		}
		d.anomaly.Check(ctx, spends)
	}

	return res.Added, nil
}

// Institutions returns the configured institution list
func (d *Driver) Institutions() []Institution {
	return d.institutions
}

// FailureCount returns the current consecutive-failure count for an
// institution. Used by the sync status API.
func (d *Driver) FailureCount(institution string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failureCount[institution]
}

func (d *Driver) recordFailure(institution string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failureCount[institution]++
	return d.failureCount[institution]
}

func (d *Driver) resetFailures(institution string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failureCount[institution] = 0
}

func accountName(inst Institution, meta parsers.AccountMeta) string {
	if meta.AccountID != "" {
		return fmt.Sprintf("%s %s", inst.Name, lastFour(meta.AccountID))
	}
	return inst.Name
}

func lastFour(id string) string {
	if len(id) <= 4 {
		return id
	}
	return id[len(id)-4:]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
