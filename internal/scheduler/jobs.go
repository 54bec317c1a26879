package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/aggregator"
	"github.com/aristath/moneta/internal/alerts"
	"github.com/aristath/moneta/internal/assets"
	"github.com/aristath/moneta/internal/auth"
	"github.com/aristath/moneta/internal/categorize"
	"github.com/aristath/moneta/internal/forecast"
	"github.com/aristath/moneta/internal/insights"
	"github.com/aristath/moneta/internal/ledger"
	"github.com/aristath/moneta/internal/networth"
	"github.com/aristath/moneta/internal/ofxsync"
	"github.com/aristath/moneta/internal/subscriptions"
)

// jobTimeout bounds one run of any background job
const jobTimeout = 10 * time.Minute

// userLister enumerates configured user ids for per-user fan-out
type userLister interface {
	ListUserIDs() ([]string, error)
}

var _ userLister = (*auth.Repository)(nil)

// forEachUser invokes fn once per configured user, swallowing and logging
// individual failures. With no users configured the job runs once with an
// empty user id (legacy single-tenant mode).
func forEachUser(users userLister, log zerolog.Logger, fn func(userID string) error) error {
	ids, err := users.ListUserIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		ids = []string{""}
	}
	for _, id := range ids {
		if err := fn(id); err != nil {
			log.Error().Err(err).Str("user", id).Msg("Per-user job step failed")
		}
	}
	return nil
}

func jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), jobTimeout)
}

// RefreshBalancesJob scans ledger account balances and feeds them through the
// alert engine so low_balance rules fire.
type RefreshBalancesJob struct {
	bridge *ledger.Adapter
	users  userLister
	events *alerts.Engine
	log    zerolog.Logger
}

// NewRefreshBalancesJob creates the balance-scan job
func NewRefreshBalancesJob(bridge *ledger.Adapter, users userLister, events *alerts.Engine, log zerolog.Logger) *RefreshBalancesJob {
	return &RefreshBalancesJob{bridge: bridge, users: users, events: events, log: log.With().Str("job", "refresh_balances").Logger()}
}

func (j *RefreshBalancesJob) Name() string { return "refresh_balances" }

func (j *RefreshBalancesJob) Run() error {
	if j.bridge == nil {
		return nil
	}
	ctx, cancel := jobContext()
	defer cancel()

	accounts, err := j.bridge.ListAccounts(ctx)
	if err != nil {
		return err
	}
	return forEachUser(j.users, j.log, func(userID string) error {
		for _, acct := range accounts {
			balance := acct.Balance
			j.events.Evaluate(ctx, alerts.Event{
				Type:        alerts.EventLowBalance,
				UserID:      userID,
				AccountName: acct.Name,
				Balance:     &balance,
			})
		}
		return nil
	})
}

// OFXSyncJob downloads and imports institution statements, then snapshots
// each user's net worth.
type OFXSyncJob struct {
	driver    *ofxsync.Driver
	snapshots *networth.Service
	users     userLister
	log       zerolog.Logger
}

// NewOFXSyncJob creates the OFX sync job
func NewOFXSyncJob(driver *ofxsync.Driver, snapshots *networth.Service, users userLister, log zerolog.Logger) *OFXSyncJob {
	return &OFXSyncJob{driver: driver, snapshots: snapshots, users: users, log: log.With().Str("job", "ofx_sync").Logger()}
}

func (j *OFXSyncJob) Name() string { return "ofx_sync" }

func (j *OFXSyncJob) Run() error {
	ctx, cancel := jobContext()
	defer cancel()
	return forEachUser(j.users, j.log, func(userID string) error {
		if j.driver != nil {
			j.driver.SyncAll(ctx, userID)
		}
		_, err := j.snapshots.Snapshot(ctx, userID)
		return err
	})
}

// AggregatorSyncJob runs the cursor delta sync for every syncable link.
// With snapshots set, each user's net worth is snapshotted afterwards.
type AggregatorSyncJob struct {
	sync      *aggregator.SyncService
	snapshots *networth.Service // nil = sync only
	users     userLister
	log       zerolog.Logger
}

// NewAggregatorSyncJob creates the aggregator delta-sync job
func NewAggregatorSyncJob(sync *aggregator.SyncService, snapshots *networth.Service, users userLister, log zerolog.Logger) *AggregatorSyncJob {
	return &AggregatorSyncJob{sync: sync, snapshots: snapshots, users: users, log: log.With().Str("job", "aggregator_sync").Logger()}
}

func (j *AggregatorSyncJob) Name() string { return "aggregator_sync" }

func (j *AggregatorSyncJob) Run() error {
	ctx, cancel := jobContext()
	defer cancel()
	j.sync.SyncAll(ctx)
	if j.snapshots == nil {
		return nil
	}
	return forEachUser(j.users, j.log, func(userID string) error {
		_, err := j.snapshots.Snapshot(ctx, userID)
		return err
	})
}

// BalanceRefreshJob pulls current balances for healthy aggregator links
type BalanceRefreshJob struct {
	sync *aggregator.SyncService
	log  zerolog.Logger
}

// NewBalanceRefreshJob creates the aggregator balance-refresh job
func NewBalanceRefreshJob(sync *aggregator.SyncService, log zerolog.Logger) *BalanceRefreshJob {
	return &BalanceRefreshJob{sync: sync, log: log.With().Str("job", "balance_refresh").Logger()}
}

func (j *BalanceRefreshJob) Name() string { return "balance_refresh" }

func (j *BalanceRefreshJob) Run() error {
	ctx, cancel := jobContext()
	defer cancel()
	j.sync.RefreshAllBalances(ctx, time.Now().Format("2006-01-02"))
	return nil
}

// SnapshotJob computes the daily net-worth snapshot for every user
type SnapshotJob struct {
	snapshots *networth.Service
	users     userLister
	log       zerolog.Logger
}

// NewSnapshotJob creates the daily snapshot job
func NewSnapshotJob(snapshots *networth.Service, users userLister, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{snapshots: snapshots, users: users, log: log.With().Str("job", "snapshot").Logger()}
}

func (j *SnapshotJob) Name() string { return "snapshot" }

func (j *SnapshotJob) Run() error {
	ctx, cancel := jobContext()
	defer cancel()
	return forEachUser(j.users, j.log, func(userID string) error {
		_, err := j.snapshots.Snapshot(ctx, userID)
		return err
	})
}

// InsightsJob aggregates the current month's insight for every user
type InsightsJob struct {
	service *insights.Service
	users   userLister
	log     zerolog.Logger
}

// NewInsightsJob creates the monthly insights job
func NewInsightsJob(service *insights.Service, users userLister, log zerolog.Logger) *InsightsJob {
	return &InsightsJob{service: service, users: users, log: log.With().Str("job", "insights").Logger()}
}

func (j *InsightsJob) Name() string { return "monthly_insights" }

func (j *InsightsJob) Run() error {
	ctx, cancel := jobContext()
	defer cancel()
	now := time.Now()
	return forEachUser(j.users, j.log, func(userID string) error {
		_, err := j.service.Generate(ctx, userID, now.Year(), int(now.Month()))
		return err
	})
}

// ForecastJob generates the weekly 12- and 60-month forecasts for every user
type ForecastJob struct {
	forecaster *forecast.Forecaster
	users      userLister
	log        zerolog.Logger
}

// NewForecastJob creates the weekly forecast job
func NewForecastJob(forecaster *forecast.Forecaster, users userLister, log zerolog.Logger) *ForecastJob {
	return &ForecastJob{forecaster: forecaster, users: users, log: log.With().Str("job", "forecast").Logger()}
}

func (j *ForecastJob) Name() string { return "forecast" }

func (j *ForecastJob) Run() error {
	ctx, cancel := jobContext()
	defer cancel()
	return forEachUser(j.users, j.log, func(userID string) error {
		for _, horizon := range []int{12, 60} {
			if _, err := j.forecaster.Generate(ctx, userID, forecast.Options{HorizonMonths: horizon}); err != nil {
				return err
			}
		}
		return nil
	})
}

// RevalueJob re-records the current value of illiquid non-note assets into
// value history so weekly valuation trends stay continuous. Note balances are
// recomputed by the snapshot path instead.
type RevalueJob struct {
	assets *assets.Repository
	users  userLister
	log    zerolog.Logger
}

// NewRevalueJob creates the weekly asset revaluation job
func NewRevalueJob(repo *assets.Repository, users userLister, log zerolog.Logger) *RevalueJob {
	return &RevalueJob{assets: repo, users: users, log: log.With().Str("job", "revalue").Logger()}
}

func (j *RevalueJob) Name() string { return "revalue_assets" }

func (j *RevalueJob) Run() error {
	today := time.Now().Format("2006-01-02")
	return forEachUser(j.users, j.log, func(userID string) error {
		list, err := j.assets.ListActive(userID)
		if err != nil {
			return err
		}
		for i := range list {
			asset := &list[i]
			if !asset.IsIlliquid() || asset.HasNoteSchedule() {
				continue
			}
			if err := j.assets.RecordValue(asset.ID, today, asset.CurrentValue, "scheduled"); err != nil {
				j.log.Warn().Err(err).Str("asset", asset.ID).Msg("Failed to record valuation")
			}
		}
		return nil
	})
}

// SubscriptionsJob runs the weekly recurring-charge scan for every user
type SubscriptionsJob struct {
	detector *subscriptions.Detector
	users    userLister
	log      zerolog.Logger
}

// NewSubscriptionsJob creates the weekly subscription-detection job
func NewSubscriptionsJob(detector *subscriptions.Detector, users userLister, log zerolog.Logger) *SubscriptionsJob {
	return &SubscriptionsJob{detector: detector, users: users, log: log.With().Str("job", "subscriptions").Logger()}
}

func (j *SubscriptionsJob) Name() string { return "subscription_detection" }

func (j *SubscriptionsJob) Run() error {
	ctx, cancel := jobContext()
	defer cancel()
	return forEachUser(j.users, j.log, func(userID string) error {
		_, err := j.detector.Detect(ctx, userID)
		return err
	})
}

// AnomalyJob runs the anomaly detector over each user's last day of
// transactions.
type AnomalyJob struct {
	txns    *aggregator.Repository
	anomaly *categorize.AnomalyDetector
	users   userLister
	log     zerolog.Logger
}

// NewAnomalyJob creates the daily anomaly-check job
func NewAnomalyJob(txns *aggregator.Repository, anomaly *categorize.AnomalyDetector, users userLister, log zerolog.Logger) *AnomalyJob {
	return &AnomalyJob{txns: txns, anomaly: anomaly, users: users, log: log.With().Str("job", "anomaly").Logger()}
}

func (j *AnomalyJob) Name() string { return "anomaly_check" }

func (j *AnomalyJob) Run() error {
	if j.anomaly == nil {
		return nil
	}
	ctx, cancel := jobContext()
	defer cancel()
	cutoff := time.Now().AddDate(0, 0, -1).Format("2006-01-02")

	return forEachUser(j.users, j.log, func(userID string) error {
		txns, err := j.txns.ListTransactions(userID, 200)
		if err != nil {
			return err
		}
		var spends []categorize.Spend
		for _, txn := range txns {
			if txn.Date < cutoff || txn.Amount <= 0 {
				continue
			}
			merchant := txn.MerchantName
			if merchant == "" {
				merchant = txn.Name
			}
			spends = append(spends, categorize.Spend{
				UserID:   userID,
				Merchant: merchant,
				Amount:   txn.Amount,
				Date:     txn.Date,
			})
		}
		j.anomaly.Check(ctx, spends)
		return nil
	})
}
