package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/aggregator"
	"github.com/aristath/moneta/internal/alerts"
	"github.com/aristath/moneta/internal/assets"
	"github.com/aristath/moneta/internal/auth"
	"github.com/aristath/moneta/internal/categorize"
	"github.com/aristath/moneta/internal/config"
	"github.com/aristath/moneta/internal/crypto"
	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/forecast"
	"github.com/aristath/moneta/internal/insights"
	"github.com/aristath/moneta/internal/insurance"
	"github.com/aristath/moneta/internal/ledger"
	alertshandlers "github.com/aristath/moneta/internal/modules/alerts/handlers"
	assetshandlers "github.com/aristath/moneta/internal/modules/assets/handlers"
	billinghandlers "github.com/aristath/moneta/internal/modules/billing/handlers"
	forecastinghandlers "github.com/aristath/moneta/internal/modules/forecasting/handlers"
	insightshandlers "github.com/aristath/moneta/internal/modules/insights/handlers"
	insurancehandlers "github.com/aristath/moneta/internal/modules/insurance/handlers"
	networthhandlers "github.com/aristath/moneta/internal/modules/networth/handlers"
	plaidhandlers "github.com/aristath/moneta/internal/modules/plaid/handlers"
	subscriptionshandlers "github.com/aristath/moneta/internal/modules/subscriptions/handlers"
	synchandlers "github.com/aristath/moneta/internal/modules/sync/handlers"
	uploadhandlers "github.com/aristath/moneta/internal/modules/upload/handlers"
	"github.com/aristath/moneta/internal/networth"
	"github.com/aristath/moneta/internal/ofxsync"
	"github.com/aristath/moneta/internal/parsers"
	"github.com/aristath/moneta/internal/scheduler"
	"github.com/aristath/moneta/internal/server"
	"github.com/aristath/moneta/internal/subscriptions"
	"github.com/aristath/moneta/internal/synclog"
	"github.com/aristath/moneta/internal/system"
	"github.com/aristath/moneta/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info"})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Moneta")

	if cfg.JWTAccessSecret == "" || cfg.JWTRefreshSecret == "" {
		log.Fatal().Msg("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}

	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileLedger,
		Name:    "moneta",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := db.ApplySchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}
	conn := db.Conn()

	// Credential sealing (required when aggregator credentials are configured)
	var sealer *crypto.Sealer
	if cfg.EncryptionKey != "" {
		sealer, err = crypto.NewSealer(cfg.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize credential sealing")
		}
	} else if cfg.AggregatorClientID != "" {
		log.Fatal().Msg("ENCRYPTION_KEY is required when aggregator credentials are set")
	}

	// External ledger bridge
	var bridge *ledger.Adapter
	if cfg.LedgerURL != "" {
		client := ledger.NewClient(cfg.LedgerURL, cfg.LedgerToken, log)
		bridge = ledger.NewAdapter(client, ledger.NewRepository(conn, log), log)
	} else {
		log.Warn().Msg("LEDGER_URL not set, ledger bridging disabled")
	}

	// Alerts
	alertsRepo := alerts.NewRepository(conn, log)
	var push *alerts.PushClient
	if cfg.PushURL != "" {
		push = alerts.NewPushClient(cfg.PushURL, cfg.PushTopic, log)
	}
	engine := alerts.NewEngine(alertsRepo, push, log)

	// Categorization and anomaly detection
	catRepo := categorize.NewRepository(conn, log)
	categorizer := categorize.NewCategorizer(catRepo, categorize.NewLLMClient(cfg.LLMAPIKey, log), log)
	anomaly := categorize.NewAnomalyDetector(catRepo, engine, log)

	// Aggregator
	syncLogs := synclog.NewRepository(conn, log)
	aggClient := aggregator.NewClient(cfg.AggregatorClientID, cfg.AggregatorSecret, cfg.AggregatorEnv, cfg.WebhookURL, log)
	aggRepo := aggregator.NewRepository(conn, log)
	aggSync := aggregator.NewSyncService(aggClient, aggRepo, db, sealer, bridge, anomaly, syncLogs, log)

	// Domain repositories and services
	assetsRepo := assets.NewRepository(conn, log)
	insuranceRepo := insurance.NewRepository(conn, log)
	networthRepo := networth.NewRepository(conn, log)
	networthSvc := networth.NewService(networthRepo, assetsRepo, aggRepo, bridge, engine, log)
	forecastRepo := forecast.NewRepository(conn, log)
	forecaster := forecast.NewForecaster(networthRepo, assetsRepo, forecastRepo, log)
	insightsRepo := insights.NewRepository(conn, log)
	insightsSvc := insights.NewService(insightsRepo, aggRepo, categorizer, networthRepo, assetsRepo, log)
	subsRepo := subscriptions.NewRepository(conn, log)
	detector := subscriptions.NewDetector(subsRepo, catRepo, engine, log)

	// OFX driver (only when institutions are configured)
	var ofxDriver *ofxsync.Driver
	if institutions := loadInstitutions(cfg.DataDir, log); len(institutions) > 0 {
		ofxDriver = ofxsync.NewDriver(
			institutions,
			&ofxsync.DirDownloader{Dir: cfg.DownloadDir},
			bridge, anomaly, engine, syncLogs, log,
		)
	}

	// Auth
	authRepo := auth.NewRepository(db, log)
	tokens := auth.NewTokenService(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authSvc := auth.NewService(authRepo, tokens, log)

	srv := server.New(server.Config{
		Port:    cfg.Port,
		AppURL:  cfg.AppURL,
		DevMode: cfg.DevMode,
		Log:     log,
		Handlers: server.Handlers{
			Auth:          auth.NewHandler(authSvc, tokens, !cfg.DevMode, log),
			Tokens:        tokens,
			Assets:        assetshandlers.NewHandler(assetsRepo, log),
			Insurance:     insurancehandlers.NewHandler(insuranceRepo, log),
			NetWorth:      networthhandlers.NewHandler(networthRepo, networthSvc, log),
			Forecasting:   forecastinghandlers.NewHandler(forecastRepo, forecaster, log),
			Insights:      insightshandlers.NewHandler(insightsRepo, insightsSvc, log),
			Subscriptions: subscriptionshandlers.NewHandler(subsRepo, detector, log),
			Alerts:        alertshandlers.NewHandler(alertsRepo, engine, log),
			Plaid:         plaidhandlers.NewHandler(aggClient, aggRepo, aggSync, sealer, log),
			Sync:          synchandlers.NewHandler(syncLogs, aggRepo, ofxDriver, aggSync, networthSvc, log),
			Upload:        uploadhandlers.NewHandler(cfg.UploadDir(), bridge, anomaly, log),
			Billing:       billinghandlers.NewHandler(log),
			System:        system.NewHandler(db, cfg.DataDir, log),
		},
	})

	sched := scheduler.New(log)
	registerJobs(sched, log, jobDeps{
		bridge:     bridge,
		users:      authRepo,
		events:     engine,
		ofx:        ofxDriver,
		aggSync:    aggSync,
		snapshots:  networthSvc,
		insights:   insightsSvc,
		forecaster: forecaster,
		assets:     assetsRepo,
		detector:   detector,
		aggRepo:    aggRepo,
		anomaly:    anomaly,
	})
	sched.Start()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	sched.Stop()
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
	log.Info().Msg("Stopped")
}

type jobDeps struct {
	bridge     *ledger.Adapter
	users      *auth.Repository
	events     *alerts.Engine
	ofx        *ofxsync.Driver
	aggSync    *aggregator.SyncService
	snapshots  *networth.Service
	insights   *insights.Service
	forecaster *forecast.Forecaster
	assets     *assets.Repository
	detector   *subscriptions.Detector
	aggRepo    *aggregator.Repository
	anomaly    *categorize.AnomalyDetector
}

func registerJobs(sched *scheduler.Scheduler, log zerolog.Logger, d jobDeps) {
	entries := []struct {
		schedule string
		job      scheduler.Job
	}{
		{"*/15 * * * *", scheduler.NewRefreshBalancesJob(d.bridge, d.users, d.events, log)},
		{"0 6,12,18 * * *", scheduler.NewOFXSyncJob(d.ofx, d.snapshots, d.users, log)},
		{"0 7 * * *", scheduler.NewAggregatorSyncJob(d.aggSync, d.snapshots, d.users, log)},
		{"0 0 * * *", scheduler.NewSnapshotJob(d.snapshots, d.users, log)},
		{"0 1 1 * *", scheduler.NewInsightsJob(d.insights, d.users, log)},
		{"0 3 * * 0", scheduler.NewForecastJob(d.forecaster, d.users, log)},
		{"0 4 * * 0", scheduler.NewRevalueJob(d.assets, d.users, log)},
		{"0 8 * * 1", scheduler.NewSubscriptionsJob(d.detector, d.users, log)},
		{"0 9 * * *", scheduler.NewAnomalyJob(d.aggRepo, d.anomaly, d.users, log)},
		{"0 */4 * * *", scheduler.NewAggregatorSyncJob(d.aggSync, nil, d.users, log)},
		{"*/30 * * * *", scheduler.NewBalanceRefreshJob(d.aggSync, log)},
	}
	for _, entry := range entries {
		if err := sched.AddJob(entry.schedule, entry.job); err != nil {
			log.Fatal().Err(err).Str("schedule", entry.schedule).Msg("Failed to register job")
		}
	}
}

// institutionConfig is one entry of <dataDir>/institutions.json
type institutionConfig struct {
	Name        string              `json:"name"`
	Kind        string              `json:"kind"` // ofx | csv
	AccountType string              `json:"account_type,omitempty"`
	CSVProfile  *parsers.CSVProfile `json:"csv_profile,omitempty"`
}

// loadInstitutions reads the OFX institution list. A missing file means no
// OFX sources are configured.
func loadInstitutions(dataDir string, log zerolog.Logger) []ofxsync.Institution {
	path := filepath.Join(dataDir, "institutions.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read institutions config")
		}
		return nil
	}

	var configs []institutionConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Invalid institutions config")
		return nil
	}

	institutions := make([]ofxsync.Institution, 0, len(configs))
	for _, c := range configs {
		kind := parsers.Kind(c.Kind)
		if kind == "" {
			kind = parsers.KindOFX
		}
		institutions = append(institutions, ofxsync.Institution{
			Name:        c.Name,
			Kind:        kind,
			CSVProfile:  c.CSVProfile,
			AccountType: c.AccountType,
		})
	}
	log.Info().Int("count", len(institutions)).Msg("Loaded OFX institutions")
	return institutions
}
