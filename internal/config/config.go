// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
// Values are read from environment variables (optionally via a .env file) at
// startup. Credentials for external services may be empty, in which case the
// corresponding integration is disabled.
type Config struct {
	DataDir     string // Base directory for the database and uploads (always absolute)
	DownloadDir string // Directory scanned for OFX/QFX downloads
	Port        int
	LogLevel    string
	DevMode     bool
	AppURL      string

	// External ledger service
	LedgerURL   string
	LedgerToken string

	// Credential sealing for institution links (AES-256-GCM)
	EncryptionKey string

	// Optional LLM categorization
	LLMAPIKey string

	// Push notification transport (ntfy-style topic POST)
	PushURL   string
	PushTopic string

	// Bank aggregator credentials
	AggregatorClientID string
	AggregatorSecret   string
	AggregatorEnv      string // sandbox, development, production
	WebhookURL         string

	// Auth
	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MONETA_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	encryptionKey := getEnv("ENCRYPTION_KEY", "")
	if encryptionKey != "" && len(encryptionKey) < 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be at least 32 characters, got %d", len(encryptionKey))
	}

	accessTTL, err := parseDurationEnv("JWT_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	refreshTTL, err := parseDurationEnv("JWT_REFRESH_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:            absDataDir,
		DownloadDir:        getEnv("DOWNLOAD_DIR", filepath.Join(absDataDir, "downloads")),
		Port:               port,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DevMode:            getEnv("APP_ENV", "development") != "production",
		AppURL:             getEnv("APP_URL", "http://localhost:8080"),
		LedgerURL:          getEnv("LEDGER_URL", ""),
		LedgerToken:        getEnv("LEDGER_TOKEN", ""),
		EncryptionKey:      encryptionKey,
		LLMAPIKey:          getEnv("LLM_API_KEY", ""),
		PushURL:            getEnv("PUSH_URL", ""),
		PushTopic:          getEnv("PUSH_TOPIC", ""),
		AggregatorClientID: getEnv("PLAID_CLIENT_ID", ""),
		AggregatorSecret:   getEnv("PLAID_SECRET", ""),
		AggregatorEnv:      getEnv("PLAID_ENV", "sandbox"),
		WebhookURL:         getEnv("PLAID_WEBHOOK_URL", ""),
		JWTAccessSecret:    getEnv("JWT_ACCESS_SECRET", ""),
		JWTRefreshSecret:   getEnv("JWT_REFRESH_SECRET", ""),
		AccessTokenTTL:     accessTTL,
		RefreshTokenTTL:    refreshTTL,
	}

	return cfg, nil
}

// DatabasePath returns the path of the application database file
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "moneta.db")
}

// UploadDir returns the directory used for temporary upload storage
func (c *Config) UploadDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// getEnv retrieves an environment variable value, returning a fallback if the
// variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseDurationEnv parses a duration environment variable with a fallback
func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
