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

// Config holds application configuration
type Config struct {
	DataDir           string // Base directory for local databases (always absolute)
	BrokerageAPIURL   string // Base URL of the remote brokerage backend
	BrokerageAPIToken string // Bearer token for the backend (optional in dev)
	LogLevel          string
	Port              int
	DevMode           bool

	AlertCacheTTL        time.Duration // Staleness window for the alert rule cache
	DriftRefreshInterval time.Duration // Background drift refresh cadence (0 disables the job)
	SnapshotRetention    time.Duration // How long drift snapshots are kept locally
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic:
	// DRIFTWATCH_DATA_DIR env var, else ./data, always resolved to an
	// absolute path and created if missing.
	dataDir := getEnv("DRIFTWATCH_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		Port:                 getEnvAsInt("PORT", 8002),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		BrokerageAPIURL:      getEnv("BROKERAGE_API_URL", "http://localhost:8000"),
		BrokerageAPIToken:    getEnv("BROKERAGE_API_TOKEN", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		AlertCacheTTL:        time.Duration(getEnvAsInt("ALERT_CACHE_TTL_MINUTES", 3)) * time.Minute,
		DriftRefreshInterval: time.Duration(getEnvAsInt("DRIFT_REFRESH_INTERVAL_MINUTES", 5)) * time.Minute,
		SnapshotRetention:    time.Duration(getEnvAsInt("SNAPSHOT_RETENTION_DAYS", 90)) * 24 * time.Hour,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.BrokerageAPIURL == "" {
		return fmt.Errorf("BROKERAGE_API_URL is required")
	}
	if c.AlertCacheTTL <= 0 {
		return fmt.Errorf("ALERT_CACHE_TTL_MINUTES must be positive")
	}

	// Note: API token optional for local development against a mock backend

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
