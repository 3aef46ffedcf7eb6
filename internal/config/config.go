// Package config loads this substrate's configuration from environment
// variables (and an optional .env file), a two-step godotenv.Load() plus
// getEnv*() helpers shape. It carries only what the daily cycle and status
// API actually read: the data-directory layout, the feature-store schema
// version, logging, and the optional HTTP/cron surface. There is no
// settings-database override layer here — this substrate has no UI, so env
// vars (and .env) are the only configuration source.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the configuration shared across cmd/sentinelcore's daily
// cycle and its optional status API.
type Config struct {
	// DataDir is the root directory under which the ledger tree
	// (DataDir/ledger/...), the feature store (DataDir/feature_store/...),
	// and the derived SQLite read-index (DataDir/index.db) all live.
	// Always resolved to an absolute path.
	DataDir string

	// LedgerRoot is the root internal/attribution, internal/slippage, and
	// the exit-management ledger writers join "ledger/..." onto. Equal to
	// DataDir; kept as its own field because those packages take a
	// ledgerRoot parameter, not a DataDir one.
	LedgerRoot string

	// FeatureRoot is the base directory internal/featurestore joins
	// "v{schema}/{date}/{feature_type}.msgpack" onto.
	FeatureRoot string

	// SchemaVersion is the feature-store schema version this build writes.
	SchemaVersion int

	// GitSHA is recorded in feature-partition provenance sidecars. Falls
	// back to the SENTINEL_GIT_SHA env var read directly by
	// internal/featurestore if left empty here.
	GitSHA string

	LogLevel string

	// ServeStatusAPI enables cmd/sentinelcore's --serve flag: the
	// internal/statusapi read-only HTTP introspection server.
	ServeStatusAPI bool
	Port           int
	DevMode        bool

	// CronSchedule is the robfig/cron/v3 expression the daemon uses to
	// schedule the daily cycle when not run with --run-once.
	CronSchedule string

	// IgnoreMarketHours mirrors the --ignore-market-hours CLI flag's
	// default; the flag itself, when passed, overrides this.
	IgnoreMarketHours bool
}

// Load reads configuration from environment variables (and .env, if
// present). dataDirOverride gives a CLI flag precedence over the env var
// for the data directory.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	dataDir := ""
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("SENTINEL_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	ledgerRoot := getEnv("SENTINEL_LEDGER_ROOT", absDataDir)
	featureRoot := getEnv("SENTINEL_FEATURE_ROOT", filepath.Join(absDataDir, "feature_store"))

	cfg := &Config{
		DataDir:           absDataDir,
		LedgerRoot:        ledgerRoot,
		FeatureRoot:       featureRoot,
		SchemaVersion:     getEnvAsInt("SENTINEL_SCHEMA_VERSION", 1),
		GitSHA:            getEnv("SENTINEL_GIT_SHA", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServeStatusAPI:    getEnvAsBool("SENTINEL_SERVE_STATUS_API", false),
		Port:              getEnvAsInt("SENTINEL_STATUS_PORT", 8080),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		CronSchedule:      getEnv("SENTINEL_CRON_SCHEDULE", "30 16 * * 1-5"),
		IgnoreMarketHours: getEnvAsBool("SENTINEL_IGNORE_MARKET_HOURS", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the fields Load cannot already guarantee via defaults.
func (c *Config) Validate() error {
	if c.SchemaVersion < 1 {
		return fmt.Errorf("invalid schema version %d: must be >= 1", c.SchemaVersion)
	}
	return nil
}

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
