package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the process configuration
type Config struct {
	// Logging
	LogLevel string

	// Status API, empty disables it
	StatusAddr string

	// Event ledger, empty driver disables it
	DBDriver    string
	DatabaseURL string

	// Batch scheduler
	SbatchBin  string
	ScratchDir string

	// Generation pool worker slots
	Workers int

	// Loop timing
	PollInterval    time.Duration
	DirWaitInterval time.Duration
	StaleAfter      time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		LogLevel:        getEnv("CAMPAIGN_LOG_LEVEL", "info"),
		StatusAddr:      getEnv("CAMPAIGN_STATUS_ADDR", ""),
		DBDriver:        getEnv("CAMPAIGN_DB_DRIVER", ""),
		DatabaseURL:     getEnv("CAMPAIGN_DATABASE_URL", "campaign.db"),
		SbatchBin:       getEnv("SBATCH_BIN", "sbatch"),
		ScratchDir:      getEnv("CAMPAIGN_SCRATCH_DIR", ""),
		Workers:         getEnvInt("CAMPAIGN_WORKERS", 27),
		PollInterval:    getEnvDuration("CAMPAIGN_POLL_INTERVAL", 60*time.Second),
		DirWaitInterval: getEnvDuration("CAMPAIGN_DIR_WAIT_INTERVAL", 5*time.Second),
		StaleAfter:      getEnvDuration("CAMPAIGN_STALE_AFTER", 10*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
