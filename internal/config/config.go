// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Remote store
	NightscoutURL    string // Base URL of the remote store, https only
	APISecret        string // Shared secret, sent as its SHA-1 hash
	ProfileName      string // Profile to tune; empty means the document default
	WindowDays       int    // Historical data window, 1-30 days
	HTTPTimeout      time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Tuner
	AutotunePath    string
	AutotuneTimeout time.Duration

	// Service
	DataDir      string // Base directory for the history database (always absolute)
	Port         int
	LogLevel     string
	DevMode      bool
	DryRun       bool   // Perform every stage except the final push
	SyncSchedule string // Cron spec for scheduled runs; empty disables scheduling
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		dataDir = "/var/lib/nightsync"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		NightscoutURL:    getEnv("NIGHTSCOUT_URL", ""),
		APISecret:        getEnv("NIGHTSCOUT_API_SECRET", ""),
		ProfileName:      getEnv("NIGHTSCOUT_PROFILE", ""),
		WindowDays:       getEnvAsInt("WINDOW_DAYS", 7),
		HTTPTimeout:      time.Duration(getEnvAsInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		RetryMaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   time.Duration(getEnvAsInt("RETRY_BASE_DELAY_MS", 500)) * time.Millisecond,
		RetryMaxDelay:    time.Duration(getEnvAsInt("RETRY_MAX_DELAY_MS", 8000)) * time.Millisecond,
		AutotunePath:     getEnv("AUTOTUNE_PATH", "/usr/local/bin/oref0-autotune"),
		AutotuneTimeout:  time.Duration(getEnvAsInt("AUTOTUNE_TIMEOUT_SECONDS", 300)) * time.Second,
		DataDir:          absDataDir,
		Port:             getEnvAsInt("PORT", 8001),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		DryRun:           getEnvAsBool("DRY_RUN", false),
		SyncSchedule:     getEnv("SYNC_SCHEDULE", "0 3 * * *"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.NightscoutURL == "" {
		return fmt.Errorf("NIGHTSCOUT_URL is required")
	}
	parsed, err := url.Parse(c.NightscoutURL)
	if err != nil {
		return fmt.Errorf("NIGHTSCOUT_URL is not a valid URL: %w", err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("NIGHTSCOUT_URL must use https, got %q", parsed.Scheme)
	}
	if c.APISecret == "" {
		return fmt.Errorf("NIGHTSCOUT_API_SECRET is required")
	}
	if c.WindowDays < 1 || c.WindowDays > 30 {
		return fmt.Errorf("WINDOW_DAYS must be between 1 and 30, got %d", c.WindowDays)
	}
	if c.AutotuneTimeout <= 0 {
		return fmt.Errorf("AUTOTUNE_TIMEOUT_SECONDS must be positive")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be a valid port number, got %d", c.Port)
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
