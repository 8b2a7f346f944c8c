package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string
	LogLevel    string
	Environment string

	CronSpecWeeklyCycle     string // opens each period's cycles
	CronSpecGenerationSweep string // backstop trigger for stuck generations

	// Sync tunables. The defaults are the values the system shipped with;
	// none of them is a hard invariant.
	GenerationTimeout     time.Duration
	SyncDebounce          time.Duration
	SyncPollInterval      time.Duration
	SyncHeartbeatInterval time.Duration
	SyncLivenessThreshold time.Duration
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	cfg.CronSpecWeeklyCycle = os.Getenv("CRON_SPEC_WEEKLY_CYCLE")
	if cfg.CronSpecWeeklyCycle == "" {
		cfg.CronSpecWeeklyCycle = "0 9 * * 1" // Default: Monday 09:00
	}

	cfg.CronSpecGenerationSweep = os.Getenv("CRON_SPEC_GENERATION_SWEEP")
	if cfg.CronSpecGenerationSweep == "" {
		cfg.CronSpecGenerationSweep = "* * * * *" // Default: every minute
	}

	var err error
	if cfg.GenerationTimeout, err = durationEnv("GENERATION_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.SyncDebounce, err = durationEnv("SYNC_DEBOUNCE", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.SyncPollInterval, err = durationEnv("SYNC_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.SyncHeartbeatInterval, err = durationEnv("SYNC_HEARTBEAT_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SyncLivenessThreshold, err = durationEnv("SYNC_LIVENESS_THRESHOLD", 15*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
