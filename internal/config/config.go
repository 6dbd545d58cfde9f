// Package config loads runtime settings from the environment and manages the
// JSON seed file that declares retrieval configurations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds every runtime setting of the service. Values come from the
// environment, optionally pre-loaded from a .env file in the data directory.
type Config struct {
	DataDir    string
	ListenAddr string

	Workers       int
	CatchUpPolicy string
	RetentionDays int

	SeedFile      string
	WatchSeed     bool
	SecretsFile   string
	SecretsKey    string
	SecretsPrefix string

	LogLevel   string
	LogFormat  string
	LogFile    string
	LogMaxSize int
	LogMaxAge  int

	InsecureSkipVerify bool
	RetryJitter        float64
}

// Defaults applied when the environment leaves a setting empty.
const (
	DefaultListenAddr    = ":7655"
	DefaultWorkers       = 8
	DefaultCatchUp       = "latest"
	DefaultRetentionDays = 30
	DefaultRetryJitter   = 0.2
	DefaultSecretsPrefix = "INLET_SECRET"
)

// Load reads configuration from the environment. A .env file in the data
// directory (or the working directory) is loaded first without overriding
// variables already set.
func Load() (*Config, error) {
	dataDir := os.Getenv("INLET_DATA_DIR")
	if dataDir == "" {
		dataDir = "/var/lib/inlet"
	}

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		}
	} else if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env from working directory")
	}

	cfg := &Config{
		DataDir:       dataDir,
		ListenAddr:    envOr("INLET_LISTEN_ADDR", DefaultListenAddr),
		Workers:       envInt("INLET_WORKERS", DefaultWorkers),
		CatchUpPolicy: envOr("INLET_CATCH_UP", DefaultCatchUp),
		RetentionDays: envInt("INLET_RETENTION_DAYS", DefaultRetentionDays),
		SeedFile:      os.Getenv("INLET_SEED_FILE"),
		WatchSeed:     envBool("INLET_WATCH_SEED", true),
		SecretsFile:   os.Getenv("INLET_SECRETS_FILE"),
		SecretsKey:    os.Getenv("INLET_SECRETS_KEY"),
		SecretsPrefix: envOr("INLET_SECRETS_PREFIX", DefaultSecretsPrefix),
		LogLevel:      envOr("INLET_LOG_LEVEL", "info"),
		LogFormat:     envOr("INLET_LOG_FORMAT", "auto"),
		LogFile:       os.Getenv("INLET_LOG_FILE"),
		LogMaxSize:    envInt("INLET_LOG_MAX_SIZE_MB", 50),
		LogMaxAge:     envInt("INLET_LOG_MAX_AGE_DAYS", 7),

		InsecureSkipVerify: envBool("INLET_INSECURE_SKIP_VERIFY", false),
		RetryJitter:        envFloat("INLET_RETRY_JITTER", DefaultRetryJitter),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.CatchUpPolicy {
	case "latest", "drop":
	default:
		return fmt.Errorf("INLET_CATCH_UP must be \"latest\" or \"drop\", got %q", c.CatchUpPolicy)
	}
	if c.Workers < 1 {
		return fmt.Errorf("INLET_WORKERS must be positive, got %d", c.Workers)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("INLET_RETENTION_DAYS must be positive, got %d", c.RetentionDays)
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return fmt.Errorf("INLET_RETRY_JITTER must be within [0,1], got %v", c.RetryJitter)
	}
	return nil
}

// DatabasePath returns the SQLite file location inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "inlet.db")
}

// RetentionCutoff converts the retention window to an absolute instant.
func (c *Config) RetentionCutoff(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -c.RetentionDays)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-integer environment value")
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-numeric environment value")
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-boolean environment value")
		return fallback
	}
	return b
}
