package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INLET_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultCatchUp, cfg.CatchUpPolicy)
	assert.Equal(t, DefaultRetentionDays, cfg.RetentionDays)
	assert.Equal(t, DefaultRetryJitter, cfg.RetryJitter)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.WatchSeed)
	assert.False(t, cfg.InsecureSkipVerify)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INLET_DATA_DIR", t.TempDir())
	t.Setenv("INLET_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("INLET_WORKERS", "4")
	t.Setenv("INLET_CATCH_UP", "drop")
	t.Setenv("INLET_RETENTION_DAYS", "7")
	t.Setenv("INLET_LOG_LEVEL", "debug")
	t.Setenv("INLET_WATCH_SEED", "false")
	t.Setenv("INLET_RETRY_JITTER", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "drop", cfg.CatchUpPolicy)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.WatchSeed)
	assert.Equal(t, 0.5, cfg.RetryJitter)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad catch-up policy", "INLET_CATCH_UP", "sometimes"},
		{"negative retention", "INLET_RETENTION_DAYS", "-1"},
		{"jitter above one", "INLET_RETRY_JITTER", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("INLET_DATA_DIR", t.TempDir())
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadIgnoresUnparseableNumbers(t *testing.T) {
	t.Setenv("INLET_DATA_DIR", t.TempDir())
	t.Setenv("INLET_WORKERS", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, cfg.Workers, "unparseable value falls back to the default")
}

func TestRetentionCutoff(t *testing.T) {
	cfg := &Config{RetentionDays: 30}
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), cfg.RetentionCutoff(now))
}

func TestDatabasePath(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/inlet"}
	assert.Equal(t, "/var/lib/inlet/inlet.db", cfg.DatabasePath())
}
