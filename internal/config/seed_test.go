package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletworks/inlet/internal/bus"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/store"
)

func seedConfig(configID string) *models.RetrievalConfiguration {
	return &models.RetrievalConfiguration{
		TenantID: "tenant-a",
		ConfigID: configID,
		Name:     "cfg-" + configID,
		Protocol: models.ProtocolHTTPS,
		Settings: models.ProtocolSettings{
			HTTPS: &models.HTTPSSettings{
				BaseURL:  "https://files.example.com",
				AuthType: models.HTTPSAuthNone,
			},
		},
		FilePathPattern: "reports/{yyyy}/{mm}",
		FilenamePattern: "*.csv",
		CronExpression:  "0 6 * * *",
		Timezone:        "UTC",
		IsActive:        true,
	}
}

func writeSeedFile(t *testing.T, configs []*models.RetrievalConfiguration) string {
	t.Helper()
	data, err := json.Marshal(configs)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadSeedValid(t *testing.T) {
	path := writeSeedFile(t, []*models.RetrievalConfiguration{seedConfig("c1"), seedConfig("c2")})

	configs, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Len(t, configs, 2)
}

func TestLoadSeedRejectsInvalidEntries(t *testing.T) {
	bad := seedConfig("c1")
	bad.CronExpression = "nope"
	path := writeSeedFile(t, []*models.RetrievalConfiguration{bad})

	_, err := LoadSeed(path)
	assert.ErrorContains(t, err, "cron")
}

func TestLoadSeedRejectsDuplicates(t *testing.T) {
	path := writeSeedFile(t, []*models.RetrievalConfiguration{seedConfig("c1"), seedConfig("c1")})

	_, err := LoadSeed(path)
	assert.ErrorContains(t, err, "duplicate")
}

func TestValidateConfigurationRejectsDateTokensInHost(t *testing.T) {
	cfg := seedConfig("c1")
	cfg.Settings.HTTPS.BaseURL = "https://{yyyy}.example.com"

	err := ValidateConfiguration(cfg)
	assert.ErrorContains(t, err, "host cannot contain date tokens")
}

func TestValidateConfigurationRejectsUnknownTokens(t *testing.T) {
	cfg := seedConfig("c1")
	cfg.FilePathPattern = "reports/{week}"

	err := ValidateConfiguration(cfg)
	assert.ErrorContains(t, err, "filePathPattern")
}

func TestApplySeedCreatesAndUpdates(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	defer st.Close()

	b := bus.NewMemory()
	var changes []models.ConfigurationChanged
	b.Subscribe(models.KindConfigurationChanged, func(_ context.Context, msg bus.Message) error {
		var c models.ConfigurationChanged
		require.NoError(t, msg.Decode(&c))
		changes = append(changes, c)
		return nil
	})

	ctx := context.Background()

	changed, err := ApplySeed(ctx, st, b, []*models.RetrievalConfiguration{seedConfig("c1")})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	require.Len(t, changes, 1)
	assert.Equal(t, models.ConfigurationCreated, changes[0].Kind)
	assert.Empty(t, changes[0].ChangedFields)

	// Re-applying the identical seed is a no-op.
	changed, err = ApplySeed(ctx, st, b, []*models.RetrievalConfiguration{seedConfig("c1")})
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
	assert.Len(t, changes, 1)

	// A modified entry becomes an update.
	modified := seedConfig("c1")
	modified.CronExpression = "30 6 * * *"
	changed, err = ApplySeed(ctx, st, b, []*models.RetrievalConfiguration{modified})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	require.Len(t, changes, 2)
	assert.Equal(t, models.ConfigurationUpdated, changes[1].Kind)
	assert.Equal(t, "30 6 * * *", changes[1].CronExpression)
	assert.Equal(t, []string{"cronExpression"}, changes[1].ChangedFields)

	stored, err := st.GetConfiguration(ctx, "tenant-a", "c1")
	require.NoError(t, err)
	assert.Equal(t, "30 6 * * *", stored.CronExpression)
	assert.EqualValues(t, 2, stored.Version)
}

func TestApplySeedRetiresRemovedConfigurations(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	defer st.Close()

	b := bus.NewMemory()
	var changes []models.ConfigurationChanged
	b.Subscribe(models.KindConfigurationChanged, func(_ context.Context, msg bus.Message) error {
		var c models.ConfigurationChanged
		require.NoError(t, msg.Decode(&c))
		changes = append(changes, c)
		return nil
	})

	ctx := context.Background()

	_, err = ApplySeed(ctx, st, b, []*models.RetrievalConfiguration{seedConfig("c1"), seedConfig("c2")})
	require.NoError(t, err)

	changed, err := ApplySeed(ctx, st, b, []*models.RetrievalConfiguration{seedConfig("c1")})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	last := changes[len(changes)-1]
	assert.Equal(t, models.ConfigurationDeleted, last.Kind)
	assert.Equal(t, "c2", last.ConfigID)

	stored, err := st.GetConfiguration(ctx, "tenant-a", "c2")
	require.NoError(t, err)
	assert.False(t, stored.IsActive, "removed configuration is retired, not erased")
}
