package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/inletworks/inlet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "inlet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig(tenantID, configID, name string) *models.RetrievalConfiguration {
	return &models.RetrievalConfiguration{
		TenantID: tenantID,
		ConfigID: configID,
		Name:     name,
		Protocol: models.ProtocolHTTPS,
		Settings: models.ProtocolSettings{HTTPS: &models.HTTPSSettings{
			BaseURL:  "https://files.example.com",
			AuthType: models.HTTPSAuthNone,
		}},
		FilePathPattern: "/reports/{yyyy}/{mm}-{dd}.csv",
		FilenamePattern: "*",
		CronExpression:  "0 8 * * *",
		Timezone:        "America/New_York",
		IsActive:        true,
	}
}

func TestConfigurationLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg := testConfig("t1", "c1", "daily")
	require.NoError(t, s.UpsertConfiguration(ctx, cfg))
	assert.Equal(t, int64(1), cfg.Version)

	got, err := s.GetConfiguration(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "daily", got.Name)
	assert.True(t, got.IsActive)

	// Update with matching version succeeds and bumps.
	got.FilenamePattern = "*.csv"
	require.NoError(t, s.UpsertConfiguration(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	// Update with stale version is rejected.
	stale := testConfig("t1", "c1", "daily")
	stale.Version = 1
	err = s.UpsertConfiguration(ctx, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// Soft delete keeps the row.
	require.NoError(t, s.SoftDeleteConfiguration(ctx, "t1", "c1"))
	got, err = s.GetConfiguration(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = s.GetConfiguration(ctx, "t1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfigurationNameUniquePerTenant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertConfiguration(ctx, testConfig("t1", "c1", "daily")))

	err := s.UpsertConfiguration(ctx, testConfig("t1", "c2", "daily"))
	assert.ErrorIs(t, err, ErrDuplicate)

	// Same name in a different tenant is fine.
	require.NoError(t, s.UpsertConfiguration(ctx, testConfig("t2", "c1", "daily")))
}

func TestListActiveConfigurations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertConfiguration(ctx, testConfig("t1", "c1", "one")))
	inactive := testConfig("t1", "c2", "two")
	inactive.IsActive = false
	require.NoError(t, s.UpsertConfiguration(ctx, inactive))
	require.NoError(t, s.UpsertConfiguration(ctx, testConfig("t2", "c1", "three")))

	active, err := s.ListActiveConfigurations(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	tenant1, err := s.ListConfigurations(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, tenant1, 2)
}

func TestExecutionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exec := &models.RetrievalExecution{
		ExecutionID: "e1",
		TenantID:    "t1",
		ConfigID:    "c1",
		StartedUtc:  time.Now().UTC(),
		Status:      models.ExecutionInProgress,
	}
	require.NoError(t, s.CreateExecution(ctx, exec))
	assert.ErrorIs(t, s.CreateExecution(ctx, exec), ErrDuplicate)

	exec.Status = models.ExecutionCompleted
	exec.FilesFound = 3
	exec.FilesProcessed = 2
	require.NoError(t, s.UpdateExecution(ctx, exec))

	got, err := s.GetExecution(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, got.Status)
	assert.Equal(t, 3, got.FilesFound)

	list, err := s.ListExecutions(ctx, "t1", "c1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// Partition-local read: another tenant cannot see the record.
	_, err = s.GetExecution(ctx, "t2", "e1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiscoveredFileUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	file := &models.DiscoveredFile{
		DiscoveredFileID: "f1",
		TenantID:         "t1",
		ConfigID:         "c1",
		ExecutionID:      "e1",
		FileURL:          "https://x/reports/2025/01-24.csv",
		Filename:         "01-24.csv",
		DiscoveredAt:     time.Now().UTC(),
		DiscoveryDate:    "2025-01-24",
		Status:           models.FileDiscoveredStatus,
	}
	require.NoError(t, s.InsertDiscoveredFile(ctx, file))

	found, err := s.FindDiscoveredFile(ctx, "t1", "c1", file.FileURL, "2025-01-24")
	require.NoError(t, err)
	assert.Equal(t, "f1", found.DiscoveredFileID)
	assert.Equal(t, models.FileDiscoveredStatus, found.Status)

	_, err = s.FindDiscoveredFile(ctx, "t1", "c1", file.FileURL, "2025-01-25")
	assert.ErrorIs(t, err, ErrNotFound)

	// Same key, different row id: the unique index rejects it.
	dup := *file
	dup.DiscoveredFileID = "f2"
	assert.ErrorIs(t, s.InsertDiscoveredFile(ctx, &dup), ErrDuplicate)

	// Next day is a fresh discovery.
	nextDay := *file
	nextDay.DiscoveredFileID = "f3"
	nextDay.DiscoveryDate = "2025-01-25"
	require.NoError(t, s.InsertDiscoveredFile(ctx, &nextDay))
}

func TestMarkFilePublished(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	file := &models.DiscoveredFile{
		DiscoveredFileID: "f1",
		TenantID:         "t1",
		ConfigID:         "c1",
		FileURL:          "https://x/a.csv",
		Filename:         "a.csv",
		DiscoveredAt:     time.Now().UTC(),
		DiscoveryDate:    "2025-01-24",
		Status:           models.FileDiscoveredStatus,
	}
	require.NoError(t, s.InsertDiscoveredFile(ctx, file))

	at := time.Now().UTC()
	require.NoError(t, s.MarkFilePublished(ctx, "t1", "f1", at))

	got, err := s.GetDiscoveredFile(ctx, "t1", "f1")
	require.NoError(t, err)
	assert.Equal(t, models.FileEventPublished, got.Status)
	require.NotNil(t, got.EventPublishedAt)
}

func TestOutbox(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.OutboxAppend(ctx, "ExecuteFileCheck", []byte(`{"a":1}`))
	require.NoError(t, err)
	id2, err := s.OutboxAppend(ctx, "FileDiscovered", []byte(`{"b":2}`))
	require.NoError(t, err)

	pending, err := s.OutboxPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, id1, pending[0].ID)
	assert.Equal(t, "ExecuteFileCheck", pending[0].Kind)

	require.NoError(t, s.OutboxMarkDispatched(ctx, id1))
	pending, err = s.OutboxPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id2, pending[0].ID)
}

func TestScheduleState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LastFire(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2025, 1, 24, 13, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastFire(ctx, "t1", "c1", at))

	got, ok, err := s.LastFire(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, at, got)

	later := at.Add(time.Hour)
	require.NoError(t, s.SetLastFire(ctx, "t1", "c1", later))
	got, _, _ = s.LastFire(ctx, "t1", "c1")
	assert.Equal(t, later, got)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := &models.RetrievalExecution{
		ExecutionID: "old", TenantID: "t1", ConfigID: "c1",
		StartedUtc: time.Now().UTC().Add(-48 * time.Hour),
		Status:     models.ExecutionCompleted,
	}
	recent := &models.RetrievalExecution{
		ExecutionID: "recent", TenantID: "t1", ConfigID: "c1",
		StartedUtc: time.Now().UTC(),
		Status:     models.ExecutionCompleted,
	}
	require.NoError(t, s.CreateExecution(ctx, old))
	require.NoError(t, s.CreateExecution(ctx, recent))

	n, err := s.Prune(time.Now().UTC().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetExecution(ctx, "t1", "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetExecution(ctx, "t1", "recent")
	assert.NoError(t, err)
}
