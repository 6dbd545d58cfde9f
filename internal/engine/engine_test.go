package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletworks/inlet/internal/adapters"
	"github.com/inletworks/inlet/internal/bus"
	"github.com/inletworks/inlet/internal/discovery"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/secrets"
	"github.com/inletworks/inlet/internal/store"
	"github.com/inletworks/inlet/pkg/tlsutil"
)

type listingEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *bus.Memory) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	b := bus.NewMemory()
	pool := tlsutil.NewClientPool(tlsutil.PoolOptions{})
	factory := adapters.NewFactory(secrets.Static{}, pool, 0)
	e := New(st, factory, discovery.NewPipeline(st, b, nil))
	e.retrySleep = func(context.Context, time.Duration) error { return nil }
	return e, st, b
}

func httpsConfig(baseURL string) *models.RetrievalConfiguration {
	return &models.RetrievalConfiguration{
		TenantID: "tenant-a",
		ConfigID: "cfg-1",
		Name:     "daily-reports",
		Protocol: models.ProtocolHTTPS,
		Settings: models.ProtocolSettings{
			HTTPS: &models.HTTPSSettings{
				BaseURL:  baseURL,
				AuthType: models.HTTPSAuthNone,
			},
		},
		FilePathPattern: "reports/{yyyy}/{mm}",
		FilenamePattern: "*.csv",
		CronExpression:  "0 6 * * *",
		Timezone:        "UTC",
		IsActive:        true,
		Events:          []models.EventDefinition{{EventType: "ReportAvailable"}},
	}
}

func TestExecuteCompletes(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		json.NewEncoder(w).Encode([]listingEntry{
			{Name: "orders.csv", Size: 42},
			{Name: "notes.txt", Size: 7},
		})
	}))
	defer srv.Close()

	e, st, b := newTestEngine(t)

	events := 0
	b.Subscribe(models.KindFileDiscovered, func(context.Context, bus.Message) error {
		events++
		return nil
	})

	cfg := httpsConfig(srv.URL)
	instant := time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)

	exec, err := e.Execute(context.Background(), cfg, instant, "")
	require.NoError(t, err)
	require.NotNil(t, exec)

	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, "reports/2026/08", exec.ResolvedFilePathPattern)
	assert.Equal(t, "/reports/2026/08", gotPath.Load())
	assert.Equal(t, 1, exec.FilesFound, "non-matching names are filtered by the adapter")
	assert.Equal(t, 1, exec.FilesProcessed)
	assert.Equal(t, 0, exec.RetryCount)
	assert.Equal(t, 1, events)
	require.NotNil(t, exec.CompletedUtc)

	stored, err := st.GetExecution(context.Background(), cfg.TenantID, exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]listingEntry{{Name: "orders.csv"}})
	}))
	defer srv.Close()

	e, _, _ := newTestEngine(t)
	cfg := httpsConfig(srv.URL)

	exec, err := e.Execute(context.Background(), cfg, time.Now(), "")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, 2, exec.RetryCount)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestExecuteFailsAfterExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, st, _ := newTestEngine(t)
	cfg := httpsConfig(srv.URL)

	exec, err := e.Execute(context.Background(), cfg, time.Now(), "")
	require.Error(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Equal(t, "ProtocolError", exec.ErrorCategory)
	assert.Equal(t, 2, exec.RetryCount)
	assert.NotEmpty(t, exec.ErrorMessage)

	stored, err := st.GetExecution(context.Background(), cfg.TenantID, exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, stored.Status)
	assert.Equal(t, "ProtocolError", stored.ErrorCategory)
}

func TestExecuteAuthFailureIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	e, _, _ := newTestEngine(t)
	cfg := httpsConfig(srv.URL)

	exec, err := e.Execute(context.Background(), cfg, time.Now(), "")
	require.Error(t, err)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Equal(t, "AuthenticationFailure", exec.ErrorCategory)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestExecuteBadTimezoneFailsAsConfigurationError(t *testing.T) {
	e, _, _ := newTestEngine(t)
	cfg := httpsConfig("https://example.invalid")
	cfg.Timezone = "Mars/Olympus_Mons"

	exec, err := e.Execute(context.Background(), cfg, time.Now(), "")
	require.Error(t, err)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Equal(t, "ConfigurationError", exec.ErrorCategory)
}

func TestExecuteByIDSkipsInactiveAndUnknown(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	exec, err := e.ExecuteByID(ctx, "tenant-a", "missing", time.Now(), "")
	require.NoError(t, err)
	assert.Nil(t, exec)

	cfg := httpsConfig("https://example.invalid")
	cfg.IsActive = false
	require.NoError(t, st.UpsertConfiguration(ctx, cfg))

	exec, err = e.ExecuteByID(ctx, cfg.TenantID, cfg.ConfigID, time.Now(), "")
	require.NoError(t, err)
	assert.Nil(t, exec)

	execs, err := st.ListExecutions(ctx, cfg.TenantID, cfg.ConfigID, 10)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestExecuteDuplicateExecutionIDIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]listingEntry{})
	}))
	defer srv.Close()

	e, _, _ := newTestEngine(t)
	cfg := httpsConfig(srv.URL)

	first, err := e.Execute(context.Background(), cfg, time.Now(), "exec-fixed")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := e.Execute(context.Background(), cfg, time.Now(), "exec-fixed")
	require.NoError(t, err)
	assert.Nil(t, second, "redelivered command must not run twice")
}
