package main

import (
	"context"
	"fmt"
	"time"

	"github.com/inletworks/inlet/internal/adapters"
	"github.com/inletworks/inlet/internal/bus"
	"github.com/inletworks/inlet/internal/discovery"
	"github.com/inletworks/inlet/internal/engine"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/store"
	"github.com/inletworks/inlet/pkg/tlsutil"
)

// runCheck executes one file check synchronously and prints the outcome.
// Discovered-file messages go to an in-memory bus and are echoed to stdout
// rather than the durable outbox, so a manual check never double-publishes
// into a running deployment's queue.
func runCheck(ctx context.Context, tenantID, configID string, instant time.Time) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	memBus := bus.NewMemory()
	memBus.Subscribe(models.KindFileDiscovered, func(_ context.Context, msg bus.Message) error {
		var event models.FileDiscovered
		if err := msg.Decode(&event); err != nil {
			return err
		}
		fmt.Printf("discovered: %s (%s)\n", event.Filename, event.FileURL)
		return nil
	})

	pool := tlsutil.NewClientPool(tlsutil.PoolOptions{InsecureSkipVerify: cfg.InsecureSkipVerify})
	defer pool.CloseIdleConnections()
	factory := adapters.NewFactory(secretsResolver(cfg), pool, cfg.RetryJitter)

	eng := engine.New(st, factory, discovery.NewPipeline(st, memBus, nil))

	exec, err := eng.ExecuteByID(ctx, tenantID, configID, instant, "")
	if err != nil {
		return err
	}
	if exec == nil {
		return fmt.Errorf("configuration %s/%s not found or inactive", tenantID, configID)
	}

	fmt.Printf("execution %s: %s\n", exec.ExecutionID, exec.Status)
	fmt.Printf("  files found:     %d\n", exec.FilesFound)
	fmt.Printf("  files processed: %d\n", exec.FilesProcessed)
	fmt.Printf("  duration:        %dms\n", exec.DurationMs)
	if exec.Status == models.ExecutionFailed {
		fmt.Printf("  error (%s): %s\n", exec.ErrorCategory, exec.ErrorMessage)
	}
	return nil
}

// runTestConnection builds the configuration's adapter and probes the source.
func runTestConnection(ctx context.Context, tenantID, configID string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rc, err := st.GetConfiguration(ctx, tenantID, configID)
	if err != nil {
		return fmt.Errorf("load configuration %s/%s: %w", tenantID, configID, err)
	}

	pool := tlsutil.NewClientPool(tlsutil.PoolOptions{InsecureSkipVerify: cfg.InsecureSkipVerify})
	defer pool.CloseIdleConnections()
	factory := adapters.NewFactory(secretsResolver(cfg), pool, cfg.RetryJitter)

	adapter, _, err := factory.Build(ctx, rc)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := adapter.TestConnection(probeCtx); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	fmt.Printf("%s/%s: %s source reachable\n", tenantID, configID, rc.Protocol)
	return nil
}
