package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/inletworks/inlet/internal/adapters"
	"github.com/inletworks/inlet/internal/bus"
	"github.com/inletworks/inlet/internal/config"
	"github.com/inletworks/inlet/internal/discovery"
	"github.com/inletworks/inlet/internal/engine"
	"github.com/inletworks/inlet/internal/feed"
	"github.com/inletworks/inlet/internal/logging"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/scheduler"
	"github.com/inletworks/inlet/internal/store"
	"github.com/inletworks/inlet/pkg/tlsutil"
)

const pruneInterval = 6 * time.Hour

// runServer wires the full service and blocks until the context is
// cancelled. Shutdown order: stop arming fires, cancel in-flight checks,
// drain the bus, close the store.
func runServer(ctx context.Context) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	pool := tlsutil.NewClientPool(tlsutil.PoolOptions{InsecureSkipVerify: cfg.InsecureSkipVerify})
	defer pool.CloseIdleConnections()

	factory := adapters.NewFactory(secretsResolver(cfg), pool, cfg.RetryJitter)

	durable := bus.NewDurable(st)

	hub := feed.NewHub()
	pipeline := discovery.NewPipeline(st, durable, hub)
	eng := engine.New(st, factory, pipeline)

	sched := scheduler.New(st, durable, &feedRunner{eng: eng, hub: hub}, scheduler.Options{
		Workers: cfg.Workers,
		CatchUp: scheduler.CatchUpPolicy(cfg.CatchUpPolicy),
	})

	if cfg.SeedFile != "" {
		configs, err := config.LoadSeed(cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("load seed: %w", err)
		}
		changed, err := config.ApplySeed(ctx, st, durable, configs)
		if err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		log.Info().Int("configs", len(configs)).Int("changed", changed).Msg("Seed applied")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	feedStop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(feedStop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		durable.Run(runCtx)
	}()

	if cfg.SeedFile != "" && cfg.WatchSeed {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := config.WatchSeed(runCtx, cfg.SeedFile, st, durable); err != nil {
				log.Error().Err(err).Msg("Seed watcher stopped")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runPruner(runCtx, st, cfg)
	}()

	server := newHTTPServer(cfg, st, hub)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	// Blocks until runCtx is cancelled; in-flight checks drain inside.
	err = sched.Run(runCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("HTTP server shutdown incomplete")
	}
	close(feedStop)
	wg.Wait()

	log.Info().Msg("Shutdown complete")
	return err
}

// feedRunner forwards execution outcomes to the live feed after each run.
type feedRunner struct {
	eng *engine.Engine
	hub *feed.Hub
}

func (r *feedRunner) ExecuteByID(ctx context.Context, tenantID, configID string, instant time.Time, executionID string) (*models.RetrievalExecution, error) {
	exec, err := r.eng.ExecuteByID(ctx, tenantID, configID, instant, executionID)
	if exec != nil {
		r.hub.ExecutionFinished(exec)
	}
	return exec, err
}

func newHTTPServer(cfg *config.Config, st *store.Store, hub *feed.Hub) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`, Version)
	})
	mux.HandleFunc("/ws/feed", hub.HandleWebSocket)

	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// runPruner enforces the retention window on executions, discovered files
// and dispatched outbox rows.
func runPruner(ctx context.Context, st *store.Store, cfg *config.Config) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := st.Prune(cfg.RetentionCutoff(time.Now()))
			if err != nil {
				log.Error().Err(err).Msg("Retention prune failed")
				continue
			}
			if removed > 0 {
				log.Info().Int64("rows", removed).Msg("Retention prune removed old records")
			}
		}
	}
}
