// Package engine runs individual file checks: it resolves patterns for the
// scheduled instant, lists candidates through the protocol adapter under the
// retry policy, and records the execution outcome.
package engine

import (
	"context"
	goerrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/inletworks/inlet/internal/adapters"
	"github.com/inletworks/inlet/internal/discovery"
	inleterrors "github.com/inletworks/inlet/internal/errors"
	"github.com/inletworks/inlet/internal/metrics"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/pattern"
	"github.com/inletworks/inlet/internal/retry"
	"github.com/inletworks/inlet/internal/store"
)

// Engine executes file checks for retrieval configurations.
type Engine struct {
	store    *store.Store
	factory  *adapters.Factory
	pipeline *discovery.Pipeline

	now        func() time.Time
	retrySleep func(ctx context.Context, d time.Duration) error
}

// New builds an engine over the store, adapter factory and discovery pipeline.
func New(st *store.Store, factory *adapters.Factory, pipeline *discovery.Pipeline) *Engine {
	return &Engine{
		store:    st,
		factory:  factory,
		pipeline: pipeline,
		now:      time.Now,
	}
}

// ExecuteByID loads a configuration and runs one check against it. Missing or
// inactive configurations are skipped without error: the command may have
// outlived the configuration it was issued for.
func (e *Engine) ExecuteByID(ctx context.Context, tenantID, configID string, instant time.Time, executionID string) (*models.RetrievalExecution, error) {
	cfg, err := e.store.GetConfiguration(ctx, tenantID, configID)
	if goerrors.Is(err, store.ErrNotFound) {
		log.Warn().
			Str("tenant", tenantID).
			Str("config", configID).
			Msg("Skipping file check for unknown configuration")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !cfg.IsActive {
		log.Debug().
			Str("tenant", tenantID).
			Str("config", configID).
			Msg("Skipping file check for inactive configuration")
		return nil, nil
	}
	return e.Execute(ctx, cfg, instant, executionID)
}

// Execute runs one file check for the configuration at the given scheduled
// instant. executionID may be empty, in which case a fresh one is assigned.
// An execution record is always persisted, whatever the outcome.
func (e *Engine) Execute(ctx context.Context, cfg *models.RetrievalConfiguration, instant time.Time, executionID string) (*models.RetrievalExecution, error) {
	if executionID == "" {
		executionID = uuid.NewString()
	}

	loc, locErr := time.LoadLocation(cfg.Timezone)
	if locErr != nil {
		loc = time.UTC
	}

	exec := &models.RetrievalExecution{
		ExecutionID:             executionID,
		TenantID:                cfg.TenantID,
		ConfigID:                cfg.ConfigID,
		ResolvedFilePathPattern: pattern.Resolve(cfg.FilePathPattern, instant, loc),
		ResolvedFilenamePattern: pattern.Resolve(cfg.FilenamePattern, instant, loc),
		StartedUtc:              e.now().UTC(),
		Status:                  models.ExecutionInProgress,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		if goerrors.Is(err, store.ErrDuplicate) {
			// Redelivered command for an execution that already ran.
			log.Debug().
				Str("tenant", cfg.TenantID).
				Str("executionId", executionID).
				Msg("Execution already recorded, skipping duplicate command")
			return nil, nil
		}
		return nil, err
	}

	protocol := string(cfg.Protocol)
	metrics.ExecutionsInFlight.WithLabelValues(protocol).Inc()
	defer metrics.ExecutionsInFlight.WithLabelValues(protocol).Dec()

	log.Info().
		Str("tenant", cfg.TenantID).
		Str("config", cfg.ConfigID).
		Str("executionId", executionID).
		Str("protocol", protocol).
		Str("path", exec.ResolvedFilePathPattern).
		Msg("Starting file check")

	if locErr != nil {
		err := inleterrors.New(inleterrors.CategoryConfigurationError, "load_timezone", locErr).
			WithTenant(cfg.TenantID, cfg.ConfigID)
		return exec, e.fail(ctx, cfg, exec, err)
	}

	adapter, spec, err := e.factory.Build(ctx, cfg)
	if err != nil {
		return exec, e.fail(ctx, cfg, exec, err)
	}

	doer := retry.New(spec)
	if e.retrySleep != nil {
		doer.Sleep = e.retrySleep
	}

	var candidates []adapters.FileMetadata
	err = doer.Do(ctx, func(ctx context.Context) error {
		var listErr error
		candidates, listErr = adapter.List(ctx, exec.ResolvedFilePathPattern, exec.ResolvedFilenamePattern, cfg.FileExtension)
		return listErr
	}, func(attempt int, attemptErr error, delay time.Duration) {
		exec.RetryCount = attempt
		if updateErr := e.store.UpdateExecution(ctx, exec); updateErr != nil {
			log.Error().Err(updateErr).Str("executionId", executionID).Msg("Failed to persist retry count")
		}
		log.Warn().Err(attemptErr).
			Str("tenant", cfg.TenantID).
			Str("config", cfg.ConfigID).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("File check attempt failed, retrying")
	})
	if err != nil {
		return exec, e.fail(ctx, cfg, exec, err)
	}

	exec.FilesFound = len(candidates)
	exec.FilesProcessed = e.pipeline.Process(ctx, cfg, executionID, candidates)
	e.complete(exec)

	metrics.ChecksExecuted.WithLabelValues(cfg.TenantID, protocol, string(models.ExecutionCompleted)).Inc()
	metrics.CheckDuration.WithLabelValues(protocol, string(models.ExecutionCompleted)).
		Observe(float64(exec.DurationMs) / 1000)

	log.Info().
		Str("tenant", cfg.TenantID).
		Str("config", cfg.ConfigID).
		Str("executionId", executionID).
		Int("filesFound", exec.FilesFound).
		Int("filesProcessed", exec.FilesProcessed).
		Int64("durationMs", exec.DurationMs).
		Msg("File check completed")

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return exec, err
	}
	return exec, nil
}

// fail moves the execution to its terminal Failed state with the classified
// category and persists it. Returns the original failure.
func (e *Engine) fail(ctx context.Context, cfg *models.RetrievalConfiguration, exec *models.RetrievalExecution, cause error) error {
	category := inleterrors.Classify(cause)
	completed := e.now().UTC()
	exec.Status = models.ExecutionFailed
	exec.CompletedUtc = &completed
	exec.ErrorCategory = string(category)
	exec.ErrorMessage = cause.Error()
	exec.DurationMs = completed.Sub(exec.StartedUtc).Milliseconds()

	protocol := string(cfg.Protocol)
	metrics.ChecksExecuted.WithLabelValues(cfg.TenantID, protocol, string(models.ExecutionFailed)).Inc()
	metrics.ExecutionFailures.WithLabelValues(cfg.TenantID, protocol, string(category)).Inc()
	metrics.CheckDuration.WithLabelValues(protocol, string(models.ExecutionFailed)).
		Observe(float64(exec.DurationMs) / 1000)

	log.Error().Err(cause).
		Str("tenant", cfg.TenantID).
		Str("config", cfg.ConfigID).
		Str("executionId", exec.ExecutionID).
		Str("category", string(category)).
		Int("retries", exec.RetryCount).
		Msg("File check failed")

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		log.Error().Err(err).Str("executionId", exec.ExecutionID).Msg("Failed to persist failed execution")
	}
	return cause
}

func (e *Engine) complete(exec *models.RetrievalExecution) {
	completed := e.now().UTC()
	exec.Status = models.ExecutionCompleted
	exec.CompletedUtc = &completed
	exec.DurationMs = completed.Sub(exec.StartedUtc).Milliseconds()
}
