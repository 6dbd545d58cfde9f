// Package discovery turns adapter listings into durable discovered-file
// records and the events and commands downstream consumers act on.
package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/inletworks/inlet/internal/adapters"
	"github.com/inletworks/inlet/internal/bus"
	"github.com/inletworks/inlet/internal/metrics"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/store"
)

// Notifier receives a live copy of every newly discovered file. Used by the
// websocket feed; may be nil.
type Notifier interface {
	FileDiscovered(file *models.DiscoveredFile)
}

// Pipeline deduplicates candidate files against the store and publishes the
// configured events and commands for each genuinely new one.
type Pipeline struct {
	store    *store.Store
	bus      bus.Bus
	notifier Notifier

	now func() time.Time
}

// NewPipeline builds a pipeline over the store and bus. notifier may be nil.
func NewPipeline(st *store.Store, b bus.Bus, notifier Notifier) *Pipeline {
	return &Pipeline{store: st, bus: b, notifier: notifier, now: time.Now}
}

// Process runs every candidate through dedup, persist and publish, in listing
// order. Per-file failures are logged and skipped so one bad file cannot sink
// the batch; the returned count is how many files reached EventPublished.
func (p *Pipeline) Process(ctx context.Context, cfg *models.RetrievalConfiguration, executionID string, candidates []adapters.FileMetadata) int {
	processed := 0
	for i, candidate := range candidates {
		if ctx.Err() != nil {
			log.Warn().
				Str("tenant", cfg.TenantID).
				Str("config", cfg.ConfigID).
				Int("remaining", len(candidates)-i).
				Msg("Discovery pipeline cancelled mid-batch")
			return processed
		}
		if p.processOne(ctx, cfg, executionID, candidate) {
			processed++
		}
	}
	return processed
}

func (p *Pipeline) processOne(ctx context.Context, cfg *models.RetrievalConfiguration, executionID string, candidate adapters.FileMetadata) bool {
	now := p.now().UTC()
	discoveryDate := models.DiscoveryDateOf(now)

	existing, err := p.store.FindDiscoveredFile(ctx, cfg.TenantID, cfg.ConfigID, candidate.URL, discoveryDate)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).
			Str("tenant", cfg.TenantID).
			Str("config", cfg.ConfigID).
			Str("fileUrl", candidate.URL).
			Msg("Failed to check discovered-file history")
		return false
	}
	if existing != nil {
		if existing.Status != models.FileDiscoveredStatus {
			log.Debug().
				Str("tenant", cfg.TenantID).
				Str("config", cfg.ConfigID).
				Str("fileUrl", candidate.URL).
				Str("discoveryDate", discoveryDate).
				Msg("File already discovered today, skipping")
			return false
		}
		// An earlier execution recorded the file but never finished
		// publishing. Re-emit under the same idempotency keys; at-least-once
		// consumers dedupe on those.
		log.Info().
			Str("tenant", cfg.TenantID).
			Str("config", cfg.ConfigID).
			Str("fileUrl", candidate.URL).
			Msg("Resuming publish for previously discovered file")
		return p.finishPublish(ctx, cfg, existing)
	}

	file := &models.DiscoveredFile{
		DiscoveredFileID: ulid.Make().String(),
		TenantID:         cfg.TenantID,
		ConfigID:         cfg.ConfigID,
		ExecutionID:      executionID,
		FileURL:          candidate.URL,
		Filename:         candidate.Filename,
		FileSize:         candidate.Size,
		LastModified:     candidate.LastModified,
		DiscoveredAt:     now,
		DiscoveryDate:    discoveryDate,
		Status:           models.FileDiscoveredStatus,
	}

	if err := p.store.InsertDiscoveredFile(ctx, file); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// A concurrent execution won the insert race; the unique index is
			// the arbiter, not the pre-check above.
			log.Debug().
				Str("tenant", cfg.TenantID).
				Str("config", cfg.ConfigID).
				Str("fileUrl", candidate.URL).
				Msg("Lost discovery insert race, skipping")
			return false
		}
		log.Error().Err(err).
			Str("tenant", cfg.TenantID).
			Str("config", cfg.ConfigID).
			Str("fileUrl", candidate.URL).
			Msg("Failed to persist discovered file")
		return false
	}

	metrics.FilesDiscovered.WithLabelValues(cfg.TenantID, string(cfg.Protocol)).Inc()
	log.Info().
		Str("tenant", cfg.TenantID).
		Str("config", cfg.ConfigID).
		Str("file", candidate.Filename).
		Str("fileUrl", candidate.URL).
		Msg("Discovered new file")

	if p.notifier != nil {
		p.notifier.FileDiscovered(file)
	}

	return p.finishPublish(ctx, cfg, file)
}

// finishPublish emits the configured messages for a Discovered file and
// transitions it to EventPublished. On failure the row stays Discovered so the
// next execution that sees the file retries the publish.
func (p *Pipeline) finishPublish(ctx context.Context, cfg *models.RetrievalConfiguration, file *models.DiscoveredFile) bool {
	if err := p.publish(ctx, cfg, file); err != nil {
		log.Error().Err(err).
			Str("tenant", cfg.TenantID).
			Str("config", cfg.ConfigID).
			Str("fileUrl", file.FileURL).
			Msg("Failed to publish discovery messages")
		return false
	}

	publishedAt := p.now().UTC()
	if err := p.store.MarkFilePublished(ctx, cfg.TenantID, file.DiscoveredFileID, publishedAt); err != nil {
		log.Error().Err(err).
			Str("tenant", cfg.TenantID).
			Str("discoveredFileId", file.DiscoveredFileID).
			Msg("Failed to mark discovered file as published")
		return false
	}
	return true
}

// publish emits one FileDiscovered event per event definition and one
// ProcessDiscoveredFile command per command definition, in declaration order.
func (p *Pipeline) publish(ctx context.Context, cfg *models.RetrievalConfiguration, file *models.DiscoveredFile) error {
	discoveryKey := models.DiscoveryKey(cfg.TenantID, cfg.ConfigID, file.FileURL, file.DiscoveryDate)
	correlationID := file.ExecutionID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	for _, def := range cfg.Events {
		event := models.FileDiscovered{
			Envelope: models.Envelope{
				MessageID:      uuid.NewString(),
				CorrelationID:  correlationID,
				OccurredUtc:    p.now().UTC(),
				IdempotencyKey: discoveryKey,
				TenantID:       cfg.TenantID,
				ConfigID:       cfg.ConfigID,
				ExecutionID:    file.ExecutionID,
			},
			DiscoveredFileID:  file.DiscoveredFileID,
			FileURL:           file.FileURL,
			Filename:          file.Filename,
			FileSize:          file.FileSize,
			LastModified:      file.LastModified,
			DiscoveredAt:      file.DiscoveredAt,
			ConfigurationName: cfg.Name,
			Protocol:          cfg.Protocol,
			EventType:         def.EventType,
			EventData:         def.Payload,
		}
		if err := p.bus.Publish(ctx, models.KindFileDiscovered, event); err != nil {
			return err
		}
	}

	for _, def := range cfg.Commands {
		cmd := models.ProcessDiscoveredFile{
			Envelope: models.Envelope{
				MessageID:      uuid.NewString(),
				CorrelationID:  correlationID,
				OccurredUtc:    p.now().UTC(),
				IdempotencyKey: models.CommandKey(discoveryKey),
				TenantID:       cfg.TenantID,
				ConfigID:       cfg.ConfigID,
				ExecutionID:    file.ExecutionID,
			},
			DiscoveredFileID:  file.DiscoveredFileID,
			FileURL:           file.FileURL,
			Filename:          file.Filename,
			FileSize:          file.FileSize,
			LastModified:      file.LastModified,
			DiscoveredAt:      file.DiscoveredAt,
			ConfigurationName: cfg.Name,
			Protocol:          cfg.Protocol,
			CommandType:       def.CommandType,
			CommandData:       def.Payload,
			TargetEndpoint:    def.TargetEndpoint,
		}
		if err := p.bus.Send(ctx, models.KindProcessDiscoveredFile, cmd); err != nil {
			return err
		}
	}
	return nil
}
