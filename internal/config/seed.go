package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/inletworks/inlet/internal/bus"
	"github.com/inletworks/inlet/internal/metrics"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/pattern"
	"github.com/inletworks/inlet/internal/scheduler"
	"github.com/inletworks/inlet/internal/store"
)

const seedDebounce = 500 * time.Millisecond

// LoadSeed parses and validates a seed file of retrieval configurations.
func LoadSeed(path string) ([]*models.RetrievalConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var configs []*models.RetrievalConfiguration
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(configs))
	for i, cfg := range configs {
		if err := ValidateConfiguration(cfg); err != nil {
			return nil, fmt.Errorf("seed entry %d (%s): %w", i, cfg.Name, err)
		}
		if seen[cfg.Key()] {
			return nil, fmt.Errorf("seed entry %d: duplicate configuration %s", i, cfg.Key())
		}
		seen[cfg.Key()] = true
	}
	return configs, nil
}

// ValidateConfiguration runs the full structural check a configuration must
// pass before it can be stored: model invariants, schedule and token rules.
func ValidateConfiguration(cfg *models.RetrievalConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := scheduler.ValidateSchedule(cfg.CronExpression, cfg.Timezone); err != nil {
		return err
	}
	if err := pattern.Validate(cfg.FilePathPattern); err != nil {
		return fmt.Errorf("filePathPattern: %w", err)
	}
	if err := pattern.Validate(cfg.FilenamePattern); err != nil {
		return fmt.Errorf("filenamePattern: %w", err)
	}
	switch cfg.Protocol {
	case models.ProtocolFTP:
		if err := pattern.ValidateHost(cfg.Settings.FTP.Server); err != nil {
			return err
		}
	case models.ProtocolHTTPS:
		if err := pattern.ValidateHost(cfg.Settings.HTTPS.BaseURL); err != nil {
			return err
		}
	}
	return nil
}

// ApplySeed reconciles the store with the seed file contents: entries are
// created or updated, and active configurations that disappeared from the
// seed are retired. A ConfigurationChanged event is emitted for every
// change so the scheduler re-arms without a restart. Returns how many
// configurations changed.
func ApplySeed(ctx context.Context, st *store.Store, b bus.Bus, configs []*models.RetrievalConfiguration) (int, error) {
	changed := 0
	inSeed := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		inSeed[cfg.Key()] = true
	}
	for _, cfg := range configs {
		existing, err := st.GetConfiguration(ctx, cfg.TenantID, cfg.ConfigID)
		kind := models.ConfigurationCreated
		var fields []string
		if err == nil {
			fields = changedFields(existing, cfg)
			if len(fields) == 0 {
				continue
			}
			kind = models.ConfigurationUpdated
			cfg.Version = existing.Version
			cfg.CreatedUtc = existing.CreatedUtc
		} else if !errors.Is(err, store.ErrNotFound) {
			return changed, err
		}

		if err := st.UpsertConfiguration(ctx, cfg); err != nil {
			return changed, fmt.Errorf("apply configuration %s: %w", cfg.Key(), err)
		}
		changed++

		if kind == models.ConfigurationCreated {
			metrics.ConfigurationsCreated.WithLabelValues(cfg.TenantID).Inc()
		}
		log.Info().
			Str("tenant", cfg.TenantID).
			Str("config", cfg.ConfigID).
			Str("kind", string(kind)).
			Msg("Seed configuration applied")

		event := models.ConfigurationChanged{
			Envelope: models.Envelope{
				MessageID:     uuid.NewString(),
				CorrelationID: uuid.NewString(),
				OccurredUtc:   time.Now().UTC(),
				TenantID:      cfg.TenantID,
				ConfigID:      cfg.ConfigID,
			},
			Kind:           kind,
			CronExpression: cfg.CronExpression,
			Timezone:       cfg.Timezone,
			IsActive:       cfg.IsActive,
			ChangedFields:  fields,
		}
		if err := b.Publish(ctx, models.KindConfigurationChanged, event); err != nil {
			log.Error().Err(err).Str("config", cfg.ConfigID).Msg("Failed to publish configuration change")
		}
	}

	// Retire active configurations that the seed no longer declares.
	active, err := st.ListActiveConfigurations(ctx)
	if err != nil {
		return changed, err
	}
	for _, cfg := range active {
		if inSeed[cfg.Key()] {
			continue
		}
		if err := st.SoftDeleteConfiguration(ctx, cfg.TenantID, cfg.ConfigID); err != nil {
			return changed, fmt.Errorf("retire configuration %s: %w", cfg.Key(), err)
		}
		changed++
		metrics.ConfigurationsDeleted.WithLabelValues(cfg.TenantID).Inc()
		log.Info().
			Str("tenant", cfg.TenantID).
			Str("config", cfg.ConfigID).
			Msg("Configuration removed from seed, retiring")

		event := models.ConfigurationChanged{
			Envelope: models.Envelope{
				MessageID:     uuid.NewString(),
				CorrelationID: uuid.NewString(),
				OccurredUtc:   time.Now().UTC(),
				TenantID:      cfg.TenantID,
				ConfigID:      cfg.ConfigID,
			},
			Kind: models.ConfigurationDeleted,
		}
		if err := b.Publish(ctx, models.KindConfigurationChanged, event); err != nil {
			log.Error().Err(err).Str("config", cfg.ConfigID).Msg("Failed to publish configuration retirement")
		}
	}
	return changed, nil
}

// changedFields returns the top-level JSON field names on which the two
// configurations differ, ignoring version and audit fields the store
// maintains. An empty result means the declarative parts are identical.
func changedFields(a, b *models.RetrievalConfiguration) []string {
	norm := func(c *models.RetrievalConfiguration) map[string]json.RawMessage {
		n := *c
		n.Version = 0
		n.CreatedUtc = time.Time{}
		n.UpdatedUtc = time.Time{}
		data, err := json.Marshal(&n)
		if err != nil {
			return nil
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil
		}
		return m
	}
	am, bm := norm(a), norm(b)

	var fields []string
	for name, av := range am {
		if bv, ok := bm[name]; !ok || string(av) != string(bv) {
			fields = append(fields, name)
		}
	}
	for name := range bm {
		if _, ok := am[name]; !ok {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}

// WatchSeed reloads and re-applies the seed file whenever it changes on disk,
// debouncing editor write bursts. Blocks until ctx is cancelled.
func WatchSeed(ctx context.Context, path string, st *store.Store, b bus.Bus) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create seed watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file, which would
	// invalidate a watch on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	var debounce *time.Timer
	var debounceC <-chan time.Time

	log.Info().Str("file", path).Msg("Watching seed file for changes")
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(seedDebounce)
			} else {
				debounce.Reset(seedDebounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			configs, err := LoadSeed(path)
			if err != nil {
				log.Error().Err(err).Str("file", path).Msg("Ignoring invalid seed file")
				continue
			}
			changed, err := ApplySeed(ctx, st, b, configs)
			if err != nil {
				log.Error().Err(err).Str("file", path).Msg("Failed to apply seed file")
				continue
			}
			log.Info().Int("changed", changed).Str("file", path).Msg("Seed file reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Seed watcher error")
		}
	}
}
