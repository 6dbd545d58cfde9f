package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inletworks/inlet/internal/models"
)

// UpsertConfiguration inserts or updates a configuration. The caller's
// Version must match the stored one for updates (optimistic concurrency);
// on success the version is bumped and written back to cfg. A (tenant, name)
// collision with a different configuration returns ErrDuplicate.
func (s *Store) UpsertConfiguration(ctx context.Context, cfg *models.RetrievalConfiguration) error {
	now := time.Now().UTC()

	var current int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM configurations WHERE tenant_id = ? AND config_id = ?`,
		cfg.TenantID, cfg.ConfigID).Scan(&current)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		cfg.Version = 1
		cfg.CreatedUtc = now
		cfg.UpdatedUtc = now
		body, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal configuration: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO configurations (tenant_id, config_id, name, is_active, version, body, updated_utc)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cfg.TenantID, cfg.ConfigID, cfg.Name, boolInt(cfg.IsActive), cfg.Version, string(body), now.Unix())
		if isUniqueViolation(err) {
			return fmt.Errorf("configuration name %q already used in tenant %s: %w", cfg.Name, cfg.TenantID, ErrDuplicate)
		}
		return err

	case err != nil:
		return fmt.Errorf("read configuration version: %w", err)

	default:
		if cfg.Version != current {
			return fmt.Errorf("configuration %s/%s at version %d, caller has %d: %w",
				cfg.TenantID, cfg.ConfigID, current, cfg.Version, ErrVersionConflict)
		}
		cfg.Version = current + 1
		cfg.UpdatedUtc = now
		body, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal configuration: %w", err)
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE configurations SET name = ?, is_active = ?, version = ?, body = ?, updated_utc = ?
			 WHERE tenant_id = ? AND config_id = ? AND version = ?`,
			cfg.Name, boolInt(cfg.IsActive), cfg.Version, string(body), now.Unix(),
			cfg.TenantID, cfg.ConfigID, current)
		if isUniqueViolation(err) {
			return fmt.Errorf("configuration name %q already used in tenant %s: %w", cfg.Name, cfg.TenantID, ErrDuplicate)
		}
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrVersionConflict
		}
		return nil
	}
}

// GetConfiguration fetches one configuration by identity.
func (s *Store) GetConfiguration(ctx context.Context, tenantID, configID string) (*models.RetrievalConfiguration, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM configurations WHERE tenant_id = ? AND config_id = ?`,
		tenantID, configID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	return unmarshalConfiguration(body)
}

// ListConfigurations returns every configuration for one tenant.
func (s *Store) ListConfigurations(ctx context.Context, tenantID string) ([]*models.RetrievalConfiguration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM configurations WHERE tenant_id = ? ORDER BY config_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	defer rows.Close()
	return scanConfigurations(rows)
}

// ListActiveConfigurations returns every active configuration across all
// tenants. Used only by the scheduler at load time.
func (s *Store) ListActiveConfigurations(ctx context.Context) ([]*models.RetrievalConfiguration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM configurations WHERE is_active = 1 ORDER BY tenant_id, config_id`)
	if err != nil {
		return nil, fmt.Errorf("list active configurations: %w", err)
	}
	defer rows.Close()
	return scanConfigurations(rows)
}

// SoftDeleteConfiguration flips a configuration inactive, preserving history.
func (s *Store) SoftDeleteConfiguration(ctx context.Context, tenantID, configID string) error {
	cfg, err := s.GetConfiguration(ctx, tenantID, configID)
	if err != nil {
		return err
	}
	cfg.IsActive = false
	return s.UpsertConfiguration(ctx, cfg)
}

func scanConfigurations(rows *sql.Rows) ([]*models.RetrievalConfiguration, error) {
	var configs []*models.RetrievalConfiguration
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan configuration: %w", err)
		}
		cfg, err := unmarshalConfiguration(body)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func unmarshalConfiguration(body string) (*models.RetrievalConfiguration, error) {
	var cfg models.RetrievalConfiguration
	if err := json.Unmarshal([]byte(body), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	return &cfg, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
