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

// InsertDiscoveredFile persists a newly discovered file. The unique index on
// (tenant_id, config_id, file_url, discovery_date) is the final arbiter of
// idempotency: a second insert for the same key returns ErrDuplicate.
func (s *Store) InsertDiscoveredFile(ctx context.Context, file *models.DiscoveredFile) error {
	body, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal discovered file: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discovered_files
		 (discovered_file_id, tenant_id, config_id, file_url, discovery_date, status, body, discovered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		file.DiscoveredFileID, file.TenantID, file.ConfigID, file.FileURL,
		file.DiscoveryDate, string(file.Status), string(body), file.DiscoveredAt.UTC().Unix())
	if isUniqueViolation(err) {
		return fmt.Errorf("file %s already discovered on %s: %w", file.FileURL, file.DiscoveryDate, ErrDuplicate)
	}
	return err
}

// FindDiscoveredFile fetches the row for one uniqueness key, or ErrNotFound.
// The pipeline uses the returned status to decide between skipping the file
// and resuming an interrupted publish.
func (s *Store) FindDiscoveredFile(ctx context.Context, tenantID, configID, fileURL, discoveryDate string) (*models.DiscoveredFile, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM discovered_files
		 WHERE tenant_id = ? AND config_id = ? AND file_url = ? AND discovery_date = ?`,
		tenantID, configID, fileURL, discoveryDate).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check discovered file: %w", err)
	}
	var file models.DiscoveredFile
	if err := json.Unmarshal([]byte(body), &file); err != nil {
		return nil, fmt.Errorf("unmarshal discovered file: %w", err)
	}
	return &file, nil
}

// MarkFilePublished transitions a discovered file to EventPublished.
func (s *Store) MarkFilePublished(ctx context.Context, tenantID, discoveredFileID string, at time.Time) error {
	file, err := s.GetDiscoveredFile(ctx, tenantID, discoveredFileID)
	if err != nil {
		return err
	}
	file.Status = models.FileEventPublished
	at = at.UTC()
	file.EventPublishedAt = &at
	return s.updateDiscoveredFile(ctx, file)
}

func (s *Store) updateDiscoveredFile(ctx context.Context, file *models.DiscoveredFile) error {
	body, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal discovered file: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovered_files SET status = ?, body = ?
		 WHERE discovered_file_id = ? AND tenant_id = ?`,
		string(file.Status), string(body), file.DiscoveredFileID, file.TenantID)
	if err != nil {
		return fmt.Errorf("update discovered file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDiscoveredFile fetches one discovered file within a tenant partition.
func (s *Store) GetDiscoveredFile(ctx context.Context, tenantID, discoveredFileID string) (*models.DiscoveredFile, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM discovered_files WHERE discovered_file_id = ? AND tenant_id = ?`,
		discoveredFileID, tenantID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read discovered file: %w", err)
	}
	var file models.DiscoveredFile
	if err := json.Unmarshal([]byte(body), &file); err != nil {
		return nil, fmt.Errorf("unmarshal discovered file: %w", err)
	}
	return &file, nil
}

// ListDiscoveredFiles returns the most recent discoveries for one
// configuration, newest first.
func (s *Store) ListDiscoveredFiles(ctx context.Context, tenantID, configID string, limit int) ([]*models.DiscoveredFile, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM discovered_files WHERE tenant_id = ? AND config_id = ?
		 ORDER BY discovered_at DESC LIMIT ?`,
		tenantID, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("list discovered files: %w", err)
	}
	defer rows.Close()

	var files []*models.DiscoveredFile
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan discovered file: %w", err)
		}
		var file models.DiscoveredFile
		if err := json.Unmarshal([]byte(body), &file); err != nil {
			return nil, fmt.Errorf("unmarshal discovered file: %w", err)
		}
		files = append(files, &file)
	}
	return files, rows.Err()
}
