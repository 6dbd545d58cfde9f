// Package store provides durable, partition-keyed persistence for retrieval
// configurations, executions and discovered files, plus the outbox backing
// the durable bus. SQLite with WAL keeps a single-writer connection pool.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced by repository operations.
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("duplicate record")
	ErrVersionConflict = errors.New("version conflict")
)

// Store wraps the SQLite database holding all engine state.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and initializes the
// schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS configurations (
			tenant_id TEXT NOT NULL,
			config_id TEXT NOT NULL,
			name TEXT NOT NULL,
			is_active INTEGER NOT NULL,
			version INTEGER NOT NULL,
			body TEXT NOT NULL,
			updated_utc INTEGER NOT NULL,
			PRIMARY KEY (tenant_id, config_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_configurations_tenant_name
		ON configurations(tenant_id, name);

		CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			config_id TEXT NOT NULL,
			status TEXT NOT NULL,
			body TEXT NOT NULL,
			started_utc INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_executions_tenant
		ON executions(tenant_id, config_id, started_utc);

		CREATE TABLE IF NOT EXISTS discovered_files (
			discovered_file_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			config_id TEXT NOT NULL,
			file_url TEXT NOT NULL,
			discovery_date TEXT NOT NULL,
			status TEXT NOT NULL,
			body TEXT NOT NULL,
			discovered_at INTEGER NOT NULL,
			UNIQUE (tenant_id, config_id, file_url, discovery_date)
		);

		CREATE INDEX IF NOT EXISTS idx_discovered_files_tenant
		ON discovered_files(tenant_id, config_id, discovered_at);

		CREATE TABLE IF NOT EXISTS schedule_state (
			tenant_id TEXT NOT NULL,
			config_id TEXT NOT NULL,
			last_fire_utc INTEGER NOT NULL,
			PRIMARY KEY (tenant_id, config_id)
		);

		CREATE TABLE IF NOT EXISTS outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			body TEXT NOT NULL,
			created_utc INTEGER NOT NULL,
			dispatched_utc INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox(dispatched_utc) WHERE dispatched_utc IS NULL;
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Prune removes executions and discovered files older than cutoff and
// dispatched outbox rows. Returns the number of rows removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	var total int64

	res, err := s.db.Exec(`DELETE FROM executions WHERE started_utc < ?`, cutoff.UTC().Unix())
	if err != nil {
		return total, fmt.Errorf("prune executions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.Exec(`DELETE FROM discovered_files WHERE discovered_at < ?`, cutoff.UTC().Unix())
	if err != nil {
		return total, fmt.Errorf("prune discovered files: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.Exec(`DELETE FROM outbox WHERE dispatched_utc IS NOT NULL AND dispatched_utc < ?`, cutoff.UTC().Unix())
	if err != nil {
		return total, fmt.Errorf("prune outbox: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
