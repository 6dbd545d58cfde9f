package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/inletworks/inlet/internal/models"
)

// CreateExecution persists a new execution record.
func (s *Store) CreateExecution(ctx context.Context, exec *models.RetrievalExecution) error {
	body, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (execution_id, tenant_id, config_id, status, body, started_utc)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		exec.ExecutionID, exec.TenantID, exec.ConfigID, string(exec.Status), string(body), exec.StartedUtc.UTC().Unix())
	if isUniqueViolation(err) {
		return fmt.Errorf("execution %s: %w", exec.ExecutionID, ErrDuplicate)
	}
	return err
}

// UpdateExecution replaces an existing execution record.
func (s *Store) UpdateExecution(ctx context.Context, exec *models.RetrievalExecution) error {
	body, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, body = ? WHERE execution_id = ? AND tenant_id = ?`,
		string(exec.Status), string(body), exec.ExecutionID, exec.TenantID)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExecution fetches one execution within a tenant partition.
func (s *Store) GetExecution(ctx context.Context, tenantID, executionID string) (*models.RetrievalExecution, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM executions WHERE execution_id = ? AND tenant_id = ?`,
		executionID, tenantID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read execution: %w", err)
	}
	var exec models.RetrievalExecution
	if err := json.Unmarshal([]byte(body), &exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &exec, nil
}

// ListExecutions returns the most recent executions for one configuration,
// newest first.
func (s *Store) ListExecutions(ctx context.Context, tenantID, configID string, limit int) ([]*models.RetrievalExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM executions WHERE tenant_id = ? AND config_id = ?
		 ORDER BY started_utc DESC LIMIT ?`,
		tenantID, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.RetrievalExecution
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		var exec models.RetrievalExecution
		if err := json.Unmarshal([]byte(body), &exec); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		execs = append(execs, &exec)
	}
	return execs, rows.Err()
}
