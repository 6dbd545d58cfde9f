package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// OutboxMessage is one durable bus message awaiting dispatch.
type OutboxMessage struct {
	ID         int64
	Kind       string
	Body       []byte
	CreatedUtc time.Time
}

// OutboxAppend enqueues a message for at-least-once dispatch.
func (s *Store) OutboxAppend(ctx context.Context, kind string, body []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (kind, body, created_utc) VALUES (?, ?, ?)`,
		kind, string(body), time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("append outbox: %w", err)
	}
	return res.LastInsertId()
}

// OutboxPending returns undispatched messages in insertion order.
func (s *Store) OutboxPending(ctx context.Context, limit int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, body, created_utc FROM outbox
		 WHERE dispatched_utc IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	defer rows.Close()

	var msgs []OutboxMessage
	for rows.Next() {
		var (
			msg     OutboxMessage
			body    string
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.Kind, &body, &created); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		msg.Body = []byte(body)
		msg.CreatedUtc = time.Unix(created, 0).UTC()
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// OutboxMarkDispatched stamps a message as delivered.
func (s *Store) OutboxMarkDispatched(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET dispatched_utc = ? WHERE id = ?`, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LastFire returns the most recent fire instant recorded for a
// configuration, if any.
func (s *Store) LastFire(ctx context.Context, tenantID, configID string) (time.Time, bool, error) {
	var unix int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_fire_utc FROM schedule_state WHERE tenant_id = ? AND config_id = ?`,
		tenantID, configID).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read schedule state: %w", err)
	}
	return time.Unix(unix, 0).UTC(), true, nil
}

// SetLastFire records the most recent fire instant for a configuration.
func (s *Store) SetLastFire(ctx context.Context, tenantID, configID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_state (tenant_id, config_id, last_fire_utc) VALUES (?, ?, ?)
		 ON CONFLICT(tenant_id, config_id) DO UPDATE SET last_fire_utc = excluded.last_fire_utc`,
		tenantID, configID, at.UTC().Unix())
	if err != nil {
		return fmt.Errorf("write schedule state: %w", err)
	}
	return nil
}
