package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floracart/checkout-server/internal/domain/checkout"
)

const (
	insertSessionSQL = `INSERT INTO checkout_sessions (id, status, version, snapshot, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	updateSessionSQL = `UPDATE checkout_sessions
		SET status = $2, version = $3, snapshot = $4, expires_at = $5, updated_at = $6
		WHERE id = $1 AND version = $7`

	getSessionSQL = `SELECT snapshot FROM checkout_sessions WHERE id = $1`

	staleSessionsSQL = `SELECT id FROM checkout_sessions
		WHERE status IN ('incomplete', 'ready_for_complete')
		AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`
)

var _ checkout.Store = (*SessionStore)(nil)

// SessionStore implements checkout.Store backed by PostgreSQL. The full
// session document lives in a JSONB column; status, version, and the
// expiry deadline are mirrored to plain columns so the conditional update
// and the stale-session scan stay in SQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore returns a SessionStore that uses the given pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Load returns the session snapshot. Returns checkout.ErrNotFound when no
// session exists with the given id.
func (r *SessionStore) Load(ctx context.Context, id string) (*checkout.Session, error) {
	rows, err := r.pool.Query(ctx, getSessionSQL, id)
	if err != nil {
		return nil, fmt.Errorf("loading session %q: %w", id, err)
	}

	buf, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) ([]byte, error) {
		var b []byte
		err := row.Scan(&b)
		return b, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrNotFound
		}
		return nil, fmt.Errorf("loading session %q: %w", id, err)
	}

	var s checkout.Session
	if err := json.Unmarshal(buf, &s); err != nil {
		return nil, fmt.Errorf("decoding session %q: %w", id, err)
	}
	return &s, nil
}

// Save persists the snapshot. expectedVersion 0 inserts a new session;
// otherwise the row is updated only if it is still at expectedVersion.
// Returns checkout.ErrVersionConflict when another writer got there first.
func (r *SessionStore) Save(ctx context.Context, s *checkout.Session, expectedVersion int64) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session %q: %w", s.ID, err)
	}

	var expiresAt *time.Time
	if !s.ExpiresAt.IsZero() {
		expiresAt = &s.ExpiresAt
	}

	var tag pgconn.CommandTag
	if expectedVersion == 0 {
		tag, err = r.pool.Exec(ctx, insertSessionSQL,
			s.ID, string(s.Status), s.Version, buf, expiresAt, s.UpdatedAt,
		)
	} else {
		tag, err = r.pool.Exec(ctx, updateSessionSQL,
			s.ID, string(s.Status), s.Version, buf, expiresAt, s.UpdatedAt, expectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("saving session %q: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(checkout.ErrVersionConflict, "session %q at version %d", s.ID, expectedVersion)
	}
	return nil
}

// StaleIDs returns ids of unfinished sessions whose deadline passed cutoff.
func (r *SessionStore) StaleIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, staleSessionsSQL, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale sessions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
}
