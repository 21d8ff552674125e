package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floracart/checkout-server/internal/idempotency"
)

const (
	insertIdempotencySQL = `INSERT INTO idempotency_records (key, fingerprint, response, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING`

	getIdempotencySQL = `SELECT key, fingerprint, response, created_at
		FROM idempotency_records WHERE key = $1 AND created_at > $2`

	purgeIdempotencySQL = `DELETE FROM idempotency_records WHERE created_at <= $1`
)

var _ idempotency.Ledger = (*IdempotencyRepository)(nil)

// IdempotencyRepository implements idempotency.Ledger backed by PostgreSQL.
// Records older than the retention window are invisible to Find and removed
// by Purge.
type IdempotencyRepository struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewIdempotencyRepository returns an IdempotencyRepository with the given
// retention window.
func NewIdempotencyRepository(pool *pgxpool.Pool, ttl time.Duration) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool, ttl: ttl}
}

// Find returns the record stored under key, or nil when none exists within
// the retention window.
func (r *IdempotencyRepository) Find(ctx context.Context, key string) (*idempotency.Record, error) {
	rows, err := r.pool.Query(ctx, getIdempotencySQL, key, time.Now().Add(-r.ttl))
	if err != nil {
		return nil, fmt.Errorf("finding idempotency record %q: %w", key, err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanIdempotencyRecord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding idempotency record %q: %w", key, err)
	}
	return &rec, nil
}

// Save stores the record unless the key is already taken. A concurrent
// insert with a different fingerprint surfaces as idempotency.ErrConflict;
// the same fingerprint is a no-op.
func (r *IdempotencyRepository) Save(ctx context.Context, rec idempotency.Record) error {
	tag, err := r.pool.Exec(ctx, insertIdempotencySQL,
		rec.Key, rec.Fingerprint, rec.Response, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving idempotency record %q: %w", rec.Key, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	existing, err := r.Find(ctx, rec.Key)
	if err != nil {
		return err
	}
	if existing != nil && existing.Fingerprint != rec.Fingerprint {
		return idempotency.ErrConflict
	}
	return nil
}

// Purge deletes records older than the retention window.
func (r *IdempotencyRepository) Purge(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, purgeIdempotencySQL, time.Now().Add(-r.ttl))
	if err != nil {
		return fmt.Errorf("purging idempotency records: %w", err)
	}
	return nil
}

func scanIdempotencyRecord(row pgx.CollectableRow) (idempotency.Record, error) {
	var rec idempotency.Record
	err := row.Scan(&rec.Key, &rec.Fingerprint, &rec.Response, &rec.CreatedAt)
	return rec, err
}
