package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floracart/checkout-server/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, session_id, status, currency, line_items, totals,
		payment_handler_id, payment_instrument_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	getOrderSQL = `SELECT id, session_id, status, currency, line_items, totals,
		payment_handler_id, payment_instrument_id, created_at, shipped_at
		FROM orders WHERE id = $1`

	transitionOrderSQL = `UPDATE orders SET status = $2, shipped_at = $3
		WHERE id = $1 AND status = $4`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items and totals are serialized to JSONB columns.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. An existing row with the same id is left
// untouched and reported as order.ErrExists.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.LineItems)
	if err != nil {
		return fmt.Errorf("marshaling order line items: %w", err)
	}
	totalsJSON, err := json.Marshal(o.Totals)
	if err != nil {
		return fmt.Errorf("marshaling order totals: %w", err)
	}

	tag, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.SessionID, string(o.Status), o.Currency, linesJSON, totalsJSON,
		o.PaymentHandlerID, o.PaymentInstrumentID, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(order.ErrExists, "order %q", o.ID)
	}
	return nil
}

// Get returns a single order by its identifier.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// Transition moves an order from one status to another. The update only
// applies if the order is still in the expected from status; otherwise
// order.ErrInvalidOrderState is returned.
func (r *OrderRepository) Transition(ctx context.Context, id string, from, to order.Status, shippedAt time.Time) error {
	var shipped *time.Time
	if !shippedAt.IsZero() {
		shipped = &shippedAt
	}
	tag, err := r.pool.Exec(ctx, transitionOrderSQL, id, string(to), shipped, string(from))
	if err != nil {
		return fmt.Errorf("transitioning order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return errors.Wrapf(order.ErrInvalidOrderState, "order %q is not %s", id, from)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
		lines  []byte
		totals []byte
	)
	err := row.Scan(
		&o.ID, &o.SessionID, &status, &o.Currency, &lines, &totals,
		&o.PaymentHandlerID, &o.PaymentInstrumentID, &o.CreatedAt, &o.ShippedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if err := json.Unmarshal(lines, &o.LineItems); err != nil {
		return o, fmt.Errorf("decoding order line items: %w", err)
	}
	if len(totals) > 0 {
		if err := json.Unmarshal(totals, &o.Totals); err != nil {
			return o, fmt.Errorf("decoding order totals: %w", err)
		}
	}
	return o, nil
}
