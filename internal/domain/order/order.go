// Package order holds the completed-order aggregate and the completion
// event dispatcher. An Order is created exactly once per checkout session
// and carries its own lifecycle independent of the session's status.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/floracart/checkout-server/internal/domain/pricing"
)

// Status is the post-completion order lifecycle.
type Status string

const (
	StatusPlaced   Status = "placed"
	StatusShipped  Status = "shipped"
	StatusCanceled Status = "canceled"
)

var (
	// ErrNotFound is returned when no order exists with the given id.
	ErrNotFound = errors.New("order not found")
	// ErrExists is returned by Repository.Create when an order with the
	// same id was already persisted, typically by an earlier completion
	// attempt for the same session.
	ErrExists = errors.New("order already exists")
	// ErrInvalidOrderState is returned when a transition is attempted on an
	// order whose current status does not permit it.
	ErrInvalidOrderState = errors.New("order status does not permit this transition")
)

// Order is the immutable record of a completed checkout session: a copy of
// its final line items, totals, and payment selection.
type Order struct {
	ID                  string               `json:"id"`
	SessionID           string               `json:"checkout_session_id"`
	Status              Status               `json:"status"`
	Currency            string               `json:"currency"`
	LineItems           []pricing.PricedLine `json:"line_items"`
	Totals              []pricing.Total      `json:"totals"`
	PaymentHandlerID    string               `json:"payment_handler_id"`
	PaymentInstrumentID string               `json:"payment_instrument_id"`
	CreatedAt           time.Time            `json:"created_at"`
	ShippedAt           *time.Time           `json:"shipped_at,omitempty"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists a new order. Returns ErrExists when the id is
	// already taken; the stored row is left untouched.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Transition atomically moves an order from one status to another.
	// Returns ErrInvalidOrderState when the order is not in from, and
	// ErrNotFound when it does not exist. shippedAt is recorded when the
	// target status is StatusShipped.
	Transition(ctx context.Context, id string, from, to Status, shippedAt time.Time) error
}
