package order

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// Event types emitted by the dispatcher.
const (
	EventOrderPlaced  = "order.placed"
	EventOrderShipped = "order.shipped"
)

// Event is a post-completion domain event.
type Event struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"order_id"`
	SessionID string    `json:"checkout_session_id"`
	At        time.Time `json:"at"`
}

// Sink receives domain events. Delivery is at-least-once; deduplication is
// the dispatcher's job.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher finalizes orders from completed sessions and emits their
// lifecycle events exactly once per order id. Deduplication keys on the
// order id rather than the idempotency key because the dispatcher can be
// reached from a replayed completion.
type Dispatcher struct {
	orders Repository
	sink   Sink
	clock  func() time.Time

	mu      sync.Mutex
	emitted map[string]struct{}
}

// NewDispatcher creates a Dispatcher over the given repository and sink.
func NewDispatcher(orders Repository, sink Sink) *Dispatcher {
	return &Dispatcher{
		orders:  orders,
		sink:    sink,
		clock:   time.Now,
		emitted: make(map[string]struct{}),
	}
}

// Place persists a freshly completed order and emits order.placed. Calling
// it again for the same order id tops up whichever step failed before and
// never double-publishes, so completion replays can drive it safely.
func (d *Dispatcher) Place(ctx context.Context, o *Order) error {
	if err := d.orders.Create(ctx, o); err != nil && !errors.Is(err, ErrExists) {
		return errors.Wrap(err, "create order")
	}
	return d.emitOnce(ctx, Event{
		Type:      EventOrderPlaced,
		OrderID:   o.ID,
		SessionID: o.SessionID,
		At:        d.clock(),
	})
}

// Get returns the order with the given id.
func (d *Dispatcher) Get(ctx context.Context, orderID string) (*Order, error) {
	return d.orders.Get(ctx, orderID)
}

// MarkShipped transitions a placed order to shipped and emits order.shipped.
// Orders in any other status are rejected with ErrInvalidOrderState.
func (d *Dispatcher) MarkShipped(ctx context.Context, orderID string) (*Order, error) {
	o, err := d.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPlaced {
		return nil, errors.Wrapf(ErrInvalidOrderState, "order %s is %s", orderID, o.Status)
	}

	now := d.clock()
	if err := d.orders.Transition(ctx, orderID, StatusPlaced, StatusShipped, now); err != nil {
		return nil, err
	}
	o.Status = StatusShipped
	o.ShippedAt = &now

	if err := d.emitOnce(ctx, Event{
		Type:      EventOrderShipped,
		OrderID:   o.ID,
		SessionID: o.SessionID,
		At:        now,
	}); err != nil {
		return nil, err
	}
	return o, nil
}

// emitOnce publishes ev unless an event of the same type was already emitted
// for the order.
func (d *Dispatcher) emitOnce(ctx context.Context, ev Event) error {
	key := ev.Type + "/" + ev.OrderID
	d.mu.Lock()
	if _, seen := d.emitted[key]; seen {
		d.mu.Unlock()
		return nil
	}
	d.emitted[key] = struct{}{}
	d.mu.Unlock()

	if err := d.sink.Publish(ctx, ev); err != nil {
		// Sink delivery is at-least-once; forget the marker so a retry
		// can publish again.
		d.mu.Lock()
		delete(d.emitted, key)
		d.mu.Unlock()
		return errors.Wrap(err, "publish event")
	}
	return nil
}
