package order

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory order store for single-node deployments
// and tests.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[string]*Order
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*Order)}
}

// Create stores a new order. Creating the same id twice returns ErrExists.
func (r *MemoryRepository) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; exists {
		return errors.Wrapf(ErrExists, "order %s", o.ID)
	}
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

// Get returns the order with the given id.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// Transition atomically moves an order between statuses.
func (r *MemoryRepository) Transition(_ context.Context, id string, from, to Status, shippedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return errors.Wrapf(ErrInvalidOrderState, "order %s is %s, want %s", id, o.Status, from)
	}
	o.Status = to
	if to == StatusShipped {
		at := shippedAt
		o.ShippedAt = &at
	}
	return nil
}
