// Package catalog defines the product catalog contract consumed by checkout
// pricing. The catalog itself (sourcing, pricing, inventory) lives behind the
// Source interface.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested catalog item does not exist.
var ErrNotFound = errors.New("catalog item not found")

// Item is a catalog entry referenced by a checkout line item.
// UnitPrice is expressed in integer minor units of Currency.
type Item struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UnitPrice int64  `json:"unit_price"`
	Currency  string `json:"currency"`
}

// Source resolves catalog items by id.
type Source interface {
	// GetByIDs fetches the given items in a single batch. Missing ids are
	// simply absent from the result; callers decide whether that is fatal.
	GetByIDs(ctx context.Context, ids []string) ([]Item, error)
}
