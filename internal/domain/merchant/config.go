// Package merchant holds the merchant-level configuration value threaded
// explicitly through every orchestrator call. Keeping it a plain value (no
// ambient globals) keeps the checkout core multi-tenant-safe and trivially
// testable.
package merchant

import (
	"time"

	"github.com/floracart/checkout-server/internal/domain/payment"
)

// Config describes a single merchant's checkout policy.
type Config struct {
	// Name is the merchant display name.
	Name string
	// Currency is the merchant's settlement currency (ISO 4217). Sessions
	// created without an explicit currency default to it.
	Currency string
	// PaymentHandlers lists the payment handlers the merchant has enabled,
	// in the order they should be advertised.
	PaymentHandlers []payment.Handler
	// RequireFulfillment blocks sessions from becoming ready for completion
	// until a fulfillment address and option have been selected.
	RequireFulfillment bool
	// TaxRateBps is the flat tax rate in basis points applied to the
	// discounted subtotal. Zero disables the tax line.
	TaxRateBps int64
	// SessionTTL is the inactivity window after which a non-terminal session
	// is expired by the background sweep.
	SessionTTL time.Duration
}

// HandlerByID returns the enabled handler with the given id, if any.
func (c Config) HandlerByID(id string) (payment.Handler, bool) {
	for _, h := range c.PaymentHandlers {
		if h.ID == id {
			return h, true
		}
	}
	return payment.Handler{}, false
}
