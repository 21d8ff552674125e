// Package pricing implements the totals and discount engine. Given line
// items, discount codes, and fulfillment/tax inputs it produces the full
// ordered totals breakdown with per-discount allocations. The engine is a
// pure function over its inputs: all money is integer minor units and
// identical inputs always yield identical output.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/floracart/checkout-server/internal/domain/catalog"
)

// TotalType identifies a line in the totals breakdown.
type TotalType string

const (
	TotalSubtotal TotalType = "subtotal"
	TotalDiscount TotalType = "discount"
	TotalTax      TotalType = "tax"
	TotalShipping TotalType = "shipping"
	TotalTotal    TotalType = "total"
)

// Total is a single line of the totals breakdown. Amounts are minor units;
// the discount line is the only one allowed to be negative.
type Total struct {
	Type   TotalType `json:"type"`
	Amount int64     `json:"amount"`
}

// Allocation attributes a portion of a discount to a specific totals line,
// identified by a JSONPath-style reference into the session representation.
type Allocation struct {
	Path   string `json:"path"`
	Amount int64  `json:"amount"`
}

// AppliedDiscount records one successfully applied discount. Amount is
// non-positive and always equals the sum of its allocations exactly.
type AppliedDiscount struct {
	Code        string       `json:"code,omitempty"`
	Title       string       `json:"title"`
	Amount      int64        `json:"amount"`
	Automatic   bool         `json:"automatic"`
	Allocations []Allocation `json:"allocations"`
}

// Line is a pricing input line: a resolved catalog item and a quantity.
type Line struct {
	ID       string       `json:"id"`
	Item     catalog.Item `json:"item"`
	Quantity int          `json:"quantity"`
}

// PricedLine is a Line with its computed sub-lines. Total reflects scoped
// discount allocations charged against this line.
type PricedLine struct {
	Line
	Subtotal int64 `json:"subtotal"`
	Total    int64 `json:"total"`
}

// ErrInvalidTotals signals an arithmetic invariant violation inside the
// engine (allocation mismatch or a negative grand total). It is a defect or
// a rejected charge, never a recoverable user error.
var ErrInvalidTotals = errors.New("invalid totals")

// CurrencyMismatchError indicates a line item priced in a different currency
// than the session.
type CurrencyMismatchError struct {
	ItemID string
	Want   string
	Got    string
}

func (e *CurrencyMismatchError) Error() string {
	return "item " + e.ItemID + " priced in " + e.Got + ", session currency is " + e.Want
}

var (
	hundred  = decimal.NewFromInt(100)
	bpsScale = decimal.NewFromInt(10_000)
)

// mulRoundBank computes base * num / den with round-half-to-even on minor
// units. Used for both percentage discounts and basis-point tax rates.
func mulRoundBank(base int64, num decimal.Decimal, den decimal.Decimal) int64 {
	return decimal.NewFromInt(base).Mul(num).Div(den).RoundBank(0).IntPart()
}
