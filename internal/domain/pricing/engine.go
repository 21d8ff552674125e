package pricing

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Input is everything the engine needs to price a session.
type Input struct {
	Currency string
	Lines    []Line
	// Codes are discount codes in the order the client supplied them;
	// the engine applies them in exactly that order.
	Codes []string
	// ShippingCost is the selected fulfillment option's cost, zero when
	// no option is selected.
	ShippingCost int64
	// ShippingSelected controls whether a shipping line is emitted even
	// when the cost is zero.
	ShippingSelected bool
	// TaxRateBps is the merchant's flat tax rate in basis points, applied
	// to the discounted subtotal.
	TaxRateBps int64
}

// Quote is the engine's output: priced lines, the ordered totals breakdown,
// applied discounts with allocations, and the codes that were silently
// dropped because no definition exists for them.
type Quote struct {
	Lines        []PricedLine
	Totals       []Total
	Applied      []AppliedDiscount
	IgnoredCodes []string
}

// GrandTotal returns the amount of the total line.
func (q *Quote) GrandTotal() int64 {
	for _, t := range q.Totals {
		if t.Type == TotalTotal {
			return t.Amount
		}
	}
	return 0
}

// Engine computes totals and discount allocations. It holds only the rule
// source; no session state survives between calls.
type Engine struct {
	rules RuleSource
}

// NewEngine creates an Engine backed by the given rule source.
func NewEngine(rules RuleSource) *Engine {
	return &Engine{rules: rules}
}

// Price computes the full totals breakdown for the input.
//
// Discount codes are resolved in the order supplied. Unknown codes are
// dropped and reported via Quote.IgnoredCodes. Each discount's applicable
// base is the current subtotal minus discounts already applied, unless the
// rule is scoped to specific items, in which case the base is the remaining
// value of those lines and the amount is allocated across them with a
// largest-remainder distribution so no rounding residue is ever lost.
func (e *Engine) Price(ctx context.Context, in Input) (*Quote, error) {
	lines := make([]PricedLine, len(in.Lines))
	var subtotal int64
	for i, l := range in.Lines {
		if l.Item.Currency != "" && l.Item.Currency != in.Currency {
			return nil, &CurrencyMismatchError{ItemID: l.Item.ID, Want: in.Currency, Got: l.Item.Currency}
		}
		lineSubtotal := l.Item.UnitPrice * int64(l.Quantity)
		lines[i] = PricedLine{Line: l, Subtotal: lineSubtotal, Total: lineSubtotal}
		subtotal += lineSubtotal
	}

	q := &Quote{Lines: lines}

	// lineDiscount tracks scoped allocations charged against each line so
	// later scoped discounts see the already-reduced base.
	lineDiscount := make([]int64, len(lines))
	var discountTotal int64

	for _, code := range in.Codes {
		rule, err := e.rules.FindByCode(ctx, code)
		if err != nil {
			if errors.Is(err, ErrUnknownCode) {
				q.IgnoredCodes = append(q.IgnoredCodes, code)
				continue
			}
			return nil, errors.Wrapf(err, "lookup discount %q", code)
		}

		applied, err := applyRule(rule, lines, lineDiscount, subtotal+discountTotal)
		if err != nil {
			return nil, err
		}
		if applied == nil {
			continue
		}

		for _, a := range applied.Allocations {
			if idx, ok := lineIndexFromPath(a.Path); ok {
				lineDiscount[idx] -= a.Amount
				lines[idx].Total += a.Amount
			}
		}
		discountTotal += applied.Amount
		q.Applied = append(q.Applied, *applied)
	}

	var tax int64
	if in.TaxRateBps > 0 {
		tax = mulRoundBank(subtotal+discountTotal, decimal.NewFromInt(in.TaxRateBps), bpsScale)
	}

	total := subtotal + discountTotal + tax + in.ShippingCost
	if total < 0 {
		return nil, errors.Wrapf(ErrInvalidTotals, "grand total %d is negative", total)
	}

	q.Totals = append(q.Totals, Total{Type: TotalSubtotal, Amount: subtotal})
	if len(q.Applied) > 0 {
		q.Totals = append(q.Totals, Total{Type: TotalDiscount, Amount: discountTotal})
	}
	if tax > 0 {
		q.Totals = append(q.Totals, Total{Type: TotalTax, Amount: tax})
	}
	if in.ShippingSelected {
		q.Totals = append(q.Totals, Total{Type: TotalShipping, Amount: in.ShippingCost})
	}
	q.Totals = append(q.Totals, Total{Type: TotalTotal, Amount: total})

	return q, nil
}

// applyRule computes one discount's amount and allocations. orderBase is the
// current subtotal minus discounts already applied at order level and line
// level. Returns nil when the rule yields nothing to subtract.
func applyRule(rule *Rule, lines []PricedLine, lineDiscount []int64, orderBase int64) (*AppliedDiscount, error) {
	if rule.Scoped() {
		return applyScoped(rule, lines, lineDiscount)
	}

	if orderBase <= 0 {
		return nil, nil
	}

	amount, err := ruleAmount(rule, orderBase)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, nil
	}

	applied := &AppliedDiscount{
		Code:      rule.Code,
		Title:     rule.Title,
		Amount:    -amount,
		Automatic: rule.Automatic,
		Allocations: []Allocation{
			{Path: "$.totals.subtotal", Amount: -amount},
		},
	}
	return applied, checkAllocations(applied)
}

// applyScoped restricts the rule to its target lines and distributes the
// amount across them proportionally to their remaining value, assigning the
// rounding residue by largest remainder (ties broken by line order).
func applyScoped(rule *Rule, lines []PricedLine, lineDiscount []int64) (*AppliedDiscount, error) {
	targets := make([]int, 0, len(lines))
	var base int64
	for i, l := range lines {
		if !ruleTargets(rule, l.Item.ID) {
			continue
		}
		if remaining := l.Subtotal - lineDiscount[i]; remaining > 0 {
			targets = append(targets, i)
			base += remaining
		}
	}
	if base <= 0 {
		return nil, nil
	}

	amount, err := ruleAmount(rule, base)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, nil
	}

	// Integer proportional split: floor every share, then hand out the
	// leftover minor units to the largest remainders.
	type share struct {
		idx  int
		amt  int64
		frac int64
	}
	shares := make([]share, len(targets))
	var assigned int64
	for n, i := range targets {
		remaining := lines[i].Subtotal - lineDiscount[i]
		product := amount * remaining
		shares[n] = share{idx: i, amt: product / base, frac: product % base}
		assigned += shares[n].amt
	}
	for leftover := amount - assigned; leftover > 0; leftover-- {
		best := 0
		for n := 1; n < len(shares); n++ {
			if shares[n].frac > shares[best].frac {
				best = n
			}
		}
		shares[best].amt++
		shares[best].frac = -1
	}

	applied := &AppliedDiscount{
		Code:      rule.Code,
		Title:     rule.Title,
		Amount:    -amount,
		Automatic: rule.Automatic,
	}
	for _, s := range shares {
		if s.amt == 0 {
			continue
		}
		applied.Allocations = append(applied.Allocations, Allocation{
			Path:   fmt.Sprintf("$.line_items[%d]", s.idx),
			Amount: -s.amt,
		})
	}
	return applied, checkAllocations(applied)
}

// ruleAmount returns the positive magnitude to subtract for rule against base.
func ruleAmount(rule *Rule, base int64) (int64, error) {
	switch rule.Kind {
	case KindFlat:
		flat := rule.Value.IntPart()
		if flat > base {
			flat = base
		}
		return flat, nil
	case KindPercent:
		return mulRoundBank(base, rule.Value, hundred), nil
	default:
		return 0, errors.Errorf("unsupported discount kind: %q", rule.Kind)
	}
}

// checkAllocations asserts that a discount's allocations sum exactly to its
// amount. A mismatch is an engine defect, not a user error.
func checkAllocations(d *AppliedDiscount) error {
	var sum int64
	for _, a := range d.Allocations {
		sum += a.Amount
	}
	if sum != d.Amount {
		return errors.Wrapf(ErrInvalidTotals,
			"discount %q allocations sum to %d, want %d", d.Code, sum, d.Amount)
	}
	return nil
}

func ruleTargets(rule *Rule, itemID string) bool {
	for _, id := range rule.ItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// lineIndexFromPath parses a "$.line_items[i]" allocation path. Order-level
// paths return false.
func lineIndexFromPath(path string) (int, bool) {
	var idx int
	if _, err := fmt.Sscanf(path, "$.line_items[%d]", &idx); err != nil {
		return 0, false
	}
	return idx, true
}
