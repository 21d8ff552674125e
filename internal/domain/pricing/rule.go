package pricing

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies. The set is closed:
// the engine dispatches exhaustively and rejects anything else as a defect.
type Kind string

const (
	// KindFlat subtracts a fixed amount (rule value in minor units),
	// capped at the applicable base.
	KindFlat Kind = "flat"
	// KindPercent subtracts a percentage of the applicable base, rounded
	// half to even on minor units.
	KindPercent Kind = "percent"
)

// ErrUnknownCode is returned by a RuleSource when a discount code has no
// definition. The engine drops such codes with a non-fatal message instead
// of failing the whole pricing pass.
var ErrUnknownCode = errors.New("unknown discount code")

// Rule is a discount definition resolved from a code.
type Rule struct {
	Code  string
	Kind  Kind
	Value decimal.Decimal
	Title string
	// ItemIDs restricts the rule to the named catalog items. Empty means
	// the rule applies to the whole order subtotal.
	ItemIDs   []string
	Automatic bool
}

// Scoped reports whether the rule targets a subset of line items.
func (r *Rule) Scoped() bool { return len(r.ItemIDs) > 0 }

// RuleSource resolves discount definitions by code.
type RuleSource interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
}

var _ RuleSource = (*StaticRules)(nil)

// StaticRules is an in-memory RuleSource for the sample merchant and tests.
type StaticRules struct {
	rules map[string]Rule
}

// NewStaticRules builds a StaticRules from the given definitions. Codes
// match case-insensitively.
func NewStaticRules(rules []Rule) *StaticRules {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		m[strings.ToUpper(r.Code)] = r
	}
	return &StaticRules{rules: m}
}

// FindByCode returns the rule for code or ErrUnknownCode.
func (s *StaticRules) FindByCode(_ context.Context, code string) (*Rule, error) {
	r, ok := s.rules[strings.ToUpper(code)]
	if !ok {
		return nil, ErrUnknownCode
	}
	return &r, nil
}
