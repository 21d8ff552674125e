// Package fulfillment validates fulfillment addresses against merchant
// shipping options. Option sourcing (carrier rates, lead times) lives behind
// the OptionSource contract.
package fulfillment

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrOptionNotFound is returned when a selected option id is not among the
// options resolved for the session's address.
var ErrOptionNotFound = errors.New("fulfillment option not found")

// ErrIncompleteAddress is returned when an address is missing the fields
// required to resolve options.
var ErrIncompleteAddress = errors.New("fulfillment address is incomplete")

// Address is a fulfillment destination.
type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Option is a shipping/delivery choice with cost and timing. Cost is in
// minor units of the session currency.
type Option struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	SubTitle string `json:"sub_title,omitempty"`
	Carrier  string `json:"carrier,omitempty"`
	Cost     int64  `json:"cost"`
}

// OptionSource resolves the options available for an address.
type OptionSource interface {
	Options(ctx context.Context, addr Address) ([]Option, error)
}

// Resolver validates address/option pairs against an OptionSource.
type Resolver struct {
	src OptionSource
}

// NewResolver creates a Resolver backed by the given source.
func NewResolver(src OptionSource) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns the options available for addr. Addresses without at least
// a first line, city, and country cannot be resolved.
func (r *Resolver) Resolve(ctx context.Context, addr Address) ([]Option, error) {
	if addr.Line1 == "" || addr.City == "" || addr.Country == "" {
		return nil, ErrIncompleteAddress
	}
	opts, err := r.src.Options(ctx, addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve fulfillment options")
	}
	return opts, nil
}

// Select returns the option with the given id from options, or
// ErrOptionNotFound.
func Select(optionID string, options []Option) (*Option, error) {
	for i := range options {
		if options[i].ID == optionID {
			return &options[i], nil
		}
	}
	return nil, ErrOptionNotFound
}
