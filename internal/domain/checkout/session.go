// Package checkout owns the checkout-session aggregate and its orchestrator:
// the state machine that drives a session from creation through mutation to a
// completed order exactly once, despite client retries and concurrent
// requests.
package checkout

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/floracart/checkout-server/internal/domain/catalog"
	"github.com/floracart/checkout-server/internal/domain/fulfillment"
	"github.com/floracart/checkout-server/internal/domain/payment"
	"github.com/floracart/checkout-server/internal/domain/pricing"
)

// Status is the session lifecycle. Transitions are forward-only:
// incomplete → ready_for_complete → completed, with cancellation allowed
// from the first two and expiry from any non-terminal status. The
// incomplete/ready_for_complete pair is recomputed from session contents on
// every mutation and may move in either direction.
type Status string

const (
	StatusIncomplete       Status = "incomplete"
	StatusReadyForComplete Status = "ready_for_complete"
	StatusCompleted        Status = "completed"
	StatusCanceled         Status = "canceled"
	StatusExpired          Status = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusExpired
}

// mutable reports whether the session contents may still change.
func (s Status) mutable() bool {
	return s == StatusIncomplete || s == StatusReadyForComplete
}

// Sentinel errors for the session state machine.
var (
	ErrNotFound     = errors.New("checkout session not found")
	ErrInvalidState = errors.New("operation not allowed in the session's current status")
	// ErrVersionConflict is returned by stores when a write carries a stale
	// expected version, and by operations given a stale version hint.
	ErrVersionConflict = errors.New("checkout session version conflict")
)

// ValidationError indicates malformed input — the caller's fault, never
// retried by the core.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Buyer is the optional contact record on a session.
type Buyer struct {
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// LineItem is one ordered line of a session with its computed sub-lines.
type LineItem struct {
	ID       string       `json:"id"`
	Item     catalog.Item `json:"item"`
	Quantity int          `json:"quantity"`
	Subtotal int64        `json:"subtotal"`
	Total    int64        `json:"total"`
}

// Discounts groups the client-supplied codes with the discounts actually
// applied from them.
type Discounts struct {
	Codes   []string                  `json:"codes,omitempty"`
	Applied []pricing.AppliedDiscount `json:"applied,omitempty"`
}

// Payment is the session's negotiated payment state.
type Payment struct {
	Handlers             []payment.Handler    `json:"handlers,omitempty"`
	Instruments          []payment.Instrument `json:"instruments,omitempty"`
	SelectedInstrumentID string               `json:"selected_instrument_id,omitempty"`
}

// Message is a non-fatal notice attached to a session, e.g. a dropped
// unknown discount code.
type Message struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"`
	Text string `json:"text"`
}

// Session is the checkout aggregate root. All amounts are integer minor
// units of Currency. Version is the sole conflict-detection authority and
// increments on every successful mutation.
type Session struct {
	ID                  string               `json:"id"`
	Status              Status               `json:"status"`
	Currency            string               `json:"currency"`
	Buyer               *Buyer               `json:"buyer,omitempty"`
	LineItems           []LineItem           `json:"line_items"`
	Totals              []pricing.Total      `json:"totals"`
	Discounts           Discounts            `json:"discounts"`
	Payment             Payment              `json:"payment"`
	FulfillmentAddress  *fulfillment.Address `json:"fulfillment_address,omitempty"`
	FulfillmentOptions  []fulfillment.Option `json:"fulfillment_options,omitempty"`
	FulfillmentOptionID string               `json:"fulfillment_option_id,omitempty"`
	Messages            []Message            `json:"messages,omitempty"`
	OrderID             string               `json:"order_id,omitempty"`
	Version             int64                `json:"version"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
	ExpiresAt           time.Time            `json:"expires_at"`
}

// GrandTotal returns the amount of the session's total line.
func (s *Session) GrandTotal() int64 {
	for _, t := range s.Totals {
		if t.Type == pricing.TotalTotal {
			return t.Amount
		}
	}
	return 0
}

// Clone returns a deep copy of the session. Stores hand out clones so
// callers can never mutate persisted state in place.
func (s *Session) Clone() *Session {
	cp := *s
	if s.Buyer != nil {
		b := *s.Buyer
		cp.Buyer = &b
	}
	if s.FulfillmentAddress != nil {
		a := *s.FulfillmentAddress
		cp.FulfillmentAddress = &a
	}
	cp.LineItems = append([]LineItem(nil), s.LineItems...)
	cp.Totals = append([]pricing.Total(nil), s.Totals...)
	cp.Discounts.Codes = append([]string(nil), s.Discounts.Codes...)
	cp.Discounts.Applied = make([]pricing.AppliedDiscount, len(s.Discounts.Applied))
	for i, d := range s.Discounts.Applied {
		d.Allocations = append([]pricing.Allocation(nil), d.Allocations...)
		cp.Discounts.Applied[i] = d
	}
	cp.Payment.Handlers = append([]payment.Handler(nil), s.Payment.Handlers...)
	cp.Payment.Instruments = append([]payment.Instrument(nil), s.Payment.Instruments...)
	cp.FulfillmentOptions = append([]fulfillment.Option(nil), s.FulfillmentOptions...)
	cp.Messages = append([]Message(nil), s.Messages...)
	return &cp
}
