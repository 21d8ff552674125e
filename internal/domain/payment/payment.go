// Package payment negotiates payment handlers and instruments against the
// merchant's advertised capabilities and owns the decision of whether a
// completion attempt may proceed. Actual settlement (moving or verifying
// funds on a ledger) is delegated to per-handler Verifier implementations.
package payment

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrUnsupportedInstrument is returned when an instrument's handler is
	// not among the handlers the merchant advertises on the session.
	ErrUnsupportedInstrument = errors.New("payment instrument not supported")
	// ErrPaymentRejected is returned when a proof of payment fails
	// verification. The session is left intact.
	ErrPaymentRejected = errors.New("payment rejected")
	// ErrNoVerifier indicates a handler was advertised without a matching
	// verifier registration. This is a wiring defect.
	ErrNoVerifier = errors.New("no verifier registered for payment handler")
)

// Handler is a named, versioned payment integration point the merchant
// advertises as acceptable.
type Handler struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Version string            `json:"version,omitempty"`
	Config  map[string]string `json:"config,omitempty"`
}

// Instrument is a concrete payment means attached to a session, bound to a
// handler by id.
type Instrument struct {
	ID        string `json:"id"`
	HandlerID string `json:"handler_id"`
	Name      string `json:"name,omitempty"`
}

// Proof is the evidence that a selected instrument was used to pay the
// session total, e.g. a base64-encoded signed ledger transfer.
type Proof struct {
	InstrumentID string `json:"instrument_id"`
	Data         string `json:"data"`
}

// Expectation is what a verifier must check the proof against.
type Expectation struct {
	SessionID string
	Currency  string
	Amount    int64
}

// Verifier checks a proof of payment for one handler. Implementations
// delegate the settlement check to the handler's external collaborator and
// must respect the context deadline.
type Verifier interface {
	Verify(ctx context.Context, instrument Instrument, proof Proof, exp Expectation) error
}

// Negotiator dispatches handler negotiation and proof verification across a
// closed registry of verifiers keyed by handler id.
type Negotiator struct {
	verifiers map[string]Verifier
}

// NewNegotiator creates an empty Negotiator. Handlers are registered at
// wiring time; the set never changes afterwards.
func NewNegotiator() *Negotiator {
	return &Negotiator{verifiers: make(map[string]Verifier)}
}

// Register binds a verifier to a handler id.
func (n *Negotiator) Register(handlerID string, v Verifier) {
	n.verifiers[handlerID] = v
}

// OfferHandlers filters the requested handlers down to those the merchant
// has enabled, preserving the enabled order. An empty request offers the
// full enabled set.
func OfferHandlers(enabled []Handler, requested []Handler) []Handler {
	if len(requested) == 0 {
		out := make([]Handler, len(enabled))
		copy(out, enabled)
		return out
	}
	wanted := make(map[string]struct{}, len(requested))
	for _, h := range requested {
		wanted[h.ID] = struct{}{}
	}
	var out []Handler
	for _, h := range enabled {
		if _, ok := wanted[h.ID]; ok {
			out = append(out, h)
		}
	}
	return out
}

// SelectInstrument validates that the instrument exists on the session and
// that its handler is among the advertised handlers.
func (n *Negotiator) SelectInstrument(handlers []Handler, instruments []Instrument, instrumentID string) (*Instrument, error) {
	var found *Instrument
	for i := range instruments {
		if instruments[i].ID == instrumentID {
			found = &instruments[i]
			break
		}
	}
	if found == nil {
		return nil, errors.Wrapf(ErrUnsupportedInstrument, "instrument %q not attached", instrumentID)
	}
	for _, h := range handlers {
		if h.ID == found.HandlerID {
			return found, nil
		}
	}
	return nil, errors.Wrapf(ErrUnsupportedInstrument, "handler %q not advertised", found.HandlerID)
}

// VerifyProof runs the registered verifier for the instrument's handler.
// Verification failures surface as ErrPaymentRejected; the caller must leave
// the session unchanged.
func (n *Negotiator) VerifyProof(ctx context.Context, instrument Instrument, proof Proof, exp Expectation) error {
	v, ok := n.verifiers[instrument.HandlerID]
	if !ok {
		return errors.Wrapf(ErrNoVerifier, "handler %q", instrument.HandlerID)
	}
	if err := v.Verify(ctx, instrument, proof, exp); err != nil {
		return errors.Wrapf(ErrPaymentRejected, "handler %s: %s", instrument.HandlerID, err)
	}
	return nil
}
