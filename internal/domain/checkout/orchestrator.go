package checkout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/floracart/checkout-server/internal/domain/catalog"
	"github.com/floracart/checkout-server/internal/domain/fulfillment"
	"github.com/floracart/checkout-server/internal/domain/merchant"
	"github.com/floracart/checkout-server/internal/domain/order"
	"github.com/floracart/checkout-server/internal/domain/payment"
	"github.com/floracart/checkout-server/internal/domain/pricing"
	"github.com/floracart/checkout-server/internal/idempotency"
)

// LineItemRequest references a catalog item with a quantity. ID carries an
// existing line item id on update so the line keeps its identity.
type LineItemRequest struct {
	ID       string
	ItemID   string
	Quantity int
}

// PaymentRequest carries the client's payment negotiation input.
type PaymentRequest struct {
	Handlers             []payment.Handler
	Instruments          []payment.Instrument
	SelectedInstrumentID string
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	Currency           string
	LineItems          []LineItemRequest
	Buyer              *Buyer
	Payment            PaymentRequest
	DiscountCodes      []string
	FulfillmentAddress *fulfillment.Address
}

// UpdateRequest is the input to Update. Nil fields keep their prior values;
// non-nil fields replace them wholesale. Totals and status are always
// recomputed from the merged result, never trusted from the caller.
type UpdateRequest struct {
	Buyer               *Buyer
	LineItems           *[]LineItemRequest
	DiscountCodes       *[]string
	FulfillmentAddress  *fulfillment.Address
	FulfillmentOptionID *string
	Payment             *PaymentRequest
}

// Orchestrator executes the checkout state machine. Every mutating
// operation consults the idempotency ledger, serializes on the session's
// exclusive lock, recomputes totals through the pricing engine, and persists
// the new snapshot atomically — or leaves the session exactly as it was.
type Orchestrator struct {
	store      Store
	ledger     idempotency.Ledger
	engine     *pricing.Engine
	catalog    catalog.Source
	negotiator *payment.Negotiator
	resolver   *fulfillment.Resolver
	dispatcher *order.Dispatcher

	locks    *lockTable
	keyLocks *lockTable
	clock    func() time.Time
}

// NewOrchestrator wires an Orchestrator from its collaborators.
func NewOrchestrator(
	store Store,
	ledger idempotency.Ledger,
	engine *pricing.Engine,
	cat catalog.Source,
	negotiator *payment.Negotiator,
	resolver *fulfillment.Resolver,
	dispatcher *order.Dispatcher,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		ledger:     ledger,
		engine:     engine,
		catalog:    cat,
		negotiator: negotiator,
		resolver:   resolver,
		dispatcher: dispatcher,
		locks:      newLockTable(),
		keyLocks:   newLockTable(),
		clock:      time.Now,
	}
}

// Get returns the current snapshot without taking the session lock; reads
// may observe a slightly stale snapshot but never a partial mutation.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Session, error) {
	return o.store.Load(ctx, id)
}

// Create builds a new session from the request, prices it, and persists it
// with status incomplete or ready_for_complete depending on whether
// everything required for completion is already present.
func (o *Orchestrator) Create(ctx context.Context, cfg merchant.Config, idemKey string, req CreateRequest) (*Session, error) {
	fp := fingerprintOf("create", "", req)
	s, _, err := o.withIdempotency(ctx, idemKey, fp, func(_ func(*Session)) (*Session, error) {
		currency := req.Currency
		if currency == "" {
			currency = cfg.Currency
		}
		if len(currency) != 3 {
			return nil, &ValidationError{Field: "currency", Reason: "must be a three-letter ISO code"}
		}
		if cfg.Currency != "" && currency != cfg.Currency {
			return nil, &ValidationError{Field: "currency", Reason: "merchant only accepts " + cfg.Currency}
		}

		now := o.clock()
		s := &Session{
			ID:        uuid.New().String(),
			Status:    StatusIncomplete,
			Currency:  currency,
			Buyer:     req.Buyer,
			CreatedAt: now,
		}
		s.Discounts.Codes = req.DiscountCodes
		s.Payment.Handlers = payment.OfferHandlers(cfg.PaymentHandlers, req.Payment.Handlers)
		s.Payment.Instruments = req.Payment.Instruments
		s.Payment.SelectedInstrumentID = req.Payment.SelectedInstrumentID

		if err := o.setLineItems(ctx, s, req.LineItems); err != nil {
			return nil, err
		}
		if req.FulfillmentAddress != nil {
			if err := o.setFulfillmentAddress(ctx, s, *req.FulfillmentAddress); err != nil {
				return nil, err
			}
		}
		if err := o.reprice(ctx, cfg, s); err != nil {
			return nil, err
		}

		o.refresh(cfg, s, now)
		s.Version = 1
		if err := o.store.Save(ctx, s, 0); err != nil {
			return nil, errors.Wrap(err, "persist session")
		}
		return s, nil
	})
	return s, err
}

// Update merges the request into the session and recomputes everything
// downstream of the merged state.
func (o *Orchestrator) Update(ctx context.Context, cfg merchant.Config, idemKey, id string, versionHint int64, req UpdateRequest) (*Session, error) {
	fp := fingerprintOf("update", id, req)
	s, _, err := o.withIdempotency(ctx, idemKey, fp, func(_ func(*Session)) (*Session, error) {
		release := o.locks.acquire(id)
		defer release()

		s, err := o.loadForMutation(ctx, id, versionHint)
		if err != nil {
			return nil, err
		}

		if req.Buyer != nil {
			s.Buyer = req.Buyer
		}
		if req.LineItems != nil {
			if err := o.setLineItems(ctx, s, *req.LineItems); err != nil {
				return nil, err
			}
		}
		if req.DiscountCodes != nil {
			s.Discounts.Codes = *req.DiscountCodes
		}
		if req.Payment != nil {
			s.Payment.Handlers = payment.OfferHandlers(cfg.PaymentHandlers, req.Payment.Handlers)
			s.Payment.Instruments = req.Payment.Instruments
			s.Payment.SelectedInstrumentID = req.Payment.SelectedInstrumentID
		}
		if req.FulfillmentAddress != nil {
			if err := o.setFulfillmentAddress(ctx, s, *req.FulfillmentAddress); err != nil {
				return nil, err
			}
		}
		if req.FulfillmentOptionID != nil {
			if *req.FulfillmentOptionID == "" {
				s.FulfillmentOptionID = ""
			} else {
				opt, err := fulfillment.Select(*req.FulfillmentOptionID, s.FulfillmentOptions)
				if err != nil {
					return nil, err
				}
				s.FulfillmentOptionID = opt.ID
			}
		}

		if err := o.reprice(ctx, cfg, s); err != nil {
			return nil, err
		}
		return s, o.commit(ctx, cfg, s)
	})
	return s, err
}

// Complete finalizes a ready session: it validates the payment instrument
// and proof, creates the order, and transitions the session to completed.
// A rejected proof leaves the session untouched in ready_for_complete.
func (o *Orchestrator) Complete(ctx context.Context, cfg merchant.Config, idemKey, id string, versionHint int64, proof payment.Proof) (*Session, error) {
	fp := fingerprintOf("complete", id, proof)
	s, replayed, err := o.withIdempotency(ctx, idemKey, fp, func(record func(*Session)) (*Session, error) {
		release := o.locks.acquire(id)
		defer release()

		s, err := o.loadForMutation(ctx, id, versionHint)
		if err != nil {
			return nil, err
		}
		if s.Status != StatusReadyForComplete {
			return nil, errors.Wrapf(ErrInvalidState, "complete from %s", s.Status)
		}

		instrumentID := proof.InstrumentID
		if instrumentID == "" {
			instrumentID = s.Payment.SelectedInstrumentID
		}
		instrument, err := o.negotiator.SelectInstrument(s.Payment.Handlers, s.Payment.Instruments, instrumentID)
		if err != nil {
			return nil, err
		}

		exp := payment.Expectation{
			SessionID: s.ID,
			Currency:  s.Currency,
			Amount:    s.GrandTotal(),
		}
		if err := o.negotiator.VerifyProof(ctx, *instrument, proof, exp); err != nil {
			return nil, err
		}

		now := o.clock()
		ord := &order.Order{
			ID:                  uuid.New().String(),
			SessionID:           s.ID,
			Status:              order.StatusPlaced,
			Currency:            s.Currency,
			LineItems:           pricedLines(s.LineItems),
			Totals:              append([]pricing.Total(nil), s.Totals...),
			PaymentHandlerID:    instrument.HandlerID,
			PaymentInstrumentID: instrument.ID,
			CreatedAt:           now,
		}

		s.Payment.SelectedInstrumentID = instrument.ID
		s.OrderID = ord.ID
		s.Status = StatusCompleted
		if err := o.commit(ctx, cfg, s); err != nil {
			return nil, err
		}

		// The completion is durable from here on. Record it before the
		// dispatch below, so that if dispatch fails the client's retry
		// replays the committed outcome instead of hitting the completed
		// session with an invalid-state error.
		record(s)

		if err := o.dispatcher.Place(ctx, ord); err != nil {
			// The session is durably completed; the order record and
			// event must not be lost silently.
			zctx.From(ctx).Error("dispatch placed order",
				zap.String("session_id", s.ID),
				zap.String("order_id", ord.ID),
				zap.Error(err),
			)
			return nil, errors.Wrap(err, "dispatch order")
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		// The recorded response may predate a successful dispatch. Drive
		// the dispatch again from the committed snapshot; the dispatcher
		// dedups on the order id, so the common case is a no-op.
		if err := o.redispatch(ctx, s); err != nil {
			return nil, errors.Wrap(err, "dispatch order")
		}
	}
	return s, nil
}

// redispatch rebuilds the placed order from a completed session snapshot and
// hands it to the dispatcher again. This recovers completions whose earlier
// attempt committed the session but failed before the order was placed.
func (o *Orchestrator) redispatch(ctx context.Context, s *Session) error {
	if s.Status != StatusCompleted || s.OrderID == "" {
		return nil
	}
	handlerID := ""
	for _, in := range s.Payment.Instruments {
		if in.ID == s.Payment.SelectedInstrumentID {
			handlerID = in.HandlerID
			break
		}
	}
	return o.dispatcher.Place(ctx, &order.Order{
		ID:                  s.OrderID,
		SessionID:           s.ID,
		Status:              order.StatusPlaced,
		Currency:            s.Currency,
		LineItems:           pricedLines(s.LineItems),
		Totals:              append([]pricing.Total(nil), s.Totals...),
		PaymentHandlerID:    handlerID,
		PaymentInstrumentID: s.Payment.SelectedInstrumentID,
		CreatedAt:           s.UpdatedAt,
	})
}

// Cancel transitions an incomplete or ready session to canceled. Canceling
// an already-canceled session succeeds without side effects.
func (o *Orchestrator) Cancel(ctx context.Context, cfg merchant.Config, idemKey, id string) (*Session, error) {
	fp := fingerprintOf("cancel", id, nil)
	s, _, err := o.withIdempotency(ctx, idemKey, fp, func(_ func(*Session)) (*Session, error) {
		release := o.locks.acquire(id)
		defer release()

		s, err := o.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		switch s.Status {
		case StatusCanceled:
			return s, nil
		case StatusCompleted, StatusExpired:
			return nil, errors.Wrapf(ErrInvalidState, "cancel from %s", s.Status)
		}

		s.Status = StatusCanceled
		return s, o.commit(ctx, cfg, s)
	})
	return s, err
}

// withIdempotency replays a stored response for key, detects fingerprint
// conflicts, or runs the operation and records its result. Callers bearing
// the same key are serialized for the whole lookup-run-record span, so the
// ledger check and insert are atomic with respect to each other: of two
// concurrent identical retries exactly one executes, the other replays.
//
// run receives a record function it may call to persist the response as
// soon as the operation's outcome is durable; operations that never call it
// are recorded when they return. The bool result reports whether the
// response was replayed from the ledger rather than freshly computed.
func (o *Orchestrator) withIdempotency(ctx context.Context, key, fp string, run func(record func(*Session)) (*Session, error)) (*Session, bool, error) {
	if key == "" {
		s, err := run(func(*Session) {})
		return s, false, err
	}

	release := o.keyLocks.acquire(key)
	defer release()

	rec, err := o.ledger.Find(ctx, key)
	if err != nil {
		return nil, false, errors.Wrap(err, "idempotency lookup")
	}
	if rec != nil {
		if rec.Fingerprint != fp {
			return nil, false, idempotency.ErrConflict
		}
		var s Session
		if err := json.Unmarshal(rec.Response, &s); err != nil {
			return nil, false, errors.Wrap(err, "decode stored response")
		}
		return &s, true, nil
	}

	recorded := false
	record := func(s *Session) {
		if err := o.recordResponse(ctx, key, fp, s); err != nil {
			// The operation itself succeeded; failing the request here
			// would make the client re-execute it. Replay is unavailable
			// for this key until the ledger recovers.
			zctx.From(ctx).Error("record idempotency response",
				zap.String("idempotency_key", key),
				zap.Error(err),
			)
			return
		}
		recorded = true
	}

	s, err := run(record)
	if err != nil {
		return nil, false, err
	}
	if !recorded {
		record(s)
	}
	return s, false, nil
}

// recordResponse writes the response snapshot for key into the ledger.
func (o *Orchestrator) recordResponse(ctx context.Context, key, fp string, s *Session) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode response")
	}
	return o.ledger.Save(ctx, idempotency.Record{
		Key:         key,
		Fingerprint: fp,
		Response:    buf,
		CreatedAt:   o.clock(),
	})
}

// loadForMutation loads the snapshot, checks the version hint before any
// computation, and rejects terminal sessions.
func (o *Orchestrator) loadForMutation(ctx context.Context, id string, versionHint int64) (*Session, error) {
	s, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if versionHint > 0 && versionHint != s.Version {
		return nil, errors.Wrapf(ErrVersionConflict, "hint %d, current %d", versionHint, s.Version)
	}
	if !s.Status.mutable() {
		return nil, errors.Wrapf(ErrInvalidState, "session is %s", s.Status)
	}
	return s, nil
}

// commit refreshes derived state, bumps the version, and persists against
// the version the snapshot was loaded at.
func (o *Orchestrator) commit(ctx context.Context, cfg merchant.Config, s *Session) error {
	now := o.clock()
	o.refresh(cfg, s, now)
	prev := s.Version
	s.Version++
	if err := o.store.Save(ctx, s, prev); err != nil {
		return errors.Wrap(err, "persist session")
	}
	return nil
}

// refresh recomputes the derived status and sliding expiry deadline.
func (o *Orchestrator) refresh(cfg merchant.Config, s *Session, now time.Time) {
	s.UpdatedAt = now
	if cfg.SessionTTL > 0 {
		s.ExpiresAt = now.Add(cfg.SessionTTL)
	}
	if !s.Status.mutable() {
		return
	}

	ready := len(s.LineItems) > 0
	if cfg.RequireFulfillment {
		ready = ready && s.FulfillmentAddress != nil && s.FulfillmentOptionID != ""
	}
	if ready {
		s.Status = StatusReadyForComplete
	} else {
		s.Status = StatusIncomplete
	}
}

// setLineItems resolves the requested items against the catalog and
// replaces the session's line items, preserving ids the client echoes back.
func (o *Orchestrator) setLineItems(ctx context.Context, s *Session, reqs []LineItemRequest) error {
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		if r.Quantity < 1 {
			return &ValidationError{Field: "line_items", Reason: "quantity must be at least 1"}
		}
		if r.ItemID == "" {
			return &ValidationError{Field: "line_items", Reason: "item id is required"}
		}
		ids[i] = r.ItemID
	}

	items, err := o.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "catalog lookup")
	}
	byID := make(map[string]catalog.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	lines := make([]LineItem, len(reqs))
	for i, r := range reqs {
		it, ok := byID[r.ItemID]
		if !ok {
			return errors.Wrapf(catalog.ErrNotFound, "item %q", r.ItemID)
		}
		lineID := r.ID
		if lineID == "" {
			lineID = uuid.New().String()
		}
		lines[i] = LineItem{ID: lineID, Item: it, Quantity: r.Quantity}
	}
	s.LineItems = lines
	return nil
}

// setFulfillmentAddress stores the address and re-resolves the option list.
// A previously selected option survives only if it is still offered.
func (o *Orchestrator) setFulfillmentAddress(ctx context.Context, s *Session, addr fulfillment.Address) error {
	opts, err := o.resolver.Resolve(ctx, addr)
	if err != nil {
		if errors.Is(err, fulfillment.ErrIncompleteAddress) {
			return &ValidationError{Field: "fulfillment_address", Reason: err.Error()}
		}
		return err
	}
	s.FulfillmentAddress = &addr
	s.FulfillmentOptions = opts
	if s.FulfillmentOptionID != "" {
		if _, err := fulfillment.Select(s.FulfillmentOptionID, opts); err != nil {
			s.FulfillmentOptionID = ""
		}
	}
	return nil
}

// reprice runs the pricing engine over the session's current contents and
// installs the result: totals, applied discounts, per-line sub-lines, and
// messages for dropped discount codes.
func (o *Orchestrator) reprice(ctx context.Context, cfg merchant.Config, s *Session) error {
	in := pricing.Input{
		Currency:   s.Currency,
		Lines:      make([]pricing.Line, len(s.LineItems)),
		Codes:      s.Discounts.Codes,
		TaxRateBps: cfg.TaxRateBps,
	}
	for i, li := range s.LineItems {
		in.Lines[i] = pricing.Line{ID: li.ID, Item: li.Item, Quantity: li.Quantity}
	}
	if s.FulfillmentOptionID != "" {
		opt, err := fulfillment.Select(s.FulfillmentOptionID, s.FulfillmentOptions)
		if err != nil {
			return err
		}
		in.ShippingCost = opt.Cost
		in.ShippingSelected = true
	}

	q, err := o.engine.Price(ctx, in)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidTotals) {
			// Defect or rejected charge: log the detail, surface it opaquely.
			zctx.From(ctx).Error("pricing invariant violation",
				zap.String("session_id", s.ID),
				zap.Error(err),
			)
		}
		return err
	}

	for i := range s.LineItems {
		s.LineItems[i].Subtotal = q.Lines[i].Subtotal
		s.LineItems[i].Total = q.Lines[i].Total
	}
	s.Totals = q.Totals
	s.Discounts.Applied = q.Applied
	s.Messages = nil
	for _, code := range q.IgnoredCodes {
		s.Messages = append(s.Messages, Message{
			Type: "warning",
			Code: "discount_code_ignored",
			Text: "discount code " + code + " is not recognized and was ignored",
		})
	}
	return nil
}

// fingerprintOf hashes an operation's identity for the idempotency ledger.
func fingerprintOf(op, sessionID string, body any) string {
	buf, err := json.Marshal(body)
	if err != nil {
		// Requests are plain data; marshaling cannot fail in practice.
		buf = []byte(err.Error())
	}
	return idempotency.Fingerprint(op, sessionID, buf)
}

// pricedLines copies session line items into the pricing representation
// stored on orders.
func pricedLines(items []LineItem) []pricing.PricedLine {
	out := make([]pricing.PricedLine, len(items))
	for i, li := range items {
		out[i] = pricing.PricedLine{
			Line:     pricing.Line{ID: li.ID, Item: li.Item, Quantity: li.Quantity},
			Subtotal: li.Subtotal,
			Total:    li.Total,
		}
	}
	return out
}
