package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/floracart/checkout-server/internal/domain/catalog"
	"github.com/floracart/checkout-server/internal/domain/checkout"
	"github.com/floracart/checkout-server/internal/domain/fulfillment"
	"github.com/floracart/checkout-server/internal/domain/order"
	"github.com/floracart/checkout-server/internal/domain/payment"
	"github.com/floracart/checkout-server/internal/domain/pricing"
	"github.com/floracart/checkout-server/internal/idempotency"
)

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		zctx.From(ctx).Error("encode response", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// writeSession writes a session response with its version exposed as the
// ETag, so clients can send it back via If-Match.
func writeSession(ctx context.Context, w http.ResponseWriter, status int, s *checkout.Session) {
	w.Header().Set("ETag", `"`+strconv.FormatInt(s.Version, 10)+`"`)
	writeJSON(ctx, w, status, s)
}

func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeDomainError maps domain errors onto HTTP statuses. Anything
// unrecognized is logged in full and surfaced as an opaque 500.
func (h *Handler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var vErr *checkout.ValidationError
	if errors.As(err, &vErr) {
		writeError(w, http.StatusBadRequest, vErr.Error())
		return
	}
	var cErr *pricing.CurrencyMismatchError
	if errors.As(err, &cErr) {
		writeError(w, http.StatusUnprocessableEntity, cErr.Error())
		return
	}

	switch {
	case errors.Is(err, checkout.ErrNotFound), errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, idempotency.ErrConflict):
		writeError(w, http.StatusConflict, "idempotency key reused with a different request")
	case errors.Is(err, checkout.ErrVersionConflict):
		writeError(w, http.StatusConflict, "session was modified concurrently")
	case errors.Is(err, checkout.ErrInvalidState), errors.Is(err, order.ErrInvalidOrderState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrPaymentRejected):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, payment.ErrUnsupportedInstrument), errors.Is(err, payment.ErrNoVerifier):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, fulfillment.ErrOptionNotFound):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		zctx.From(ctx).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
