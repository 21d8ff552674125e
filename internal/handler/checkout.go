package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/floracart/checkout-server/internal/domain/checkout"
	"github.com/floracart/checkout-server/internal/domain/fulfillment"
	"github.com/floracart/checkout-server/internal/domain/payment"
)

const maxBodyBytes = 1 << 20

// Request documents use the same wire shape as session responses; only the
// fields a client may set are decoded.

type itemRefDTO struct {
	ID string `json:"id"`
}

type lineItemDTO struct {
	ID       string     `json:"id"`
	Item     itemRefDTO `json:"item"`
	Quantity int        `json:"quantity"`
}

type discountsDTO struct {
	Codes []string `json:"codes"`
}

type paymentDTO struct {
	Handlers             []payment.Handler    `json:"handlers"`
	Instruments          []payment.Instrument `json:"instruments"`
	SelectedInstrumentID string               `json:"selected_instrument_id"`
}

type createSessionDTO struct {
	Currency           string               `json:"currency"`
	Buyer              *checkout.Buyer      `json:"buyer"`
	LineItems          []lineItemDTO        `json:"line_items"`
	Discounts          *discountsDTO        `json:"discounts"`
	Payment            *paymentDTO          `json:"payment"`
	FulfillmentAddress *fulfillment.Address `json:"fulfillment_address"`
}

type updateSessionDTO struct {
	Buyer               *checkout.Buyer      `json:"buyer"`
	LineItems           *[]lineItemDTO       `json:"line_items"`
	Discounts           *discountsDTO        `json:"discounts"`
	Payment             *paymentDTO          `json:"payment"`
	FulfillmentAddress  *fulfillment.Address `json:"fulfillment_address"`
	FulfillmentOptionID *string              `json:"fulfillment_option_id"`
}

type completeSessionDTO struct {
	Payment payment.Proof `json:"payment"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var dto createSessionDTO
	if !decodeBody(w, r, &dto) {
		return
	}

	req := checkout.CreateRequest{
		Currency:           dto.Currency,
		LineItems:          lineItemRequests(dto.LineItems),
		Buyer:              dto.Buyer,
		FulfillmentAddress: dto.FulfillmentAddress,
	}
	if dto.Discounts != nil {
		req.DiscountCodes = dto.Discounts.Codes
	}
	if dto.Payment != nil {
		req.Payment = checkout.PaymentRequest{
			Handlers:             dto.Payment.Handlers,
			Instruments:          dto.Payment.Instruments,
			SelectedInstrumentID: dto.Payment.SelectedInstrumentID,
		}
	}

	s, err := h.sessions.Create(r.Context(), h.merchant, idempotencyKey(r), req)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeSession(r.Context(), w, http.StatusCreated, s)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeSession(r.Context(), w, http.StatusOK, s)
}

func (h *Handler) updateSession(w http.ResponseWriter, r *http.Request) {
	var dto updateSessionDTO
	if !decodeBody(w, r, &dto) {
		return
	}

	req := checkout.UpdateRequest{
		Buyer:               dto.Buyer,
		FulfillmentAddress:  dto.FulfillmentAddress,
		FulfillmentOptionID: dto.FulfillmentOptionID,
	}
	if dto.LineItems != nil {
		items := lineItemRequests(*dto.LineItems)
		req.LineItems = &items
	}
	if dto.Discounts != nil {
		req.DiscountCodes = &dto.Discounts.Codes
	}
	if dto.Payment != nil {
		req.Payment = &checkout.PaymentRequest{
			Handlers:             dto.Payment.Handlers,
			Instruments:          dto.Payment.Instruments,
			SelectedInstrumentID: dto.Payment.SelectedInstrumentID,
		}
	}

	s, err := h.sessions.Update(r.Context(), h.merchant, idempotencyKey(r), r.PathValue("id"), versionHint(r), req)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeSession(r.Context(), w, http.StatusOK, s)
}

func (h *Handler) completeSession(w http.ResponseWriter, r *http.Request) {
	var dto completeSessionDTO
	if !decodeBody(w, r, &dto) {
		return
	}

	s, err := h.sessions.Complete(r.Context(), h.merchant, idempotencyKey(r), r.PathValue("id"), versionHint(r), dto.Payment)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeSession(r.Context(), w, http.StatusOK, s)
}

func (h *Handler) cancelSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Cancel(r.Context(), h.merchant, idempotencyKey(r), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeSession(r.Context(), w, http.StatusOK, s)
}

func lineItemRequests(dtos []lineItemDTO) []checkout.LineItemRequest {
	reqs := make([]checkout.LineItemRequest, len(dtos))
	for i, d := range dtos {
		reqs[i] = checkout.LineItemRequest{
			ID:       d.ID,
			ItemID:   d.Item.ID,
			Quantity: d.Quantity,
		}
	}
	return reqs
}

// decodeBody reads and decodes the request body. It writes the error
// response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

// versionHint parses the If-Match header as a session version. Absent or
// malformed values mean no hint.
func versionHint(r *http.Request) int64 {
	raw := strings.Trim(r.Header.Get("If-Match"), `"`)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
