// Package handler exposes the checkout REST surface over net/http.
package handler

import (
	"context"
	"net/http"

	"github.com/floracart/checkout-server/internal/domain/catalog"
	"github.com/floracart/checkout-server/internal/domain/checkout"
	"github.com/floracart/checkout-server/internal/domain/merchant"
	"github.com/floracart/checkout-server/internal/domain/order"
)

// CatalogLister lists the full product catalog.
type CatalogLister interface {
	List(ctx context.Context) ([]catalog.Item, error)
}

// Handler serves the checkout session and order endpoints, delegating all
// business logic to the orchestrator and order dispatcher.
type Handler struct {
	merchant    merchant.Config
	sessions    *checkout.Orchestrator
	orders      *order.Dispatcher
	catalog     CatalogLister
	adminSecret string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg merchant.Config,
	sessions *checkout.Orchestrator,
	orders *order.Dispatcher,
	cat CatalogLister,
	adminSecret string,
) *Handler {
	return &Handler{
		merchant:    cfg,
		sessions:    sessions,
		orders:      orders,
		catalog:     cat,
		adminSecret: adminSecret,
	}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /products", h.listProducts)
	mux.HandleFunc("POST /checkout-sessions", h.createSession)
	mux.HandleFunc("GET /checkout-sessions/{id}", h.getSession)
	mux.HandleFunc("PUT /checkout-sessions/{id}", h.updateSession)
	mux.HandleFunc("POST /checkout-sessions/{id}/complete", h.completeSession)
	mux.HandleFunc("POST /checkout-sessions/{id}/cancel", h.cancelSession)
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
	mux.HandleFunc("POST /orders/{id}/ship", h.requireAdmin(h.shipOrder))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.List(r.Context())
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, items)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, o)
}

func (h *Handler) shipOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.MarkShipped(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, o)
}
