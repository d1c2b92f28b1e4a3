// Package handler exposes the cart and checkout over JSON HTTP.
//
// Every route except the shipping table requires the X-User-ID header; the
// edge proxy is trusted to have authenticated the customer before setting
// it. Each identity is served by its own session.
package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/session"
)

const (
	// IdentityHeader carries the authenticated customer ID.
	IdentityHeader = "X-User-ID"
	// EmailHeader optionally carries the customer's email.
	EmailHeader = "X-User-Email"
)

// Handler serves the storefront API.
type Handler struct {
	sessions *session.Manager
	table    *pricing.ShippingTable
}

// New creates a Handler.
func New(sessions *session.Manager, table *pricing.ShippingTable) *Handler {
	return &Handler{sessions: sessions, table: table}
}

// Register mounts the API routes on r under /api.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/cart", h.getCart).Methods(http.MethodGet)
	api.HandleFunc("/cart", h.clearCart).Methods(http.MethodDelete)
	api.HandleFunc("/cart/items", h.addItem).Methods(http.MethodPost)
	api.HandleFunc("/cart/items/{id}", h.setQuantity).Methods(http.MethodPatch)
	api.HandleFunc("/cart/items/{id}", h.removeItem).Methods(http.MethodDelete)

	api.HandleFunc("/checkout", h.getCheckout).Methods(http.MethodGet)
	api.HandleFunc("/checkout", h.cancelCheckout).Methods(http.MethodDelete)
	api.HandleFunc("/checkout/shipping", h.putShipping).Methods(http.MethodPut)
	api.HandleFunc("/checkout/payment", h.putPayment).Methods(http.MethodPut)
	api.HandleFunc("/checkout/promotion", h.applyPromotion).Methods(http.MethodPost)
	api.HandleFunc("/checkout/promotion", h.removePromotion).Methods(http.MethodDelete)
	api.HandleFunc("/checkout/back", h.back).Methods(http.MethodPost)
	api.HandleFunc("/checkout/submit", h.submit).Methods(http.MethodPost)
	api.HandleFunc("/checkout/receipt", h.receipt).Methods(http.MethodGet)

	api.HandleFunc("/shipping/regions", h.regions).Methods(http.MethodGet)
}

func identity(r *http.Request) cart.Identity {
	return cart.Identity{
		ID:    strings.TrimSpace(r.Header.Get(IdentityHeader)),
		Email: strings.TrimSpace(r.Header.Get(EmailHeader)),
	}
}

func (h *Handler) session(r *http.Request) (*session.Session, error) {
	return h.sessions.Get(r.Context(), identity(r))
}

func (h *Handler) regions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, encodeRegions(h.table.Regions()))
}
