package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/gorilla/mux"

	"github.com/xenking/storefront/internal/domain/cart"
)

func (h *Handler) writeCart(w http.ResponseWriter, s cart.Snapshot) {
	writeJSON(w, http.StatusOK, cart.EncodeSnapshot(s))
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCart(w, s.Cart.Snapshot())
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data, err := readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := cart.DecodeItem(jx.DecodeBytes(data))
	if err != nil {
		h.writeError(w, r, &badRequestError{err: err})
		return
	}
	if err := s.Cart.Add(r.Context(), item); err != nil {
		h.writeError(w, r, errors.Wrap(err, "add item"))
		return
	}
	h.writeCart(w, s.Cart.Snapshot())
}

func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q, err := decodeQuantity(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := s.Cart.SetQuantity(r.Context(), mux.Vars(r)["id"], q); err != nil {
		h.writeError(w, r, errors.Wrap(err, "set quantity"))
		return
	}
	h.writeCart(w, s.Cart.Snapshot())
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := s.Cart.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, errors.Wrap(err, "remove item"))
		return
	}
	h.writeCart(w, s.Cart.Snapshot())
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := s.Cart.Clear(r.Context()); err != nil {
		h.writeError(w, r, errors.Wrap(err, "clear cart"))
		return
	}
	h.writeCart(w, s.Cart.Snapshot())
}
