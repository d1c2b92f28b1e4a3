package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/checkout"
)

// withCheckout resolves the caller's checkout attempt and, on success of fn,
// responds with the resulting checkout state.
func (h *Handler) withCheckout(w http.ResponseWriter, r *http.Request, fn func(o *checkout.Orchestrator) error) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	o := s.Checkout()
	if err := fn(o); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeState(o.State()))
}

func (h *Handler) getCheckout(w http.ResponseWriter, r *http.Request) {
	h.withCheckout(w, r, func(*checkout.Orchestrator) error { return nil })
}

func (h *Handler) putShipping(w http.ResponseWriter, r *http.Request) {
	h.withCheckout(w, r, func(o *checkout.Orchestrator) error {
		f, err := decodeShipping(w, r)
		if err != nil {
			return err
		}
		return o.SubmitShipping(r.Context(), f)
	})
}

func (h *Handler) putPayment(w http.ResponseWriter, r *http.Request) {
	h.withCheckout(w, r, func(o *checkout.Orchestrator) error {
		f, err := decodePayment(w, r)
		if err != nil {
			return err
		}
		return o.SubmitPayment(r.Context(), f)
	})
}

func (h *Handler) applyPromotion(w http.ResponseWriter, r *http.Request) {
	h.withCheckout(w, r, func(o *checkout.Orchestrator) error {
		code, err := decodePromoCode(w, r)
		if err != nil {
			return err
		}
		_, err = o.ApplyPromotion(r.Context(), code)
		return err
	})
}

func (h *Handler) removePromotion(w http.ResponseWriter, r *http.Request) {
	h.withCheckout(w, r, func(o *checkout.Orchestrator) error {
		return o.RemovePromotion()
	})
}

func (h *Handler) back(w http.ResponseWriter, r *http.Request) {
	h.withCheckout(w, r, func(o *checkout.Orchestrator) error {
		o.Back()
		return nil
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	receipt, err := s.Checkout().PlaceOrder(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Order placed",
		zap.String("order_id", receipt.OrderID),
		zap.String("customer_id", s.Identity.ID),
		zap.String("total", receipt.Pricing.Total.StringFixed(2)),
	)
	writeJSON(w, http.StatusCreated, encodeReceipt(receipt))
}

func (h *Handler) receipt(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	receipt := s.Checkout().Receipt()
	if receipt == nil {
		writeErrorBody(w, http.StatusNotFound, "no order has been placed", nil)
		return
	}
	writeJSON(w, http.StatusOK, encodeReceipt(receipt))
}

func (h *Handler) cancelCheckout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Cancel(r.Context(), identity(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
