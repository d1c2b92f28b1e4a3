package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/validation"
)

// writeError maps a domain error onto a status code and error body.
// Unrecognized errors are logged and reported as 500 without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		badReq    *badRequestError
		invalid   *checkout.ValidationError
		limited   *checkout.RateLimitedError
		rejected  *order.RejectedError
		transport *order.TransportError
	)
	switch {
	case errors.As(err, &badReq):
		writeErrorBody(w, http.StatusBadRequest, badReq.Error(), nil)
	case errors.Is(err, cart.ErrUnauthenticated):
		writeErrorBody(w, http.StatusUnauthorized, "sign in to continue", nil)
	case errors.Is(err, cart.ErrInvalidItem):
		writeErrorBody(w, http.StatusBadRequest, cart.ErrInvalidItem.Error(), nil)
	case errors.Is(err, cart.ErrFrozen):
		writeErrorBody(w, http.StatusConflict, cart.ErrFrozen.Error(), nil)
	case errors.As(err, &invalid):
		writeErrorBody(w, http.StatusUnprocessableEntity, "validation failed", invalid.Fields)
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.Seconds()))
		writeErrorBody(w, http.StatusTooManyRequests, limited.Error(), nil)
	case errors.Is(err, checkout.ErrSubmissionInFlight):
		writeErrorBody(w, http.StatusAccepted, err.Error(), nil)
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrMissingShipping),
		errors.Is(err, checkout.ErrMissingPayment),
		errors.Is(err, checkout.ErrNotReviewed),
		errors.Is(err, checkout.ErrCheckoutComplete):
		writeErrorBody(w, http.StatusConflict, err.Error(), nil)
	case errors.As(err, &rejected):
		writeErrorBody(w, http.StatusUnprocessableEntity, rejected.Error(), nil)
	case errors.As(err, &transport):
		status := http.StatusBadGateway
		if transport.Timeout() {
			status = http.StatusGatewayTimeout
		}
		zctx.From(r.Context()).Warn("Order API unavailable", zap.Error(err))
		writeErrorBody(w, status, transport.Error(), nil)
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErrorBody(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func writeErrorBody(w http.ResponseWriter, status int, msg string, fields []validation.FieldError) {
	writeJSON(w, status, encode(func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			if len(fields) == 0 {
				return
			}
			e.Field("fields", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, f := range fields {
						e.Obj(func(e *jx.Encoder) {
							e.Field("field", func(e *jx.Encoder) { e.Str(f.Field) })
							e.Field("message", func(e *jx.Encoder) { e.Str(f.Message) })
						})
					}
				})
			})
		})
	}))
}
