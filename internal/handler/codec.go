package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
)

const maxBodyBytes = 64 << 10

// badRequestError reports a request body that could not be decoded.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return "invalid request body: " + e.err.Error() }

func (e *badRequestError) Unwrap() error { return e.err }

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &badRequestError{err: err}
	}
	return data, nil
}

// decodeObject reads a JSON object body, calling fn for every field.
func decodeObject(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := jx.DecodeBytes(data).Obj(fn); err != nil {
		return &badRequestError{err: err}
	}
	return nil
}

func decodeQuantity(w http.ResponseWriter, r *http.Request) (int, error) {
	q, seen := 0, false
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		v, err := d.Int()
		q, seen = v, true
		return err
	})
	if err != nil {
		return 0, err
	}
	if !seen {
		return 0, &badRequestError{err: errors.New("quantity is required")}
	}
	return q, nil
}

func decodeShipping(w http.ResponseWriter, r *http.Request) (checkout.ShippingForm, error) {
	var f checkout.ShippingForm
	fields := map[string]*string{
		"first_name": &f.FirstName,
		"last_name":  &f.LastName,
		"phone":      &f.Phone,
		"region":     &f.Region,
		"city":       &f.City,
		"address":    &f.Address,
		"notes":      &f.Notes,
	}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		dst, ok := fields[key]
		if !ok {
			return d.Skip()
		}
		v, err := d.Str()
		*dst = v
		return err
	})
	return f, err
}

func decodePayment(w http.ResponseWriter, r *http.Request) (checkout.PaymentForm, error) {
	var f checkout.PaymentForm
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "kind":
			v, err := d.Str()
			f.Kind = payment.Kind(v)
			return err
		case "instrument_ref":
			v, err := d.Str()
			f.InstrumentRef = v
			return err
		case "save_for_later":
			v, err := d.Bool()
			f.SaveForLater = v
			return err
		case "card":
			c, err := decodeCard(d)
			f.Card = c
			return err
		default:
			return d.Skip()
		}
	})
	return f, err
}

func decodeCard(d *jx.Decoder) (*payment.CardInput, error) {
	var c payment.CardInput
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "number":
			c.Number, err = d.Str()
		case "exp_month":
			c.ExpMonth, err = d.Int()
		case "exp_year":
			c.ExpYear, err = d.Int()
		case "cvv":
			c.CVV, err = d.Str()
		case "holder":
			c.Holder, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func decodePromoCode(w http.ResponseWriter, r *http.Request) (string, error) {
	var code string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		v, err := d.Str()
		code = v
		return err
	})
	return code, err
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func encode(fn func(e *jx.Encoder)) []byte {
	var e jx.Encoder
	fn(&e)
	return e.Bytes()
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func optStr(e *jx.Encoder, name, v string) {
	if v != "" {
		e.Field(name, func(e *jx.Encoder) { e.Str(v) })
	}
}

func encodeBreakdown(e *jx.Encoder, b pricing.Breakdown) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { money(e, b.Subtotal) })
		e.Field("tax", func(e *jx.Encoder) { money(e, b.Tax) })
		e.Field("shipping", func(e *jx.Encoder) { money(e, b.Shipping) })
		optStr(e, "shipping_tier", string(b.ShippingTier))
		e.Field("discount_percent", func(e *jx.Encoder) { e.Str(b.DiscountPercent.String()) })
		e.Field("discount", func(e *jx.Encoder) { money(e, b.Discount) })
		e.Field("total", func(e *jx.Encoder) { money(e, b.Total) })
	})
}

func encodeCart(e *jx.Encoder, s cart.Snapshot) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range s.Items {
					cart.EncodeItem(e, it)
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { money(e, s.Total) })
	})
}

func encodeState(s checkout.State) []byte {
	return encode(func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("step", func(e *jx.Encoder) { e.Str(string(s.Step)) })
			e.Field("cart", func(e *jx.Encoder) { encodeCart(e, s.Cart) })
			if sh := s.Shipping; sh != nil {
				e.Field("shipping", func(e *jx.Encoder) { encodeShipping(e, sh) })
			}
			if p := s.Payment; p != nil {
				e.Field("payment", func(e *jx.Encoder) { encodePayment(e, p) })
			}
			if s.Promotion.Active() {
				e.Field("promotion", func(e *jx.Encoder) { encodePromotion(e, s.Promotion) })
			}
			e.Field("quote", func(e *jx.Encoder) { encodeBreakdown(e, s.Quote) })
			e.Field("idempotency_key", func(e *jx.Encoder) { e.Str(s.IdempotencyKey) })
			optStr(e, "order_id", s.OrderID)
			e.Field("submitting", func(e *jx.Encoder) { e.Bool(s.Submitting) })
		})
	})
}

func encodeShipping(e *jx.Encoder, sh *checkout.ShippingSelection) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("first_name", func(e *jx.Encoder) { e.Str(sh.FirstName) })
		e.Field("last_name", func(e *jx.Encoder) { e.Str(sh.LastName) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(sh.Phone) })
		e.Field("region", func(e *jx.Encoder) { e.Str(sh.Region) })
		e.Field("city", func(e *jx.Encoder) { e.Str(sh.City) })
		e.Field("address", func(e *jx.Encoder) { e.Str(sh.Address) })
		optStr(e, "notes", sh.Notes)
		e.Field("tier", func(e *jx.Encoder) { e.Str(string(sh.Tier)) })
		e.Field("cost", func(e *jx.Encoder) { money(e, sh.Cost) })
	})
}

// encodePayment never writes the fingerprint; it is for the order backend
// only.
func encodePayment(e *jx.Encoder, p *payment.Selection) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("kind", func(e *jx.Encoder) { e.Str(string(p.Kind)) })
		e.Field("summary", func(e *jx.Encoder) { e.Str(p.Summary()) })
		optStr(e, "brand", string(p.Brand))
		optStr(e, "last4", p.Last4)
		optStr(e, "holder", p.Holder)
		e.Field("save_for_later", func(e *jx.Encoder) { e.Bool(p.SaveForLater) })
	})
}

func encodePromotion(e *jx.Encoder, p checkout.PromotionState) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(p.Code) })
		e.Field("percent", func(e *jx.Encoder) { e.Str(p.Percent.String()) })
		optStr(e, "description", p.Description)
	})
}

func encodeReceipt(r *checkout.Receipt) []byte {
	return encode(func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order_id", func(e *jx.Encoder) { e.Str(r.OrderID) })
			e.Field("idempotency_key", func(e *jx.Encoder) { e.Str(r.IdempotencyKey) })
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, it := range r.Items {
						e.Obj(func(e *jx.Encoder) {
							e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
							e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
							e.Field("unit_price", func(e *jx.Encoder) { money(e, it.UnitPrice) })
							e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
							optStr(e, "size", it.Size)
							optStr(e, "color", it.Color)
						})
					}
				})
			})
			e.Field("pricing", func(e *jx.Encoder) { encodeBreakdown(e, r.Pricing) })
			e.Field("payment", func(e *jx.Encoder) { e.Str(r.Payment) })
			optStr(e, "promo_code", r.PromoCode)
			e.Field("placed_at", func(e *jx.Encoder) { e.Str(r.PlacedAt.UTC().Format(time.RFC3339)) })
		})
	})
}

func encodeRegions(regions []pricing.Region) []byte {
	return encode(func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("regions", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, reg := range regions {
						e.Obj(func(e *jx.Encoder) {
							e.Field("name", func(e *jx.Encoder) { e.Str(reg.Name) })
							e.Field("cities", func(e *jx.Encoder) {
								e.Arr(func(e *jx.Encoder) {
									for _, c := range reg.Cities {
										e.Obj(func(e *jx.Encoder) {
											e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
											e.Field("remote", func(e *jx.Encoder) { e.Bool(c.Remote) })
										})
									}
								})
							})
						})
					}
				})
			})
		})
	})
}
