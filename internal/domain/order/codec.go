package order

import (
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

// EncodePayload serializes p to JSON as stored with the order.
func EncodePayload(p Payload) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("idempotency_key", func(e *jx.Encoder) { e.Str(p.IdempotencyKey) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(p.CustomerID) })
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range p.Items {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
					e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
					e.Field("unit_price", func(e *jx.Encoder) { money(e, it.UnitPrice) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					if it.Size != "" {
						e.Field("size", func(e *jx.Encoder) { e.Str(it.Size) })
					}
					if it.Color != "" {
						e.Field("color", func(e *jx.Encoder) { e.Str(it.Color) })
					}
				})
			}
			e.ArrEnd()
		})
		e.Field("shipping", func(e *jx.Encoder) {
			s := p.Shipping
			e.Obj(func(e *jx.Encoder) {
				e.Field("first_name", func(e *jx.Encoder) { e.Str(s.FirstName) })
				e.Field("last_name", func(e *jx.Encoder) { e.Str(s.LastName) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(s.Phone) })
				e.Field("region", func(e *jx.Encoder) { e.Str(s.Region) })
				e.Field("city", func(e *jx.Encoder) { e.Str(s.City) })
				e.Field("address", func(e *jx.Encoder) { e.Str(s.Address) })
				if s.Notes != "" {
					e.Field("notes", func(e *jx.Encoder) { e.Str(s.Notes) })
				}
				e.Field("tier", func(e *jx.Encoder) { e.Str(s.Tier) })
				e.Field("cost", func(e *jx.Encoder) { money(e, s.Cost) })
			})
		})
		e.Field("payment", func(e *jx.Encoder) {
			pm := p.Payment
			e.Obj(func(e *jx.Encoder) {
				e.Field("kind", func(e *jx.Encoder) { e.Str(pm.Kind) })
				if pm.InstrumentRef != "" {
					e.Field("instrument_ref", func(e *jx.Encoder) { e.Str(pm.InstrumentRef) })
				}
				if pm.Last4 != "" {
					e.Field("brand", func(e *jx.Encoder) { e.Str(pm.Brand) })
					e.Field("last4", func(e *jx.Encoder) { e.Str(pm.Last4) })
					e.Field("holder", func(e *jx.Encoder) { e.Str(pm.Holder) })
				}
				if pm.Fingerprint != "" {
					e.Field("fingerprint", func(e *jx.Encoder) { e.Str(pm.Fingerprint) })
				}
				e.Field("save_for_later", func(e *jx.Encoder) { e.Bool(pm.SaveForLater) })
			})
		})
		e.Field("pricing", func(e *jx.Encoder) {
			pr := p.Pricing
			e.Obj(func(e *jx.Encoder) {
				e.Field("subtotal", func(e *jx.Encoder) { money(e, pr.Subtotal) })
				e.Field("tax", func(e *jx.Encoder) { money(e, pr.Tax) })
				e.Field("shipping", func(e *jx.Encoder) { money(e, pr.Shipping) })
				e.Field("discount_percent", func(e *jx.Encoder) { e.Str(pr.DiscountPercent.String()) })
				e.Field("discount", func(e *jx.Encoder) { money(e, pr.Discount) })
				e.Field("total", func(e *jx.Encoder) { money(e, pr.Total) })
			})
		})
		if p.PromoCode != "" {
			e.Field("promo_code", func(e *jx.Encoder) { e.Str(p.PromoCode) })
		}
	})
	return e.Bytes()
}
