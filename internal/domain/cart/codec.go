package cart

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// EncodeSnapshot serializes s to JSON. Money is written as fixed two
// decimal strings.
func EncodeSnapshot(s Snapshot) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range s.Items {
				EncodeItem(e, it)
			}
			e.ArrEnd()
		})
		e.Field("total", func(e *jx.Encoder) {
			e.Str(s.Total.StringFixed(2))
		})
	})
	return e.Bytes()
}

// EncodeItem writes one line item as a JSON object.
func EncodeItem(e *jx.Encoder, it LineItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
		e.Field("unit_price", func(e *jx.Encoder) { e.Str(it.UnitPrice.StringFixed(2)) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		if it.Stock != nil {
			e.Field("stock", func(e *jx.Encoder) { e.Int(*it.Stock) })
		}
		if !it.Variant.IsZero() {
			e.Field("variant", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					if it.Variant.Size != "" {
						e.Field("size", func(e *jx.Encoder) { e.Str(it.Variant.Size) })
					}
					if it.Variant.Color != "" {
						e.Field("color", func(e *jx.Encoder) { e.Str(it.Variant.Color) })
					}
				})
			})
		}
		if it.ImageURL != "" {
			e.Field("image_url", func(e *jx.Encoder) { e.Str(it.ImageURL) })
		}
	})
}

// DecodeSnapshot parses a serialized snapshot. The stored total is read but
// callers must not rely on it; Store recomputes totals from the items.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				it, err := DecodeItem(d)
				if err != nil {
					return err
				}
				s.Items = append(s.Items, it)
				return nil
			})
		case "total":
			v, err := decodeMoney(d)
			if err != nil {
				return errors.Wrap(err, "total")
			}
			s.Total = v
			return nil
		default:
			return d.Skip()
		}
	}); err != nil {
		return Snapshot{}, errors.Wrap(err, "decode cart snapshot")
	}
	return s, nil
}

// DecodeItem reads one line item object. Unknown keys are skipped.
func DecodeItem(d *jx.Decoder) (LineItem, error) {
	var it LineItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			it.ID, err = d.Str()
		case "name":
			it.Name, err = d.Str()
		case "unit_price":
			it.UnitPrice, err = decodeMoney(d)
		case "quantity":
			it.Quantity, err = d.Int()
		case "stock":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var n int
			n, err = d.Int()
			it.Stock = &n
		case "variant":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "size":
					it.Variant.Size, err = d.Str()
				case "color":
					it.Variant.Color, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		case "image_url":
			it.ImageURL, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return it, err
}

// decodeMoney accepts a decimal as either a JSON string or number.
func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.Errorf("unexpected %s for money value", d.Next())
	}
}
