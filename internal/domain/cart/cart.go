// Package cart owns the per-identity shopping cart.
package cart

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DefaultStockCap bounds the quantity of items that carry no stock figure.
const DefaultStockCap = 9999

var (
	// ErrUnauthenticated is returned by mutations when no identity is loaded.
	ErrUnauthenticated = errors.New("sign in to modify the cart")
	// ErrInvalidItem is returned when adding an item without an identifier or
	// with a negative price.
	ErrInvalidItem = errors.New("invalid cart item")
	// ErrFrozen is returned by mutations while an order for the cart is
	// being placed.
	ErrFrozen = errors.New("your order is being placed, the cart can be changed once it completes")
)

// Identity is the signed-in customer the cart belongs to.
type Identity struct {
	ID    string
	Email string
}

// StorageKey derives the persistence key for the identity's cart. Bytes
// outside [A-Za-z0-9-], underscore included, are written as _XX hex so
// distinct identities never share a key.
func (i Identity) StorageKey() string {
	return "cart_" + escapeKey(i.ID)
}

func escapeKey(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

// Variant holds the optional attributes selected for an item.
type Variant struct {
	Size  string
	Color string
}

// IsZero reports whether no attribute is selected.
func (v Variant) IsZero() bool {
	return v.Size == "" && v.Color == ""
}

// LineItem is one product entry in the cart.
type LineItem struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	// Stock is the available quantity, when the catalog reports one.
	Stock    *int
	Variant  Variant
	ImageURL string
}

// LineTotal returns unit price times quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Snapshot is the serialisable state of a cart.
type Snapshot struct {
	Items []LineItem
	Total decimal.Decimal
}

// Persistence stores serialized snapshots under string keys.
type Persistence interface {
	// Get returns ok == false when key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Total sums unit price times quantity over items, rounded to cents.
func Total(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum.Round(2)
}

func validItem(it LineItem) bool {
	return strings.TrimSpace(it.ID) != "" && !it.UnitPrice.IsNegative()
}

func cloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	for i, it := range items {
		if it.Stock != nil {
			s := *it.Stock
			it.Stock = &s
		}
		out[i] = it
	}
	return out
}
