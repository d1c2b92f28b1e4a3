// Package payment models the payment method chosen at checkout.
//
// Raw card data only ever lives in a CardInput for the duration of one
// request. It is reduced to a Selection, which carries the brand, the last
// four digits and a keyed fingerprint, before anything is stored or sent.
package payment

import (
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/validation"
)

// Kind is the payment method family.
type Kind string

const (
	// KindCash defers payment to delivery.
	KindCash Kind = "cash"
	// KindStoredCard charges a card saved on a previous order.
	KindStoredCard Kind = "stored_card"
	// KindNewCard charges a card entered for this order.
	KindNewCard Kind = "new_card"
	// KindWallet hands payment to the platform wallet.
	KindWallet Kind = "wallet"
)

// ErrUnknownKind is returned when parsing an unsupported payment kind.
var ErrUnknownKind = errors.New("unknown payment method")

// ParseKind converts s into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCash, KindStoredCard, KindNewCard, KindWallet:
		return k, nil
	default:
		return "", errors.Wrapf(ErrUnknownKind, "%q", s)
	}
}

// RequiresCard reports whether the kind needs card details to validate.
func (k Kind) RequiresCard() bool {
	return k == KindStoredCard || k == KindNewCard
}

// CardInput is card data as typed by the customer. It must never be
// persisted or logged.
type CardInput struct {
	Number   string `json:"number" validate:"required,card_number"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	CVV      string `json:"cvv" validate:"required"`
	Holder   string `json:"holder" validate:"required,person_name"`
}

// String redacts the card so it cannot leak through formatting.
func (c CardInput) String() string {
	return "card(" + Mask(c.Number) + ")"
}

// Selection is the payment method retained by checkout.
type Selection struct {
	Kind Kind
	// InstrumentRef identifies a stored card at the payment provider.
	InstrumentRef string
	Brand         Brand
	Last4         string
	Holder        string
	SaveForLater  bool
	// Fingerprint identifies the card number without revealing it.
	Fingerprint string
}

// Summary is a display string such as "Visa •••• 4242".
func (s Selection) Summary() string {
	switch s.Kind {
	case KindCash:
		return "Cash on delivery"
	case KindWallet:
		return "Wallet"
	}
	if s.Last4 == "" {
		return string(s.Brand)
	}
	return string(s.Brand) + " •••• " + s.Last4
}

// Mask returns the last four digits of a card number, or an empty string
// when there are fewer than four digits.
func Mask(number string) string {
	n := validation.NormalizeCardNumber(number)
	if len(n) < 4 {
		return ""
	}
	return n[len(n)-4:]
}

// Brand is the card network.
type Brand string

// Known brands.
const (
	BrandVisa       Brand = "Visa"
	BrandMastercard Brand = "Mastercard"
	BrandAmex       Brand = "Amex"
	BrandDiscover   Brand = "Discover"
	BrandMada       Brand = "Mada"
	BrandUnknown    Brand = "Card"
)

// madaPrefixes is a subset of the local debit network's BIN ranges.
var madaPrefixes = []string{
	"440647", "440795", "446404", "457865", "968208", "588845", "636120",
	"968201", "968205", "504300", "431361", "604906", "521076", "529415",
}

// DetectBrand infers the card network from the number's prefix.
func DetectBrand(number string) Brand {
	n := validation.NormalizeCardNumber(number)
	for _, p := range madaPrefixes {
		if strings.HasPrefix(n, p) {
			return BrandMada
		}
	}
	switch {
	case strings.HasPrefix(n, "34"), strings.HasPrefix(n, "37"):
		return BrandAmex
	case strings.HasPrefix(n, "4"):
		return BrandVisa
	case hasRangePrefix(n, 51, 55, 2), hasRangePrefix(n, 2221, 2720, 4):
		return BrandMastercard
	case strings.HasPrefix(n, "6011"), strings.HasPrefix(n, "65"):
		return BrandDiscover
	default:
		return BrandUnknown
	}
}

func hasRangePrefix(n string, lo, hi, width int) bool {
	if len(n) < width {
		return false
	}
	v := 0
	for i := 0; i < width; i++ {
		c := n[i]
		if c < '0' || c > '9' {
			return false
		}
		v = v*10 + int(c-'0')
	}
	return v >= lo && v <= hi
}
