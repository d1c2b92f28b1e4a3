// Package pricing derives the monetary breakdown of a checkout from the cart
// subtotal, the shipping destination and the active promotion.
//
// All functions are pure. Calling them twice with the same inputs yields the
// same outputs, so a server can recompute and verify any client quote.
package pricing

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Tier is the shipping cost class a destination falls into.
type Tier string

const (
	// TierFree applies when the subtotal reaches the free shipping threshold.
	TierFree Tier = "free"
	// TierRemote applies to remote cities below the threshold.
	TierRemote Tier = "remote"
	// TierStandard applies to every other city below the threshold.
	TierStandard Tier = "standard"
)

// Rates holds the configurable pricing constants.
type Rates struct {
	TaxRate       decimal.Decimal
	FreeThreshold decimal.Decimal
	RemoteFee     decimal.Decimal
	StandardFee   decimal.Decimal
}

// DefaultRates returns the storefront's standard rates.
func DefaultRates() Rates {
	return Rates{
		TaxRate:       decimal.RequireFromString("0.10"),
		FreeThreshold: decimal.RequireFromString("25.00"),
		RemoteFee:     decimal.RequireFromString("5.00"),
		StandardFee:   decimal.RequireFromString("2.00"),
	}
}

// Breakdown is the full price derivation for one checkout.
type Breakdown struct {
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	ShippingTier    Tier
	DiscountPercent decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
}

// Engine computes prices against a shipping table and a set of rates.
type Engine struct {
	table *ShippingTable
	rates Rates
}

// Option configures an Engine.
type Option func(*Engine)

// WithRates overrides the default rates.
func WithRates(r Rates) Option {
	return func(e *Engine) { e.rates = r }
}

// NewEngine creates an Engine. A nil table treats every city as non-remote.
func NewEngine(table *ShippingTable, opts ...Option) *Engine {
	e := &Engine{table: table, rates: DefaultRates()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Table returns the shipping table the engine prices against.
func (e *Engine) Table() *ShippingTable {
	return e.table
}

// Rates returns the engine's rates.
func (e *Engine) Rates() Rates {
	return e.rates
}

// Tax returns the tax due on subtotal.
func (e *Engine) Tax(subtotal decimal.Decimal) decimal.Decimal {
	return floorAtZero(subtotal.Mul(e.rates.TaxRate)).Round(2)
}

// ShippingTier classifies a delivery. The free threshold is checked first,
// then the remote surcharge.
func (e *Engine) ShippingTier(city string, subtotal decimal.Decimal) Tier {
	switch {
	case subtotal.GreaterThanOrEqual(e.rates.FreeThreshold):
		return TierFree
	case e.table.IsRemote(city):
		return TierRemote
	default:
		return TierStandard
	}
}

// ShippingCost returns the delivery fee for city at subtotal.
func (e *Engine) ShippingCost(city string, subtotal decimal.Decimal) decimal.Decimal {
	return e.TierCost(e.ShippingTier(city, subtotal))
}

// TierCost returns the fee charged for tier.
func (e *Engine) TierCost(t Tier) decimal.Decimal {
	switch t {
	case TierRemote:
		return e.rates.RemoteFee.Round(2)
	case TierStandard:
		return e.rates.StandardFee.Round(2)
	default:
		return zero
	}
}

// DiscountAmount returns pct percent of subtotal.
func DiscountAmount(subtotal, pct decimal.Decimal) decimal.Decimal {
	return floorAtZero(subtotal.Mul(pct).Div(hundred)).Round(2)
}

// GrandTotal returns subtotal + tax + shipping - discount, never negative.
func GrandTotal(subtotal, tax, shipping, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	return floorAtZero(total).Round(2)
}

// Quote computes the complete breakdown. An empty city prices shipping as
// standard unless the free threshold is met.
func (e *Engine) Quote(subtotal decimal.Decimal, city string, pct decimal.Decimal) Breakdown {
	subtotal = subtotal.Round(2)
	tier := e.ShippingTier(city, subtotal)
	tax := e.Tax(subtotal)
	shipping := e.TierCost(tier)
	discount := DiscountAmount(subtotal, pct)

	return Breakdown{
		Subtotal:        subtotal,
		Tax:             tax,
		Shipping:        shipping,
		ShippingTier:    tier,
		DiscountPercent: pct,
		Discount:        discount,
		Total:           GrandTotal(subtotal, tax, shipping, discount),
	}
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
