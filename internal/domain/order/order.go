package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Item is a line item as sent to the order API.
type Item struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Size      string
	Color     string
}

// Shipping is the delivery destination of an order.
type Shipping struct {
	FirstName string
	LastName  string
	Phone     string
	Region    string
	City      string
	Address   string
	Notes     string
	Tier      string
	Cost      decimal.Decimal
}

// Payment summarizes the payment method. It never carries raw card data.
type Payment struct {
	Kind          string
	InstrumentRef string
	Brand         string
	Last4         string
	Holder        string
	Fingerprint   string
	SaveForLater  bool
}

// Pricing is the price breakdown the customer agreed to.
type Pricing struct {
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	DiscountPercent decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
}

// Payload is the request to create one order. IdempotencyKey identifies the
// checkout attempt; repeating a payload with the same key must not create a
// second order.
type Payload struct {
	IdempotencyKey string
	CustomerID     string
	Items          []Item
	Shipping       Shipping
	Payment        Payment
	Pricing        Pricing
	PromoCode      string
}

// Order is a created order as recorded by an API implementation.
type Order struct {
	ID        string
	Payload   Payload
	CreatedAt time.Time
}

// API creates orders on the backend.
type API interface {
	// CreateOrder returns the new order's identifier.
	CreateOrder(ctx context.Context, p Payload) (string, error)
}
