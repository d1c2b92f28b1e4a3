// Package checkout sequences one checkout attempt from shipping through
// order submission.
//
// An Orchestrator moves through the steps shipping, payment, review and
// submitted. Each forward transition is gated by validation and, for payment
// and submission, by the rate limiter. Selections are recorded only when a
// transition succeeds, so a later step can never be reached with an earlier
// step's data missing. Checkout state is ephemeral: it is never persisted
// and a discarded Orchestrator is a cancelled checkout.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/validation"
)

// Step is the checkout step cursor.
type Step string

const (
	StepShipping  Step = "shipping"
	StepPayment   Step = "payment"
	StepReview    Step = "review"
	StepSubmitted Step = "submitted"
)

var (
	ErrEmptyCart          = errors.New("your cart is empty")
	ErrMissingShipping    = errors.New("add a shipping address to continue")
	ErrMissingPayment     = errors.New("choose a payment method to continue")
	ErrSubmissionInFlight = errors.New("order submission already in progress")
	ErrCheckoutComplete   = errors.New("checkout already completed")
	ErrNotReviewed        = errors.New("review your order before placing it")
)

// ValidationError lists the fields that failed validation. It may wrap the
// lookup error that caused it, such as promotion.ErrUnknownCode.
type ValidationError struct {
	Fields []validation.FieldError
	cause  error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return e.cause }

func fieldError(field, msg string, cause error) *ValidationError {
	return &ValidationError{
		Fields: []validation.FieldError{{Field: field, Message: msg}},
		cause:  cause,
	}
}

// RateLimitedError is returned when an action was refused by the rate
// limiter. RetryAfter tells the customer how long to wait.
type RateLimitedError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, try again in %ds", e.Seconds())
}

// Seconds returns RetryAfter rounded up to whole seconds, at least one.
func (e *RateLimitedError) Seconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Cart is the view of the cart checkout needs.
type Cart interface {
	Items() []cart.LineItem
	Identity() *cart.Identity
	Freeze() []cart.LineItem
	Release(ctx context.Context, clear bool) error
}

// Limiter gates rate limited actions.
type Limiter interface {
	Allow(key string) bool
	TimeUntilReset(key string) time.Duration
}

// Submitter sends an order payload to the backend.
type Submitter interface {
	Submit(ctx context.Context, p order.Payload) (string, error)
}

// Deps are the collaborators an Orchestrator needs. Fingerprinter is
// optional.
type Deps struct {
	Pricing       *pricing.Engine
	Validator     *validation.Validator
	Limiter       Limiter
	Promotions    promotion.Table
	Submitter     Submitter
	Fingerprinter *payment.Fingerprinter
}

// ShippingForm is the shipping step input.
type ShippingForm struct {
	FirstName string `json:"first_name" validate:"required,person_name"`
	LastName  string `json:"last_name" validate:"required,person_name"`
	Phone     string `json:"phone" validate:"required,phone"`
	Region    string `json:"region" validate:"required"`
	City      string `json:"city" validate:"required"`
	Address   string `json:"address" validate:"required,max=200"`
	Notes     string `json:"notes" validate:"max=500"`
}

var shippingFieldOrder = []string{"first_name", "last_name", "phone", "region", "city", "address", "notes"}

// ShippingSelection is an accepted shipping form with the shipping tier
// derived from the subtotal at the time it was accepted.
type ShippingSelection struct {
	FirstName string
	LastName  string
	Phone     string
	Region    string
	City      string
	Address   string
	Notes     string
	Tier      pricing.Tier
	Cost      decimal.Decimal
}

// PaymentForm is the payment step input. Card is required for card kinds
// and ignored otherwise.
type PaymentForm struct {
	Kind          payment.Kind
	InstrumentRef string
	Card          *payment.CardInput
	SaveForLater  bool
}

var cardFieldOrder = []string{"kind", "number", "expiry", "cvv", "holder"}

// PromotionState is the active promotion, if any. Input is the code as the
// customer typed it.
type PromotionState struct {
	Code        string
	Input       string
	Percent     decimal.Decimal
	Description string
}

// Active reports whether a code is applied.
func (p PromotionState) Active() bool {
	return p.Code != ""
}

// State is a point-in-time copy of the checkout.
type State struct {
	Step           Step
	Cart           cart.Snapshot
	Shipping       *ShippingSelection
	Payment        *payment.Selection
	Promotion      PromotionState
	Quote          pricing.Breakdown
	IdempotencyKey string
	// OrderID is set once the order has been placed.
	OrderID string
	// Submitting is true while an order submission is in flight.
	Submitting bool
}

// Receipt describes a placed order.
type Receipt struct {
	OrderID        string
	IdempotencyKey string
	Items          []order.Item
	Pricing        pricing.Breakdown
	Payment        string
	PromoCode      string
	PlacedAt       time.Time
}

// orderFields sorts errs into the given field order. Unknown fields keep
// their relative order at the end.
func orderFields(errs []validation.FieldError, order []string) []validation.FieldError {
	rank := make(map[string]int, len(order))
	for i, f := range order {
		rank[f] = i
	}
	out := make([]validation.FieldError, 0, len(errs))
	for _, f := range order {
		for _, e := range errs {
			if e.Field == f {
				out = append(out, e)
			}
		}
	}
	for _, e := range errs {
		if _, known := rank[e.Field]; !known {
			out = append(out, e)
		}
	}
	return out
}
