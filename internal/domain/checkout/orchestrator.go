package checkout

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/validation"
	"github.com/xenking/storefront/internal/ratelimit"
)

// Orchestrator drives one checkout attempt. It is safe for concurrent use;
// the lock is not held while an order is being submitted.
type Orchestrator struct {
	cart Cart
	deps Deps
	now  func() time.Time
	newK func() string

	mu        sync.Mutex
	step      Step
	shipping  *ShippingSelection
	payment   *payment.Selection
	promo     PromotionState
	key       string
	orderID   string
	inFlight  bool
	submitted *Receipt
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source for receipts.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithKeyGenerator overrides idempotency key generation.
func WithKeyGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newK = fn }
}

// NewOrchestrator starts a fresh checkout attempt over c.
func NewOrchestrator(c Cart, deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cart: c,
		deps: deps,
		now:  time.Now,
		newK: uuid.NewString,
	}
	for _, fn := range opts {
		fn(o)
	}
	o.resetLocked()
	return o
}

func (o *Orchestrator) resetLocked() {
	o.step = StepShipping
	o.shipping = nil
	o.payment = nil
	o.promo = PromotionState{}
	o.key = o.newK()
	o.orderID = ""
}

// guardLocked rejects mutations during submission and after completion.
func (o *Orchestrator) guardLocked() error {
	if o.inFlight {
		return ErrSubmissionInFlight
	}
	if o.step == StepSubmitted {
		return ErrCheckoutComplete
	}
	return nil
}

// State returns a copy of the current checkout state with a fresh quote.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	items := o.cart.Items()
	s := State{
		Step:           o.step,
		Cart:           cart.Snapshot{Items: items, Total: cart.Total(items)},
		Promotion:      o.promo,
		Quote:          o.quoteLocked(items),
		IdempotencyKey: o.key,
		OrderID:        o.orderID,
		Submitting:     o.inFlight,
	}
	if o.shipping != nil {
		sh := *o.shipping
		s.Shipping = &sh
	}
	if o.payment != nil {
		p := *o.payment
		s.Payment = &p
	}
	return s
}

// Step returns the current step.
func (o *Orchestrator) Step() Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.step
}

// Submitting reports whether an order submission is in flight.
func (o *Orchestrator) Submitting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// Quote prices the current cart against the shipping selection and the
// active promotion.
func (o *Orchestrator) Quote() pricing.Breakdown {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.quoteLocked(o.cart.Items())
}

func (o *Orchestrator) quoteLocked(items []cart.LineItem) pricing.Breakdown {
	city := ""
	if o.shipping != nil {
		city = o.shipping.City
	}
	pct := decimal.Zero
	if o.promo.Active() {
		pct = o.promo.Percent
	}
	return o.deps.Pricing.Quote(cart.Total(items), city, pct)
}

// SubmitShipping validates the shipping form and advances to the payment
// step. The city must belong to the selected region, so a city left over
// from a previously selected region is rejected.
func (o *Orchestrator) SubmitShipping(ctx context.Context, f ShippingForm) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.guardLocked(); err != nil {
		return err
	}

	f = trimShipping(f)
	if verr := o.validateShippingLocked(f); verr != nil {
		zctx.From(ctx).Debug("Shipping rejected", zap.Int("fields", len(verr.Fields)))
		return verr
	}

	subtotal := cart.Total(o.cart.Items())
	table := o.deps.Pricing.Table()
	region, city := f.Region, f.City
	if table != nil {
		region, city = canonicalRegionCity(table, f.Region, f.City)
	}
	tier := o.deps.Pricing.ShippingTier(city, subtotal)
	o.shipping = &ShippingSelection{
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Phone:     f.Phone,
		Region:    region,
		City:      city,
		Address:   f.Address,
		Notes:     f.Notes,
		Tier:      tier,
		Cost:      o.deps.Pricing.TierCost(tier),
	}
	o.step = StepPayment
	return nil
}

func (o *Orchestrator) validateShippingLocked(f ShippingForm) *ValidationError {
	errs := o.deps.Validator.Struct(f)

	failed := make(map[string]bool, len(errs))
	for _, e := range errs {
		failed[e.Field] = true
	}
	if table := o.deps.Pricing.Table(); table != nil && !failed["region"] {
		switch {
		case !table.HasRegion(f.Region):
			errs = append(errs, validation.FieldError{Field: "region", Message: "We do not deliver to this region"})
		case !failed["city"] && !table.HasCity(f.Region, f.City):
			errs = append(errs, validation.FieldError{Field: "city", Message: "Select a city in " + f.Region})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: orderFields(errs, shippingFieldOrder)}
}

// SubmitPayment validates the payment method and advances to review. The
// payment attempt is rate limited before any validation runs; a refusal
// leaves the state unchanged.
func (o *Orchestrator) SubmitPayment(ctx context.Context, f PaymentForm) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.guardLocked(); err != nil {
		return err
	}
	if o.shipping == nil {
		return ErrMissingShipping
	}
	if !o.deps.Limiter.Allow(ratelimit.ActionPayment) {
		return &RateLimitedError{
			Action:     ratelimit.ActionPayment,
			RetryAfter: o.deps.Limiter.TimeUntilReset(ratelimit.ActionPayment),
		}
	}

	kind, err := payment.ParseKind(string(f.Kind))
	if err != nil {
		return fieldError("kind", "Choose a payment method", err)
	}
	if kind.RequiresCard() {
		if verr := o.validateCard(f.Card); verr != nil {
			zctx.From(ctx).Debug("Payment rejected", zap.Int("fields", len(verr.Fields)))
			return verr
		}
	}

	sel := payment.Select(kind, f.Card, o.deps.Fingerprinter)
	sel.InstrumentRef = strings.TrimSpace(f.InstrumentRef)
	sel.SaveForLater = f.SaveForLater && kind == payment.KindNewCard
	o.payment = &sel
	o.step = StepReview
	return nil
}

func (o *Orchestrator) validateCard(c *payment.CardInput) *ValidationError {
	if c == nil {
		c = &payment.CardInput{}
	}
	errs := o.deps.Validator.Struct(c)

	failed := make(map[string]bool, len(errs))
	for _, e := range errs {
		failed[e.Field] = true
	}
	if r := o.deps.Validator.Expiry(c.ExpMonth, c.ExpYear); !r.Valid {
		errs = append(errs, validation.FieldError{Field: "expiry", Message: r.Error})
	}
	if !failed["cvv"] {
		if r := validation.CVV(c.CVV, c.Number); !r.Valid {
			errs = append(errs, validation.FieldError{Field: "cvv", Message: r.Error})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: orderFields(errs, cardFieldOrder)}
}

// ApplyPromotion activates code, replacing any active code. An invalid or
// unknown code leaves the current promotion in place and returns a
// *ValidationError wrapping the reason.
func (o *Orchestrator) ApplyPromotion(ctx context.Context, code string) (PromotionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.guardLocked(); err != nil {
		return o.promo, err
	}

	if r := validation.PromoCode(code); !r.Valid {
		return o.promo, fieldError("promo_code", r.Error, nil)
	}
	normalized := promotion.Normalize(code)

	rule, err := o.deps.Promotions.Lookup(ctx, normalized)
	switch {
	case errors.Is(err, promotion.ErrUnknownCode):
		return o.promo, fieldError("promo_code", "This promo code is not valid", err)
	case errors.Is(err, promotion.ErrExpired):
		return o.promo, fieldError("promo_code", "This promo code has expired", err)
	case err != nil:
		return o.promo, errors.Wrap(err, "lookup promotion")
	}

	o.promo = PromotionState{
		Code:        rule.Code,
		Input:       code,
		Percent:     rule.Percent,
		Description: rule.Description,
	}
	zctx.From(ctx).Debug("Promotion applied", zap.String("code", rule.Code))
	return o.promo, nil
}

// RemovePromotion clears the active promotion.
func (o *Orchestrator) RemovePromotion() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.guardLocked(); err != nil {
		return err
	}
	o.promo = PromotionState{}
	return nil
}

// Back moves to the previous step and returns the new step. Selections are
// kept so the customer can edit them. It has no effect on the first step,
// after submission or while submitting.
func (o *Orchestrator) Back() Step {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inFlight {
		return o.step
	}
	switch o.step {
	case StepReview:
		o.step = StepPayment
	case StepPayment:
		o.step = StepShipping
	}
	return o.step
}

// Reset discards the attempt and starts a fresh one. A submission already in
// flight still completes.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
}

// PlaceOrder submits the order. Checks run in this order: a submission
// already in flight, the place_order rate limit, then a non-empty cart,
// shipping, payment and the review step. The cart is frozen from the moment
// its items are read until the order API answers, and the order API is
// called exactly once without holding the lock. On failure the state is left
// exactly as it was. On success the cart is cleared and the orchestrator
// holds a fresh attempt in the submitted step.
func (o *Orchestrator) PlaceOrder(ctx context.Context) (*Receipt, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	if o.step == StepSubmitted {
		o.mu.Unlock()
		return nil, ErrCheckoutComplete
	}
	if !o.deps.Limiter.Allow(ratelimit.ActionOrder) {
		retry := o.deps.Limiter.TimeUntilReset(ratelimit.ActionOrder)
		o.mu.Unlock()
		return nil, &RateLimitedError{Action: ratelimit.ActionOrder, RetryAfter: retry}
	}

	items := o.cart.Freeze()
	var precondition error
	switch {
	case len(items) == 0:
		precondition = ErrEmptyCart
	case o.shipping == nil:
		precondition = ErrMissingShipping
	case o.payment == nil:
		precondition = ErrMissingPayment
	case o.step != StepReview:
		precondition = ErrNotReviewed
	}
	if precondition != nil {
		_ = o.cart.Release(ctx, false)
		o.mu.Unlock()
		return nil, precondition
	}

	quote := o.quoteLocked(items)
	payload := o.payloadLocked(items, quote)
	summary := o.payment.Summary()
	o.inFlight = true
	o.mu.Unlock()

	id, err := o.deps.Submitter.Submit(ctx, payload)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false
	if err != nil {
		_ = o.cart.Release(ctx, false)
		return nil, err
	}

	if err := o.cart.Release(ctx, true); err != nil {
		zctx.From(ctx).Error("Clear cart after order",
			zap.String("order_id", id),
			zap.Error(err),
		)
	}

	receipt := &Receipt{
		OrderID:        id,
		IdempotencyKey: payload.IdempotencyKey,
		Items:          payload.Items,
		Pricing:        quote,
		Payment:        summary,
		PromoCode:      payload.PromoCode,
		PlacedAt:       o.now(),
	}
	o.resetLocked()
	o.step = StepSubmitted
	o.orderID = id
	o.submitted = receipt
	return receipt, nil
}

// Receipt returns the receipt of the placed order, or nil.
func (o *Orchestrator) Receipt() *Receipt {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.step != StepSubmitted || o.submitted == nil {
		return nil
	}
	r := *o.submitted
	return &r
}

func (o *Orchestrator) payloadLocked(items []cart.LineItem, quote pricing.Breakdown) order.Payload {
	p := order.Payload{
		IdempotencyKey: o.key,
		Items:          make([]order.Item, len(items)),
		Shipping: order.Shipping{
			FirstName: o.shipping.FirstName,
			LastName:  o.shipping.LastName,
			Phone:     o.shipping.Phone,
			Region:    o.shipping.Region,
			City:      o.shipping.City,
			Address:   o.shipping.Address,
			Notes:     o.shipping.Notes,
			Tier:      string(quote.ShippingTier),
			Cost:      quote.Shipping,
		},
		Payment: order.Payment{
			Kind:          string(o.payment.Kind),
			InstrumentRef: o.payment.InstrumentRef,
			Brand:         string(o.payment.Brand),
			Last4:         o.payment.Last4,
			Holder:        o.payment.Holder,
			Fingerprint:   o.payment.Fingerprint,
			SaveForLater:  o.payment.SaveForLater,
		},
		Pricing: order.Pricing{
			Subtotal:        quote.Subtotal,
			Tax:             quote.Tax,
			Shipping:        quote.Shipping,
			DiscountPercent: quote.DiscountPercent,
			Discount:        quote.Discount,
			Total:           quote.Total,
		},
		PromoCode: o.promo.Code,
	}
	if id := o.cart.Identity(); id != nil {
		p.CustomerID = id.ID
	}
	for i, it := range items {
		p.Items[i] = order.Item{
			ID:        it.ID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Size:      it.Variant.Size,
			Color:     it.Variant.Color,
		}
	}
	return p
}

func trimShipping(f ShippingForm) ShippingForm {
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.Phone = strings.TrimSpace(f.Phone)
	f.Region = strings.TrimSpace(f.Region)
	f.City = strings.TrimSpace(f.City)
	f.Address = strings.TrimSpace(f.Address)
	f.Notes = strings.TrimSpace(f.Notes)
	return f
}

// canonicalRegionCity returns the table's spelling of region and city.
func canonicalRegionCity(t *pricing.ShippingTable, region, city string) (string, string) {
	for _, r := range t.Regions() {
		if !strings.EqualFold(r.Name, region) {
			continue
		}
		for _, c := range r.Cities {
			if strings.EqualFold(c.Name, city) {
				return r.Name, c.Name
			}
		}
		return r.Name, city
	}
	return region, city
}
