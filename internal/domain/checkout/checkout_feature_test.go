package checkout

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/validation"
	"github.com/xenking/storefront/internal/ratelimit"
)

type checkoutTestContext struct {
	ctx       context.Context
	cart      *cart.Store
	submitter *mockSubmitter
	o         *Orchestrator
	receipt   *Receipt
	err       error

	placing  chan struct{}
	placeErr error
}

func (c *checkoutTestContext) reset() {
	c.ctx = context.Background()
	c.cart = nil
	c.submitter = &mockSubmitter{id: "ord-1"}
	c.o = nil
	c.receipt = nil
	c.err = nil
	c.placing = nil
	c.placeErr = nil
}

func (c *checkoutTestContext) aSignedInCustomer(id string) error {
	c.cart = cart.NewStore(&memKV{data: make(map[string]string)})
	if err := c.cart.Load(c.ctx, &cart.Identity{ID: id}); err != nil {
		return err
	}

	table, err := pricing.DefaultShippingTable()
	if err != nil {
		return err
	}
	clock := func() time.Time { return fixedNow }
	c.o = NewOrchestrator(c.cart, Deps{
		Pricing:    pricing.NewEngine(table),
		Validator:  validation.New(validation.WithClock(clock)),
		Limiter:    ratelimit.New(ratelimit.DefaultRules(), ratelimit.DefaultRule, ratelimit.WithClock(clock)),
		Promotions: promotion.DemoTable(),
		Submitter:  c.submitter,
	}, WithClock(clock))
	return nil
}

func (c *checkoutTestContext) theCartContains(qty int, name, price string) error {
	id := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	unit, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	if err := c.cart.Add(c.ctx, cart.LineItem{ID: id, Name: name, UnitPrice: unit}); err != nil {
		return err
	}
	return c.cart.SetQuantity(c.ctx, id, qty)
}

func (c *checkoutTestContext) iAdd(qty int, name, price string) error {
	c.err = c.theCartContains(qty, name, price)
	return nil
}

func (c *checkoutTestContext) iGoBack() error {
	c.o.Back()
	return nil
}

func (c *checkoutTestContext) theOrderAPIIsSlow() error {
	c.submitter.entered = make(chan struct{}, 1)
	c.submitter.release = make(chan struct{})
	return nil
}

func (c *checkoutTestContext) iStartPlacingTheOrder() error {
	c.placing = make(chan struct{})
	go func() {
		defer close(c.placing)
		c.receipt, c.placeErr = c.o.PlaceOrder(c.ctx)
	}()
	select {
	case <-c.submitter.entered:
		return nil
	case <-c.placing:
		return fmt.Errorf("order finished before reaching the API: %v", c.placeErr)
	}
}

func (c *checkoutTestContext) theOrderAPIAnswers() error {
	close(c.submitter.release)
	<-c.placing
	c.err = c.placeErr
	return nil
}

func (c *checkoutTestContext) theOrderContained(n int) error {
	if got := len(c.submitter.last().Items); got != n {
		return fmt.Errorf("expected %d ordered items, got %d", n, got)
	}
	return nil
}

func (c *checkoutTestContext) iSubmitShippingTo(city, region string) error {
	form := validShipping()
	form.City = city
	form.Region = region
	c.err = c.o.SubmitShipping(c.ctx, form)
	return nil
}

func (c *checkoutTestContext) iPayWith(kind string) error {
	c.err = c.o.SubmitPayment(c.ctx, PaymentForm{Kind: payment.Kind(kind)})
	return nil
}

func (c *checkoutTestContext) iPayWithCard(number string, month, year int, cvv string) error {
	card := &payment.CardInput{
		Number:   number,
		ExpMonth: month,
		ExpYear:  year,
		CVV:      cvv,
		Holder:   "Sara Al-Harbi",
	}
	c.err = c.o.SubmitPayment(c.ctx, PaymentForm{Kind: payment.KindNewCard, Card: card})
	return nil
}

func (c *checkoutTestContext) iPayWithCardTimes(number string, month, year int, cvv string, times int) error {
	for range times {
		if err := c.iPayWithCard(number, month, year, cvv); err != nil {
			return err
		}
	}
	return nil
}

func (c *checkoutTestContext) iApplyPromoCode(code string) error {
	_, c.err = c.o.ApplyPromotion(c.ctx, code)
	return nil
}

func (c *checkoutTestContext) theOrderAPITimesOut() error {
	c.submitter.err = order.NewTransportError(context.DeadlineExceeded, true)
	return nil
}

func (c *checkoutTestContext) theOrderAPIRecovers() error {
	c.submitter.err = nil
	return nil
}

func (c *checkoutTestContext) iPlaceTheOrder() error {
	c.receipt, c.err = c.o.PlaceOrder(c.ctx)
	return nil
}

func (c *checkoutTestContext) theOrderIsPlacedWithID(id string) error {
	if c.err != nil {
		return fmt.Errorf("expected order to be placed, got %v", c.err)
	}
	if c.receipt == nil || c.receipt.OrderID != id {
		return fmt.Errorf("expected order id %q, got %+v", id, c.receipt)
	}
	return nil
}

func (c *checkoutTestContext) theCheckoutStepIs(step string) error {
	if got := c.o.Step(); string(got) != step {
		return fmt.Errorf("expected step %q, got %q", step, got)
	}
	return nil
}

func (c *checkoutTestContext) theCartIsEmpty() error {
	return c.theCartHasItems(0)
}

func (c *checkoutTestContext) theCartHasItems(n int) error {
	if got := c.cart.Len(); got != n {
		return fmt.Errorf("expected %d cart lines, got %d", n, got)
	}
	return nil
}

func sameAmount(what, want string, got decimal.Decimal) error {
	w, err := decimal.NewFromString(want)
	if err != nil {
		return err
	}
	if !w.Equal(got) {
		return fmt.Errorf("expected %s %s, got %s", what, want, got.StringFixed(2))
	}
	return nil
}

func (c *checkoutTestContext) theReceiptTotalIs(total string) error {
	if c.receipt == nil {
		return errors.New("no receipt")
	}
	return sameAmount("receipt total", total, c.receipt.Pricing.Total)
}

func (c *checkoutTestContext) theOrderTotalIs(total string) error {
	return sameAmount("order total", total, c.o.Quote().Total)
}

func (c *checkoutTestContext) theShippingCostIs(cost string) error {
	return sameAmount("shipping cost", cost, c.o.Quote().Shipping)
}

func (c *checkoutTestContext) theActivePromoCodeIs(code string) error {
	if got := c.o.State().Promotion.Code; got != code {
		return fmt.Errorf("expected promo code %q, got %q", code, got)
	}
	return nil
}

func (c *checkoutTestContext) theRequestFailsWith(msg string) error {
	if c.err == nil {
		return errors.New("expected an error")
	}
	if !strings.Contains(c.err.Error(), msg) {
		return fmt.Errorf("expected error containing %q, got %q", msg, c.err.Error())
	}
	return nil
}

func (c *checkoutTestContext) theRequestIsRateLimited() error {
	var rl *RateLimitedError
	if !errors.As(c.err, &rl) {
		return fmt.Errorf("expected rate limit error, got %v", c.err)
	}
	return nil
}

func (c *checkoutTestContext) theOrderAPIWasCalled(n int) error {
	if got := int(c.submitter.calls.Load()); got != n {
		return fmt.Errorf("expected %d order API calls, got %d", n, got)
	}
	return nil
}

func (c *checkoutTestContext) bothAttemptsUsedTheSameIdempotencyKey() error {
	c.submitter.mu.Lock()
	defer c.submitter.mu.Unlock()
	if len(c.submitter.payloads) != 2 {
		return fmt.Errorf("expected 2 payloads, got %d", len(c.submitter.payloads))
	}
	if a, b := c.submitter.payloads[0].IdempotencyKey, c.submitter.payloads[1].IdempotencyKey; a == "" || a != b {
		return fmt.Errorf("idempotency keys differ: %q vs %q", a, b)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &checkoutTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^a signed-in customer "([^"]*)"$`, tc.aSignedInCustomer)
	ctx.Step(`^the cart contains (\d+) x "([^"]*)" at ([\d.]+)$`, tc.theCartContains)

	// When steps
	ctx.Step(`^I submit shipping to "([^"]*)" in "([^"]*)"$`, tc.iSubmitShippingTo)
	ctx.Step(`^I pay with "([^"]*)"$`, tc.iPayWith)
	ctx.Step(`^I pay with card "([^"]*)" expiring (\d+)/(\d+) cvv "([^"]*)"$`, tc.iPayWithCard)
	ctx.Step(`^I pay with card "([^"]*)" expiring (\d+)/(\d+) cvv "([^"]*)" (\d+) times$`, tc.iPayWithCardTimes)
	ctx.Step(`^I apply promo code "([^"]*)"$`, tc.iApplyPromoCode)
	ctx.Step(`^the order API times out$`, tc.theOrderAPITimesOut)
	ctx.Step(`^the order API recovers$`, tc.theOrderAPIRecovers)
	ctx.Step(`^I place the order$`, tc.iPlaceTheOrder)
	ctx.Step(`^I add (\d+) x "([^"]*)" at ([\d.]+)$`, tc.iAdd)
	ctx.Step(`^I go back$`, tc.iGoBack)
	ctx.Step(`^the order API is slow$`, tc.theOrderAPIIsSlow)
	ctx.Step(`^I start placing the order$`, tc.iStartPlacingTheOrder)
	ctx.Step(`^the order API answers$`, tc.theOrderAPIAnswers)

	// Then steps
	ctx.Step(`^the order is placed with id "([^"]*)"$`, tc.theOrderIsPlacedWithID)
	ctx.Step(`^the checkout step is "([^"]*)"$`, tc.theCheckoutStepIs)
	ctx.Step(`^the cart is empty$`, tc.theCartIsEmpty)
	ctx.Step(`^the cart has (\d+) items?$`, tc.theCartHasItems)
	ctx.Step(`^the receipt total is ([\d.]+)$`, tc.theReceiptTotalIs)
	ctx.Step(`^the order total is ([\d.]+)$`, tc.theOrderTotalIs)
	ctx.Step(`^the shipping cost is ([\d.]+)$`, tc.theShippingCostIs)
	ctx.Step(`^the active promo code is "([^"]*)"$`, tc.theActivePromoCodeIs)
	ctx.Step(`^the request fails with "([^"]*)"$`, tc.theRequestFailsWith)
	ctx.Step(`^the request is rate limited$`, tc.theRequestIsRateLimited)
	ctx.Step(`^the order API was called (\d+) times?$`, tc.theOrderAPIWasCalled)
	ctx.Step(`^the order contained (\d+) items?$`, tc.theOrderContained)
	ctx.Step(`^both attempts used the same idempotency key$`, tc.bothAttemptsUsedTheSameIdempotencyKey)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/checkout.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
