package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/validation"
	"github.com/xenking/storefront/internal/ratelimit"
	"github.com/xenking/storefront/internal/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func (failingKV) Set(context.Context, string, string) error { return nil }

func newTestManager(t *testing.T, kv cart.Persistence, opts ...Option) (*Manager, *clock) {
	t.Helper()
	table, err := pricing.DefaultShippingTable()
	require.NoError(t, err)
	submitter, err := order.NewSubmitter(memory.NewOrders())
	require.NoError(t, err)

	c := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	deps := checkout.Deps{
		Pricing:    pricing.NewEngine(table),
		Validator:  validation.New(),
		Promotions: promotion.DemoTable(),
		Submitter:  submitter,
	}
	limiter := ratelimit.New(ratelimit.DefaultRules(), ratelimit.DefaultRule, ratelimit.WithClock(c.Now))
	opts = append([]Option{WithClock(c.Now)}, opts...)
	return NewManager(kv, deps, limiter, opts...), c
}

func TestGet_ReturnsSameSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, memory.NewKV())

	a, err := m.Get(ctx, cart.Identity{ID: "alice"})
	require.NoError(t, err)
	again, err := m.Get(ctx, cart.Identity{ID: "alice"})
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.Equal(t, 1, m.Len())
}

func TestGet_IdentitiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, memory.NewKV())

	alice, err := m.Get(ctx, cart.Identity{ID: "alice"})
	require.NoError(t, err)
	bob, err := m.Get(ctx, cart.Identity{ID: "bob"})
	require.NoError(t, err)

	require.NoError(t, alice.Cart.Add(ctx, cart.LineItem{ID: "p1", Name: "Cap", UnitPrice: decimal.NewFromInt(8)}))

	assert.Equal(t, 1, alice.Cart.Len())
	assert.Zero(t, bob.Cart.Len())
	assert.NotSame(t, alice.Checkout(), bob.Checkout())
}

func TestGet_RequiresIdentity(t *testing.T) {
	m, _ := newTestManager(t, memory.NewKV())

	_, err := m.Get(context.Background(), cart.Identity{})
	assert.ErrorIs(t, err, cart.ErrUnauthenticated)
	assert.Zero(t, m.Len())
}

func TestGet_LoadFailureIsNotCached(t *testing.T) {
	m, _ := newTestManager(t, failingKV{})

	_, err := m.Get(context.Background(), cart.Identity{ID: "alice"})
	require.Error(t, err)
	assert.Zero(t, m.Len())
}

func TestGet_ConcurrentFirstAccess(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, memory.NewKV())

	var wg sync.WaitGroup
	sessions := make([]*Session, 10)
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Get(ctx, cart.Identity{ID: "alice"})
			assert.NoError(t, err)
			sessions[i] = s
		}()
	}
	wg.Wait()

	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestSweep_EvictsIdleSessions(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	m, c := newTestManager(t, kv, WithIdleTTL(10*time.Minute))

	alice, err := m.Get(ctx, cart.Identity{ID: "alice"})
	require.NoError(t, err)
	require.NoError(t, alice.Cart.Add(ctx, cart.LineItem{ID: "p1", Name: "Cap", UnitPrice: decimal.NewFromInt(8)}))

	c.Advance(6 * time.Minute)
	_, err = m.Get(ctx, cart.Identity{ID: "bob"})
	require.NoError(t, err)

	c.Advance(6 * time.Minute)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())

	// The cart survives eviction.
	back, err := m.Get(ctx, cart.Identity{ID: "alice"})
	require.NoError(t, err)
	assert.NotSame(t, alice, back)
	assert.Equal(t, 1, back.Cart.Len())
}

func TestCancel_StartsFreshCheckout(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, memory.NewKV())
	id := cart.Identity{ID: "alice"}

	s, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.Cart.Add(ctx, cart.LineItem{ID: "p1", Name: "Cap", UnitPrice: decimal.NewFromInt(8)}))
	_, err = s.Checkout().ApplyPromotion(ctx, "SAVE10")
	require.NoError(t, err)
	before := s.Checkout()

	require.NoError(t, m.Cancel(ctx, id))

	after := s.Checkout()
	assert.NotSame(t, before, after)
	assert.Equal(t, checkout.StepShipping, after.Step())
	assert.False(t, after.State().Promotion.Active())
	assert.Equal(t, 1, s.Cart.Len(), "cancel keeps the cart")
}

func TestRateLimitsArePerIdentity(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, memory.NewKV())

	alice, err := m.Get(ctx, cart.Identity{ID: "alice"})
	require.NoError(t, err)
	bob, err := m.Get(ctx, cart.Identity{ID: "bob"})
	require.NoError(t, err)

	for range 3 {
		_, err := alice.Checkout().PlaceOrder(ctx)
		require.ErrorIs(t, err, checkout.ErrEmptyCart)
	}
	_, err = alice.Checkout().PlaceOrder(ctx)
	var rl *checkout.RateLimitedError
	require.ErrorAs(t, err, &rl)

	_, err = bob.Checkout().PlaceOrder(ctx)
	assert.ErrorIs(t, err, checkout.ErrEmptyCart)
}

func TestStartSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m, c := newTestManager(t, memory.NewKV(), WithIdleTTL(time.Minute))

	_, err := m.Get(ctx, cart.Identity{ID: "alice"})
	require.NoError(t, err)
	c.Advance(time.Hour)

	m.StartSweeper(ctx, time.Millisecond)
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}
