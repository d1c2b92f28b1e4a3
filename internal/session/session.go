// Package session keeps one cart and one checkout attempt per identity.
//
// Each identity gets its own cart.Store and checkout.Orchestrator, so
// in-memory state is never shared between customers. Rate limit windows are
// scoped per identity over a shared rule set. Sessions idle for longer than
// the configured TTL are evicted; the persisted cart survives eviction and is
// loaded again on the next request.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/ratelimit"
)

// DefaultIdleTTL is how long an unused session is kept.
const DefaultIdleTTL = 30 * time.Minute

// Session is one identity's cart and current checkout attempt.
type Session struct {
	Identity cart.Identity
	Cart     *cart.Store

	mu       sync.Mutex
	checkout *checkout.Orchestrator
}

// Checkout returns the current checkout attempt.
func (s *Session) Checkout() *checkout.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkout
}

type entry struct {
	mu       sync.Mutex
	session  *Session
	lastSeen time.Time
}

// Manager is the registry of live sessions.
type Manager struct {
	kv       cart.Persistence
	deps     checkout.Deps
	limiter  *ratelimit.Limiter
	ttl      time.Duration
	now      func() time.Time
	cartOpts []cart.Option
	coOpts   []checkout.Option

	mu       sync.Mutex
	sessions map[string]*entry
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTTL sets the idle eviction timeout.
func WithIdleTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithClock overrides the time source used for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCartOptions passes options to every cart.Store.
func WithCartOptions(opts ...cart.Option) Option {
	return func(m *Manager) { m.cartOpts = append(m.cartOpts, opts...) }
}

// WithCheckoutOptions passes options to every checkout.Orchestrator.
func WithCheckoutOptions(opts ...checkout.Option) Option {
	return func(m *Manager) { m.coOpts = append(m.coOpts, opts...) }
}

// NewManager creates a Manager. deps.Limiter is ignored; every session gets
// a view of limiter scoped to its identity.
func NewManager(kv cart.Persistence, deps checkout.Deps, limiter *ratelimit.Limiter, opts ...Option) *Manager {
	m := &Manager{
		kv:       kv,
		deps:     deps,
		limiter:  limiter,
		ttl:      DefaultIdleTTL,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get returns the session for id, loading the persisted cart on first use.
func (m *Manager) Get(ctx context.Context, id cart.Identity) (*Session, error) {
	if id.ID == "" {
		return nil, cart.ErrUnauthenticated
	}

	m.mu.Lock()
	e, ok := m.sessions[id.ID]
	if !ok {
		e = &entry{}
		m.sessions[id.ID] = e
	}
	m.mu.Unlock()

	// Loading happens under the entry lock so concurrent first requests for
	// one identity share a single load.
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen = m.now()
	if e.session != nil {
		return e.session, nil
	}

	store := cart.NewStore(m.kv, m.cartOpts...)
	if err := store.Load(ctx, &id); err != nil {
		m.forget(id.ID, e)
		return nil, errors.Wrap(err, "load cart")
	}
	e.session = &Session{
		Identity: id,
		Cart:     store,
		checkout: m.newCheckout(store, id.ID),
	}
	zctx.From(ctx).Debug("Session started", zap.String("identity", id.ID))
	return e.session, nil
}

func (m *Manager) newCheckout(store *cart.Store, scope string) *checkout.Orchestrator {
	deps := m.deps
	deps.Limiter = m.limiter.Scope(scope)
	return checkout.NewOrchestrator(store, deps, m.coOpts...)
}

func (m *Manager) forget(id string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] == e {
		delete(m.sessions, id)
	}
}

// Cancel discards the identity's checkout attempt and starts a fresh one.
// The cart is kept. It fails with checkout.ErrSubmissionInFlight while an
// order is being submitted.
func (m *Manager) Cancel(ctx context.Context, id cart.Identity) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkout.Submitting() {
		return checkout.ErrSubmissionInFlight
	}
	s.checkout = m.newCheckout(s.Cart, id.ID)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle for longer than the TTL and returns how many
// were evicted. Sessions with a submission in flight are kept.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, e := range m.sessions {
		if !e.mu.TryLock() {
			continue
		}
		idle := e.lastSeen.Before(cutoff) && (e.session == nil || !e.session.Checkout().Submitting())
		e.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs Sweep every interval until ctx is canceled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					zctx.From(ctx).Debug("Evicted idle sessions", zap.Int("count", n))
				}
			}
		}
	}()
}
