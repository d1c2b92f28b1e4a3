// Package memory provides in-process storage used when no database is
// configured, and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/promotion"
)

var _ cart.Persistence = (*KV)(nil)

// KV is a string key-value store.
type KV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewKV returns an empty KV.
func NewKV() *KV {
	return &KV{data: make(map[string]string)}
}

func (s *KV) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *KV) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

var _ order.API = (*Orders)(nil)

// Orders records orders in memory. Payloads repeating an idempotency key
// return the order created by the first one.
type Orders struct {
	now func() time.Time

	mu     sync.Mutex
	byID   map[string]order.Order
	byKey  map[string]string
	orders []string
}

// NewOrders returns an empty order store.
func NewOrders() *Orders {
	return &Orders{
		now:   time.Now,
		byID:  make(map[string]order.Order),
		byKey: make(map[string]string),
	}
}

// CreateOrder implements order.API.
func (s *Orders) CreateOrder(ctx context.Context, p order.Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[p.IdempotencyKey]; ok && p.IdempotencyKey != "" {
		return id, nil
	}
	id := uuid.NewString()
	s.byID[id] = order.Order{ID: id, Payload: p, CreatedAt: s.now()}
	if p.IdempotencyKey != "" {
		s.byKey[p.IdempotencyKey] = id
	}
	s.orders = append(s.orders, id)
	return id, nil
}

// Get returns a recorded order.
func (s *Orders) Get(id string) (order.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	return o, ok
}

// Len returns the number of recorded orders.
func (s *Orders) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

var _ promotion.Repository = (*Promotions)(nil)

// Promotions is a promotion.Repository over a fixed rule set.
type Promotions struct {
	mu    sync.RWMutex
	rules map[string]promotion.Rule
}

// NewPromotions returns a repository holding rules.
func NewPromotions(rules ...promotion.Rule) *Promotions {
	p := &Promotions{rules: make(map[string]promotion.Rule, len(rules))}
	p.Upsert(rules...)
	return p
}

// Upsert adds or replaces rules by code.
func (p *Promotions) Upsert(rules ...promotion.Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range rules {
		r.Code = promotion.Normalize(r.Code)
		p.rules[r.Code] = r
	}
}

func (p *Promotions) FindByCode(_ context.Context, code string) (*promotion.Rule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.rules[promotion.Normalize(code)]
	if !ok {
		return nil, promotion.ErrUnknownCode
	}
	return &r, nil
}

// Codes calls fn for every code in lexical order.
func (p *Promotions) Codes(ctx context.Context, fn func(code string) error) error {
	p.mu.RLock()
	codes := make([]string, 0, len(p.rules))
	for c := range p.rules {
		codes = append(codes, c)
	}
	p.mu.RUnlock()

	sort.Strings(codes)
	for _, c := range codes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}
