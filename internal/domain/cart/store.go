package cart

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the single writer of one cart. Mutations are serialized by a
// mutex and each one persists the resulting snapshot before returning.
// In-memory state is authoritative: a failed write is logged, not rolled back.
type Store struct {
	p        Persistence
	stockCap int

	mu       sync.Mutex
	identity *Identity
	items    []LineItem
	frozen   bool
}

// Option configures a Store.
type Option func(*Store)

// WithStockCap sets the quantity cap for items without a stock figure.
func WithStockCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.stockCap = n
		}
	}
}

// NewStore creates an empty, unauthenticated store.
func NewStore(p Persistence, opts ...Option) *Store {
	s := &Store{p: p, stockCap: DefaultStockCap}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load switches the store to id and reads its persisted cart, discarding the
// in-memory view of the previous identity. A nil id leaves the cart empty
// and unauthenticated. A missing or unreadable snapshot yields an empty cart.
// If the persistence read itself fails, the store is left unauthenticated so
// the stored cart cannot be overwritten by mistake.
func (s *Store) Load(ctx context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return ErrFrozen
	}

	s.items = nil
	s.identity = nil
	if id == nil {
		return nil
	}

	lg := zctx.From(ctx).With(zap.String("cart_key", id.StorageKey()))

	raw, found, err := s.p.Get(ctx, id.StorageKey())
	if err != nil {
		return errors.Wrap(err, "load cart")
	}

	ident := *id
	s.identity = &ident
	if !found || raw == "" {
		return nil
	}

	snap, err := DecodeSnapshot([]byte(raw))
	if err != nil {
		lg.Warn("Discarding unreadable cart snapshot", zap.Error(err))
		return nil
	}
	s.items = s.sanitize(snap.Items)
	return nil
}

// sanitize drops items that could not have been added and clamps
// quantities into range.
func (s *Store) sanitize(items []LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if !validItem(it) {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		it.Quantity = s.clamp(it, it.Quantity)
		out = append(out, it)
	}
	return out
}

// Add appends item with quantity 1. Adding an ID already in the cart is a
// no-op.
func (s *Store) Add(ctx context.Context, item LineItem) error {
	if !validItem(item) {
		return ErrInvalidItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mutableLocked(); err != nil {
		return err
	}
	if s.indexOf(item.ID) >= 0 {
		return nil
	}

	item.Quantity = 1
	if item.Stock != nil {
		n := *item.Stock
		item.Stock = &n
	}
	s.items = append(s.items, item)
	s.persist(ctx)
	return nil
}

// Remove drops the item with itemID. An unknown ID is a no-op.
func (s *Store) Remove(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mutableLocked(); err != nil {
		return err
	}
	idx := s.indexOf(itemID)
	if idx < 0 {
		return nil
	}

	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.persist(ctx)
	return nil
}

// SetQuantity sets the quantity of itemID, clamped into [1, stock cap]. An
// unknown ID is a no-op.
func (s *Store) SetQuantity(ctx context.Context, itemID string, q int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mutableLocked(); err != nil {
		return err
	}
	idx := s.indexOf(itemID)
	if idx < 0 {
		return nil
	}

	s.items[idx].Quantity = s.clamp(s.items[idx], q)
	s.persist(ctx)
	return nil
}

// Clear empties the cart and persists the empty state.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mutableLocked(); err != nil {
		return err
	}
	s.items = nil
	s.persist(ctx)
	return nil
}

// Freeze returns the current items and rejects every mutation with
// ErrFrozen until Release. The items returned are exactly what an order
// placed now contains.
func (s *Store) Freeze() []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
	return cloneItems(s.items)
}

// Release lifts Freeze. With clear set the cart is emptied and persisted in
// the same critical section, so nothing added after Freeze can be lost.
func (s *Store) Release(ctx context.Context, clear bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frozen = false
	if !clear {
		return nil
	}
	if s.identity == nil {
		return ErrUnauthenticated
	}
	s.items = nil
	s.persist(ctx)
	return nil
}

// Frozen reports whether an order for the cart is being placed.
func (s *Store) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

func (s *Store) mutableLocked() error {
	switch {
	case s.identity == nil:
		return ErrUnauthenticated
	case s.frozen:
		return ErrFrozen
	default:
		return nil
	}
}

// Total returns the current subtotal, derived from the items.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Total(s.items)
}

// Items returns a copy of the current items.
func (s *Store) Items() []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

// Len returns the number of distinct items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot returns a copy of the current cart with its derived total.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Store) snapshot() Snapshot {
	return Snapshot{Items: cloneItems(s.items), Total: Total(s.items)}
}

// Identity returns the loaded identity, or nil when unauthenticated.
func (s *Store) Identity() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

func (s *Store) indexOf(id string) int {
	for i, it := range s.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) clamp(it LineItem, q int) int {
	limit := s.stockCap
	if it.Stock != nil && *it.Stock >= 1 {
		limit = *it.Stock
	}
	switch {
	case q < 1:
		return 1
	case q > limit:
		return limit
	default:
		return q
	}
}

// persist writes the current snapshot. The caller must hold s.mu.
func (s *Store) persist(ctx context.Context) {
	key := s.identity.StorageKey()
	if err := s.p.Set(ctx, key, string(EncodeSnapshot(s.snapshot()))); err != nil {
		zctx.From(ctx).Error("Persist cart",
			zap.String("cart_key", key),
			zap.Int("items", len(s.items)),
			zap.Error(err),
		)
	}
}
