package promotion

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Repository provides access to persisted promotion rules.
type Repository interface {
	// FindByCode returns ErrUnknownCode when no rule exists for code.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// Codes streams every known code to fn.
	Codes(ctx context.Context, fn func(code string) error) error
}

const (
	defaultFilterCapacity = 100_000
	defaultFilterFPR      = 0.001
)

// RepoTable implements Table on top of a Repository. Once Warm has run, a
// bloom filter of known codes answers most unknown lookups without a query.
type RepoTable struct {
	repo Repository
	now  func() time.Time

	capacity uint
	fpr      float64

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

var _ Table = (*RepoTable)(nil)

// RepoOption configures a RepoTable.
type RepoOption func(*RepoTable)

// WithClock overrides the time source used for validity windows.
func WithClock(now func() time.Time) RepoOption {
	return func(t *RepoTable) { t.now = now }
}

// WithFilterEstimate sizes the bloom filter for n codes at the given false
// positive rate.
func WithFilterEstimate(n uint, fpr float64) RepoOption {
	return func(t *RepoTable) {
		t.capacity = n
		t.fpr = fpr
	}
}

// NewRepoTable creates a RepoTable backed by repo.
func NewRepoTable(repo Repository, opts ...RepoOption) *RepoTable {
	t := &RepoTable{
		repo:     repo,
		now:      time.Now,
		capacity: defaultFilterCapacity,
		fpr:      defaultFilterFPR,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Warm loads every known code into a fresh bloom filter and swaps it in.
// It returns the number of codes loaded.
func (t *RepoTable) Warm(ctx context.Context) (int, error) {
	filter := bloom.NewWithEstimates(t.capacity, t.fpr)
	n := 0
	if err := t.repo.Codes(ctx, func(code string) error {
		filter.AddString(Normalize(code))
		n++
		return nil
	}); err != nil {
		return 0, errors.Wrap(err, "load promotion codes")
	}

	t.mu.Lock()
	t.filter = filter
	t.mu.Unlock()
	return n, nil
}

// StartRefresher re-runs Warm every interval until ctx is done so codes
// ingested by other processes become visible. Failures keep the previous
// filter.
func (t *RepoTable) StartRefresher(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := t.Warm(ctx)
				if err != nil {
					if ctx.Err() == nil {
						zctx.From(ctx).Warn("Refresh promotion filter", zap.Error(err))
					}
					continue
				}
				zctx.From(ctx).Debug("Promotion filter refreshed", zap.Int("codes", n))
			}
		}
	}()
}

// Add records code in the filter so lookups see it before the next Warm.
func (t *RepoTable) Add(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filter != nil {
		t.filter.AddString(Normalize(code))
	}
}

// mayContain reports false only when code is definitely unknown.
func (t *RepoTable) mayContain(code string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.filter == nil || t.filter.TestString(code)
}

// Lookup checks the prefilter, then the repository, then the validity window.
func (t *RepoTable) Lookup(ctx context.Context, code string) (*Rule, error) {
	code = Normalize(code)
	if !t.mayContain(code) {
		return nil, ErrUnknownCode
	}

	rule, err := t.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrUnknownCode) {
			return nil, ErrUnknownCode
		}
		return nil, errors.Wrap(err, "lookup promotion")
	}

	if err := rule.Active(t.now()); err != nil {
		return nil, err
	}
	return rule, nil
}
