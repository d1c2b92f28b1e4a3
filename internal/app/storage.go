package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/storage/memory"
	"github.com/xenking/storefront/internal/storage/postgres"
)

// storage is the set of backends one process runs against.
type storage struct {
	carts      cart.Persistence
	orders     order.API
	promotions promotion.Repository
	upsert     func(ctx context.Context, rules []promotion.Rule) error
	// pool is nil for in-memory storage.
	pool *pgxpool.Pool
}

func (s *storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStorage(ctx context.Context, lg *zap.Logger, databaseURL string) (*storage, error) {
	if databaseURL == "" {
		lg.Warn("No database configured, state is kept in memory")
		promos := memory.NewPromotions()
		return &storage{
			carts:      memory.NewKV(),
			orders:     memory.NewOrders(),
			promotions: promos,
			upsert: func(_ context.Context, rules []promotion.Rule) error {
				promos.Upsert(rules...)
				return nil
			},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	promos := postgres.NewPromotions(pool)
	return &storage{
		carts:      postgres.NewCartSnapshots(pool),
		orders:     postgres.NewOrders(pool),
		promotions: promos,
		upsert:     promos.Upsert,
		pool:       pool,
	}, nil
}

// seedPromotions loads the demo codes when no code is stored yet.
func seedPromotions(ctx context.Context, s *storage) (bool, error) {
	empty := true
	errStop := errors.New("stop")
	if err := s.promotions.Codes(ctx, func(string) error {
		empty = false
		return errStop
	}); err != nil && !errors.Is(err, errStop) {
		return false, errors.Wrap(err, "list promotion codes")
	}
	if !empty {
		return false, nil
	}
	if err := s.upsert(ctx, promotion.DemoRules()); err != nil {
		return false, errors.Wrap(err, "seed promotions")
	}
	return true, nil
}

// deadlineAPI bounds each order call. The call is detached from the caller's
// cancellation so a customer disconnecting mid-submit cannot abandon an
// order the backend may already be creating.
type deadlineAPI struct {
	api     order.API
	timeout time.Duration
}

func (a deadlineAPI) CreateOrder(ctx context.Context, p order.Payload) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	return a.api.CreateOrder(ctx, p)
}
