package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, idempotency_key, customer_id, payload, total, promo_code)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id::text`

	getOrderIDByKeySQL = `SELECT id::text FROM orders WHERE idempotency_key = $1`
)

var _ order.API = (*Orders)(nil)

// Orders records orders. An insert repeating an idempotency key returns the
// identifier of the existing order.
type Orders struct {
	pool *pgxpool.Pool
}

// NewOrders returns an Orders that uses the given pool.
func NewOrders(pool *pgxpool.Pool) *Orders {
	return &Orders{pool: pool}
}

// CreateOrder implements order.API.
func (r *Orders) CreateOrder(ctx context.Context, p order.Payload) (string, error) {
	id := uuid.NewString()
	key := p.IdempotencyKey
	if key == "" {
		key = id
	}

	var created string
	err := r.pool.QueryRow(ctx, insertOrderSQL,
		id, key, p.CustomerID, string(order.EncodePayload(p)), p.Pricing.Total, p.PromoCode,
	).Scan(&created)
	switch {
	case err == nil:
		return created, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return "", errors.Wrapf(err, "insert order %q", key)
	}

	// Conflict on the idempotency key: the order already exists.
	var existing string
	if err := r.pool.QueryRow(ctx, getOrderIDByKeySQL, key).Scan(&existing); err != nil {
		return "", errors.Wrapf(err, "get order by key %q", key)
	}
	return existing, nil
}
