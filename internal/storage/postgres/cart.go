package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
)

const (
	getCartSnapshotSQL = `SELECT snapshot::text FROM cart_snapshots WHERE key = $1`

	upsertCartSnapshotSQL = `INSERT INTO cart_snapshots (key, snapshot, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (key) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()`
)

var _ cart.Persistence = (*CartSnapshots)(nil)

// CartSnapshots stores serialized carts keyed by identity.
type CartSnapshots struct {
	pool *pgxpool.Pool
}

// NewCartSnapshots returns a CartSnapshots that uses the given pool.
func NewCartSnapshots(pool *pgxpool.Pool) *CartSnapshots {
	return &CartSnapshots{pool: pool}
}

// Get returns the snapshot stored under key.
func (r *CartSnapshots) Get(ctx context.Context, key string) (string, bool, error) {
	var snapshot string
	err := r.pool.QueryRow(ctx, getCartSnapshotSQL, key).Scan(&snapshot)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrapf(err, "get cart snapshot %q", key)
	}
	return snapshot, true, nil
}

// Set replaces the snapshot stored under key.
func (r *CartSnapshots) Set(ctx context.Context, key, value string) error {
	if _, err := r.pool.Exec(ctx, upsertCartSnapshotSQL, key, value); err != nil {
		return errors.Wrapf(err, "set cart snapshot %q", key)
	}
	return nil
}
