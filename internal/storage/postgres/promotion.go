package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/promotion"
)

const (
	getPromotionByCodeSQL = `SELECT code, percent, description, valid_from, valid_until
		FROM promotions WHERE code = UPPER($1) AND active = TRUE`

	listPromotionCodesSQL = `SELECT code FROM promotions WHERE active = TRUE`

	upsertPromotionSQL = `INSERT INTO promotions (code, percent, description, valid_from, valid_until, active, updated_at)
		VALUES (UPPER($1), $2, $3, $4, $5, TRUE, now())
		ON CONFLICT (code) DO UPDATE SET
			percent = EXCLUDED.percent,
			description = EXCLUDED.description,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			active = TRUE,
			updated_at = now()`
)

var _ promotion.Repository = (*Promotions)(nil)

// Promotions implements promotion.Repository backed by PostgreSQL.
type Promotions struct {
	pool *pgxpool.Pool
}

// NewPromotions returns a Promotions that uses the given pool.
func NewPromotions(pool *pgxpool.Pool) *Promotions {
	return &Promotions{pool: pool}
}

// FindByCode looks up an active promotion. Returns promotion.ErrUnknownCode
// when none matches.
func (r *Promotions) FindByCode(ctx context.Context, code string) (*promotion.Rule, error) {
	rows, err := r.pool.Query(ctx, getPromotionByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find promotion %q", code)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrUnknownCode
		}
		return nil, errors.Wrapf(err, "find promotion %q", code)
	}
	return &rule, nil
}

// Codes streams every active code to fn.
func (r *Promotions) Codes(ctx context.Context, fn func(code string) error) error {
	rows, err := r.pool.Query(ctx, listPromotionCodesSQL)
	if err != nil {
		return errors.Wrap(err, "list promotion codes")
	}
	defer rows.Close()

	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		return fn(code)
	})
	if err != nil {
		return errors.Wrap(err, "list promotion codes")
	}
	return nil
}

// Upsert writes rules in one batch, replacing existing codes.
func (r *Promotions) Upsert(ctx context.Context, rules []promotion.Rule) error {
	if len(rules) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rule := range rules {
		batch.Queue(upsertPromotionSQL, rule.Code, rule.Percent, rule.Description, rule.ValidFrom, rule.ValidUntil)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "upsert %d promotions", len(rules))
	}
	return nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Rule, error) {
	var (
		rule       promotion.Rule
		validFrom  *time.Time
		validUntil *time.Time
	)
	err := row.Scan(&rule.Code, &rule.Percent, &rule.Description, &validFrom, &validUntil)
	rule.ValidFrom = validFrom
	rule.ValidUntil = validUntil
	return rule, err
}
