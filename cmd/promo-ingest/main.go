// Command promo-ingest loads promotion codes from gzip-compressed code lists
// into the promotions table.
//
// Each input file holds one code per line. A code is imported when it occurs
// in at least -quorum of the files, which lets several partner exports vouch
// for the same code. Every imported code gets the same percentage, description
// and expiry.
//
//	promo-ingest -percent 15 -description "Partner 15% off" -valid-until 2026-12-31 a.gz b.gz c.gz
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const upsertBatchSize = 1000

type options struct {
	databaseURL string
	percent     decimal.Decimal
	description string
	validUntil  *time.Time
	quorum      int
	expected    uint
	dryRun      bool
	files       []string
}

func main() {
	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		lg.Fatal("Invalid arguments", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Promotion ingest failed", zap.Error(err))
	}
	lg.Info("Promotion ingest completed")
}

func parseFlags(args []string) (options, error) {
	var (
		o          options
		percent    string
		validUntil string
	)
	fs := flag.NewFlagSet("promo-ingest", flag.ContinueOnError)
	fs.StringVar(&o.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	fs.StringVar(&percent, "percent", "", "discount percentage applied by every imported code")
	fs.StringVar(&o.description, "description", "", "description shown for imported codes")
	fs.StringVar(&validUntil, "valid-until", "", "expiry as YYYY-MM-DD or RFC 3339; codes never expire when empty")
	fs.IntVar(&o.quorum, "quorum", 2, "number of files a code must appear in")
	fs.UintVar(&o.expected, "expected-codes", 20_000_000, "expected codes per file, sizes the filters")
	fs.BoolVar(&o.dryRun, "dry-run", false, "scan and report without writing to the database")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	o.files = fs.Args()
	if len(o.files) == 0 {
		return options{}, errors.New("at least one input file is required")
	}
	if o.quorum < 1 {
		return options{}, errors.New("quorum must be at least 1")
	}
	if o.quorum > len(o.files) {
		o.quorum = len(o.files)
	}

	p, err := decimal.NewFromString(percent)
	if err != nil {
		return options{}, errors.Wrap(err, "parse percent")
	}
	if !p.IsPositive() || p.GreaterThan(decimal.NewFromInt(100)) {
		return options{}, errors.Errorf("percent %s is outside (0, 100]", p)
	}
	o.percent = p

	if validUntil != "" {
		t, err := parseExpiry(validUntil)
		if err != nil {
			return options{}, err
		}
		o.validUntil = &t
	}

	if o.databaseURL == "" {
		o.databaseURL = os.Getenv("DATABASE_URL")
	}
	if o.databaseURL == "" && !o.dryRun {
		return options{}, errors.New("database URL is required: set -database-url or DATABASE_URL")
	}
	return o, nil
}

// parseExpiry accepts a date, meaning the end of that day in UTC, or an RFC
// 3339 timestamp.
func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.Add(24*time.Hour - time.Nanosecond), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse valid-until %q", s)
	}
	return t, nil
}

func run(ctx context.Context, lg *zap.Logger, o options) error {
	codes, err := collectCodes(ctx, lg, o.files, o.quorum, o.expected)
	if err != nil {
		return errors.Wrap(err, "collect codes")
	}
	lg.Info("Codes selected", zap.Int("count", len(codes)), zap.Int("quorum", o.quorum))

	if o.dryRun || len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, o.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return err
	}

	repo := postgres.NewPromotions(pool)
	rules := buildRules(codes, o)
	for start := 0; start < len(rules); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(rules))
		if err := repo.Upsert(ctx, rules[start:end]); err != nil {
			return errors.Wrap(err, "write promotions")
		}
		lg.Info("Write progress", zap.Int("written", end), zap.Int("total", len(rules)))
	}
	return nil
}

func buildRules(codes []string, o options) []promotion.Rule {
	rules := make([]promotion.Rule, len(codes))
	for i, code := range codes {
		rules[i] = promotion.Rule{
			Code:        code,
			Percent:     o.percent,
			Description: o.description,
			ValidUntil:  o.validUntil,
		}
	}
	return rules
}
