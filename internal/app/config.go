package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/ratelimit"
)

// Config is the storefront API configuration. It is loaded from
// STOREFRONT_-prefixed environment variables, flags and YAML files.
type Config struct {
	Addr               string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL        string        `usage:"PostgreSQL connection URL; storage is in memory when empty" flag:"database-url"`
	ShippingTable      string        `usage:"Shipping table YAML file; the built-in table is used when empty" flag:"shipping-table"`
	CardFingerprintKey string        `usage:"Secret for card fingerprints (STOREFRONT_CARD_FINGERPRINT_KEY)" flag:"card-fingerprint-key"`
	OrderTimeout       time.Duration `default:"15s" usage:"Deadline for one order API call" flag:"order-timeout"`
	SeedPromotions     bool          `default:"true" usage:"Load the demo promotion codes into empty storage" flag:"seed-promotions"`
	PromotionRefresh   time.Duration `default:"5m" usage:"How often the promotion code filter is rebuilt" flag:"promotion-refresh"`
	Pricing            PricingConfig
	Limits             LimitsConfig
	Throttle           ThrottleConfig
	Session            SessionConfig
	Graceful           GracefulConfig
}

// PricingConfig holds the pricing constants as decimal strings.
type PricingConfig struct {
	TaxRate       string `default:"0.10" usage:"Tax rate applied to the subtotal"`
	FreeThreshold string `default:"25.00" usage:"Subtotal from which shipping is free"`
	RemoteFee     string `default:"5.00" usage:"Shipping fee for remote cities"`
	StandardFee   string `default:"2.00" usage:"Shipping fee for other cities"`
}

// Rates parses the configured constants.
func (c PricingConfig) Rates() (pricing.Rates, error) {
	var (
		r   pricing.Rates
		err error
	)
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"tax rate", c.TaxRate, &r.TaxRate},
		{"free threshold", c.FreeThreshold, &r.FreeThreshold},
		{"remote fee", c.RemoteFee, &r.RemoteFee},
		{"standard fee", c.StandardFee, &r.StandardFee},
	} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return pricing.Rates{}, errors.Wrapf(err, "parse %s", f.name)
		}
		if f.dst.IsNegative() {
			return pricing.Rates{}, errors.Errorf("%s must not be negative", f.name)
		}
	}
	return r, nil
}

// LimitsConfig bounds rate limited checkout actions per customer.
type LimitsConfig struct {
	LoginMax      int           `default:"5" usage:"Login attempts per window"`
	LoginWindow   time.Duration `default:"15m" usage:"Login attempt window"`
	PaymentMax    int           `default:"5" usage:"Payment attempts per window"`
	PaymentWindow time.Duration `default:"1m" usage:"Payment attempt window"`
	OrderMax      int           `default:"3" usage:"Order submissions per window"`
	OrderWindow   time.Duration `default:"1m" usage:"Order submission window"`
	SweepInterval time.Duration `default:"1m" usage:"How often expired windows are dropped"`
}

// Rules converts the configuration into limiter rules.
func (c LimitsConfig) Rules() map[string]ratelimit.Rule {
	return map[string]ratelimit.Rule{
		ratelimit.ActionLogin:   {MaxRequests: c.LoginMax, Window: c.LoginWindow},
		ratelimit.ActionPayment: {MaxRequests: c.PaymentMax, Window: c.PaymentWindow},
		ratelimit.ActionOrder:   {MaxRequests: c.OrderMax, Window: c.OrderWindow},
	}
}

// ThrottleConfig controls the per-client HTTP token bucket.
type ThrottleConfig struct {
	RPS     float64       `default:"20" usage:"Sustained requests per second per client"`
	Burst   int           `default:"40" usage:"Request burst per client"`
	IdleTTL time.Duration `default:"10m" usage:"Idle time after which a client bucket is dropped"`
}

// SessionConfig controls the per-customer session registry.
type SessionConfig struct {
	IdleTTL       time.Duration `default:"30m" usage:"Idle time after which a session is evicted"`
	SweepInterval time.Duration `default:"1m" usage:"How often idle sessions are evicted"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s" usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads the configuration and applies platform defaults.
func LoadConfig() (*Config, error) {
	cfg, err := load(aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err != nil {
		return nil, err
	}
	cfg.applyPlatformDefaults()

	if cfg.CardFingerprintKey == "" {
		return nil, errors.New("card fingerprint key is required: set STOREFRONT_CARD_FINGERPRINT_KEY")
	}
	return cfg, nil
}

// DefaultConfig returns the configuration made of default values only.
func DefaultConfig() (*Config, error) {
	return load(aconfig.Config{SkipFiles: true, SkipEnv: true, SkipFlags: true})
}

func load(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return &cfg, nil
}

// applyPlatformDefaults honours the DATABASE_URL and PORT variables set by
// hosting platforms.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
