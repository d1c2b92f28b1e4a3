package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/validation"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/ratelimit"
	"github.com/xenking/storefront/internal/session"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Service is a fully wired storefront API.
type Service struct {
	Handler http.Handler
	Health  *health.Health

	store *storage
}

// New builds the storefront from cfg. Background workers stop when ctx is
// done; Close releases storage.
func New(ctx context.Context, lg *zap.Logger, cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider) (*Service, error) {
	table, err := loadShippingTable(cfg.ShippingTable)
	if err != nil {
		return nil, err
	}
	rates, err := cfg.Pricing.Rates()
	if err != nil {
		return nil, errors.Wrap(err, "pricing config")
	}

	store, err := openStorage(ctx, lg, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	svc := &Service{store: store}
	if err := svc.wire(ctx, lg, cfg, table, rates, tp, mp); err != nil {
		store.Close()
		return nil, err
	}
	return svc, nil
}

func (s *Service) wire(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	table *pricing.ShippingTable,
	rates pricing.Rates,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) error {
	if cfg.SeedPromotions {
		seeded, err := seedPromotions(ctx, s.store)
		if err != nil {
			return err
		}
		if seeded {
			lg.Info("Seeded demo promotion codes")
		}
	}
	promos := promotion.NewRepoTable(s.store.promotions)
	n, err := promos.Warm(ctx)
	if err != nil {
		return errors.Wrap(err, "warm promotion filter")
	}
	lg.Info("Promotion filter ready", zap.Int("codes", n))
	promos.StartRefresher(ctx, cfg.PromotionRefresh)

	fingerprints, err := payment.NewFingerprinter([]byte(cfg.CardFingerprintKey))
	if err != nil {
		return errors.Wrap(err, "card fingerprints")
	}
	submitter, err := order.NewSubmitter(
		deadlineAPI{api: s.store.orders, timeout: cfg.OrderTimeout},
		order.WithTracerProvider(tp),
		order.WithMeterProvider(mp),
	)
	if err != nil {
		return errors.Wrap(err, "create order submitter")
	}

	limiter := ratelimit.New(cfg.Limits.Rules(), ratelimit.DefaultRule)
	limiter.StartSweeper(ctx, cfg.Limits.SweepInterval)

	sessions := session.NewManager(s.store.carts, checkout.Deps{
		Pricing:       pricing.NewEngine(table, pricing.WithRates(rates)),
		Validator:     validation.New(),
		Promotions:    promos,
		Submitter:     submitter,
		Fingerprinter: fingerprints,
	}, limiter, session.WithIdleTTL(cfg.Session.IdleTTL))
	sessions.StartSweeper(ctx, cfg.Session.SweepInterval)

	s.Health = health.New()
	if s.store.pool != nil {
		s.Health.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(s.store.pool))
	}
	s.Health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	router := mux.NewRouter()
	router.HandleFunc("/livez", s.Health.LiveEndpoint).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.Health.ReadyEndpoint).Methods(http.MethodGet)
	handler.New(sessions, table).Register(router)

	s.Handler = httpmiddleware.Wrap(router,
		httpmiddleware.Recovery(lg),
		httpmiddleware.Throttle(ctx, httpmiddleware.ThrottleConfig{
			RPS:     cfg.Throttle.RPS,
			Burst:   cfg.Throttle.Burst,
			IdleTTL: cfg.Throttle.IdleTTL,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("storefront-api", tp, mp),
		httpmiddleware.LogRequests(),
	)
	return nil
}

// Close releases storage connections.
func (s *Service) Close() {
	s.store.Close()
}

// Run wires the storefront API and serves it until ctx is done.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	svc, err := New(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer svc.Close()

	healthSvc := svc.Health
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Leaves room for a full order call plus encoding.
		WriteTimeout:   cfg.OrderTimeout + 5*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        svc.Handler,
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func loadShippingTable(path string) (*pricing.ShippingTable, error) {
	if path == "" {
		t, err := pricing.DefaultShippingTable()
		return t, errors.Wrap(err, "built-in shipping table")
	}
	t, err := pricing.LoadShippingTable(path)
	return t, errors.Wrap(err, "load shipping table")
}
