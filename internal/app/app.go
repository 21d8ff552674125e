// Package app wires the checkout server together and runs it.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/floracart/checkout-server/internal/domain/catalog"
	"github.com/floracart/checkout-server/internal/domain/checkout"
	"github.com/floracart/checkout-server/internal/domain/fulfillment"
	"github.com/floracart/checkout-server/internal/domain/merchant"
	"github.com/floracart/checkout-server/internal/domain/order"
	"github.com/floracart/checkout-server/internal/domain/payment"
	"github.com/floracart/checkout-server/internal/domain/pricing"
	"github.com/floracart/checkout-server/internal/handler"
	"github.com/floracart/checkout-server/internal/idempotency"
	"github.com/floracart/checkout-server/internal/repository"
	"github.com/floracart/checkout-server/pkg/health"
	"github.com/floracart/checkout-server/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	var (
		store    checkout.Store
		ledger   idempotency.Ledger
		source   catalog.Source
		lister   handler.CatalogLister
		rules    pricing.RuleSource
		orderRep order.Repository
	)
	if cfg.DatabaseURL != "" {
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := repository.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}

		healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
			return pool.Ping(ctx)
		})

		products := repository.NewProductRepository(pool)
		idem := repository.NewIdempotencyRepository(pool, cfg.Sessions.IdempotencyTTL)
		store = repository.NewSessionStore(pool)
		ledger = idem
		source = products
		lister = products
		rules = repository.NewDiscountRepository(pool)
		orderRep = repository.NewOrderRepository(pool)

		go purgeIdempotency(ctx, idem, cfg.Sessions.IdempotencyTTL)
	} else {
		lg.Info("No database configured, running in-memory")

		items, err := LoadSeedCatalog()
		if err != nil {
			return err
		}
		seedRules, err := LoadSeedRules()
		if err != nil {
			return err
		}

		static := catalog.NewStaticSource(items)
		store = checkout.NewMemoryStore()
		ledger = idempotency.NewMemoryLedger(cfg.Sessions.IdempotencyTTL)
		source = static
		lister = static
		rules = pricing.NewStaticRules(seedRules)
		orderRep = order.NewMemoryRepository()
	}

	merchantCfg := merchant.Config{
		Name:     cfg.Merchant.Name,
		Currency: cfg.Merchant.Currency,
		PaymentHandlers: []payment.Handler{{
			ID:   payment.HandlerHederaHBAR,
			Name: "Hedera HBAR",
			Config: map[string]string{
				"network":             cfg.Hedera.Network,
				"merchant_account_id": cfg.Hedera.MerchantAccountID,
			},
		}},
		RequireFulfillment: cfg.Merchant.RequireFulfillment,
		TaxRateBps:         cfg.Merchant.TaxRateBps,
		SessionTTL:         cfg.Sessions.TTL,
	}

	negotiator := payment.NewNegotiator()
	negotiator.Register(payment.HandlerHederaHBAR, payment.NewTransferVerifier(
		cfg.Hedera.MerchantAccountID, cfg.Hedera.Network, logSubmitter{},
	))

	engine := pricing.NewEngine(rules)
	resolver := fulfillment.NewResolver(fulfillment.NewStaticSource(fulfillment.DefaultOptions()))
	dispatcher := order.NewDispatcher(orderRep, logSink{})
	orchestrator := checkout.NewOrchestrator(store, ledger, engine, source, negotiator, resolver, dispatcher)

	sweepCtx := zctx.Base(ctx, lg.Named("expiry"))
	go func() {
		if err := orchestrator.RunExpiry(sweepCtx, cfg.Sessions.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("Expiry loop stopped", zap.Error(err))
		}
	}()

	h := handler.NewHandler(merchantCfg, orchestrator, dispatcher, lister, cfg.AdminSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument("checkout-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
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

// purgeIdempotency periodically removes expired idempotency records.
func purgeIdempotency(ctx context.Context, repo *repository.IdempotencyRepository, ttl time.Duration) {
	interval := ttl / 4
	if interval <= 0 || interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := repo.Purge(ctx); err != nil {
				zctx.From(ctx).Error("purge idempotency records", zap.Error(err))
			}
		}
	}
}
