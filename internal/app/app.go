// Package app wires the storefront services into a single HTTP server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/moto-storefront/db"
	"github.com/xenking/moto-storefront/internal/domain/order"
	"github.com/xenking/moto-storefront/internal/domain/product"
	"github.com/xenking/moto-storefront/internal/handler"
	"github.com/xenking/moto-storefront/internal/notify"
	"github.com/xenking/moto-storefront/internal/storage/memory"
	"github.com/xenking/moto-storefront/internal/storage/postgres"
	"github.com/xenking/moto-storefront/internal/webhook"
	"github.com/xenking/moto-storefront/pkg/health"
	"github.com/xenking/moto-storefront/pkg/httpmiddleware"
)

type stores struct {
	products product.Repository
	orders   order.Repository
	close    func()
}

// openStores builds the repositories for the configured driver and registers
// their readiness checks.
func openStores(ctx context.Context, lg *zap.Logger, cfg StorageConfig, hs *health.Health) (*stores, error) {
	if cfg.Driver == DriverMemory {
		catalog, err := product.ParseCatalog(db.Products)
		if err != nil {
			return nil, errors.Wrap(err, "load seed catalog")
		}
		lg.Warn("Using in-memory order store; orders are lost on restart",
			zap.Int("products", len(catalog)))
		return &stores{
			products: memory.NewProductRepository(catalog...),
			orders:   memory.NewOrderRepository(),
			close:    func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	hs.AddReadinessCheck("postgres", 5*time.Second, postgres.PingCheck(pool))

	return &stores{
		products: postgres.NewProductRepository(pool),
		orders:   postgres.NewOrderRepository(pool),
		close:    pool.Close,
	}, nil
}

type server struct {
	handler  http.Handler
	health   *health.Health
	notifier *notify.Dispatcher
	close    func()
}

// newServer builds every dependency and the routed, middleware-wrapped
// handler. Background work started here stops when ctx is cancelled.
func newServer(ctx context.Context, lg *zap.Logger, tp httpmiddleware.TelemetryProvider, cfg *Config) (*server, error) {
	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	st, err := openStores(ctx, lg, cfg.Storage, healthSvc)
	if err != nil {
		return nil, err
	}

	// Notifications outlive the request that triggered them, so they run on
	// a context that survives request cancellation.
	notifier := notify.NewDispatcher(zctx.Base(context.WithoutCancel(ctx), lg), notify.LogSink, notify.Config{
		Timeout:     cfg.Notify.Timeout,
		Concurrency: cfg.Notify.Concurrency,
	})
	healthSvc.AddLivenessCheck("notify", time.Second,
		health.GaugeCheck("notifications in flight", notifier.InFlight, cfg.Notify.Concurrency))

	// Webhook pipeline: verifier -> dispatcher -> reconciler.
	reconciler := webhook.NewReconciler(st.orders, notifier,
		webhook.WithTimeout(cfg.Webhook.Timeout),
		webhook.WithTracerProvider(tp.TracerProvider()),
		webhook.WithMeterProvider(tp.MeterProvider()),
	)
	dispatcher := webhook.NewDispatcher()
	reconciler.Register(dispatcher)
	webhookHandler := webhook.NewHandler(
		webhook.HandlerConfig{
			SignatureHeader: cfg.Webhook.SignatureHeader,
			MaxBodyBytes:    cfg.Webhook.MaxBody,
		},
		webhook.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.NotificationURL),
		dispatcher,
	)

	h := handler.NewHandler(handler.HandlerConfig{}, order.NewService(st.products, st.orders))
	placeOrder := httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})(http.HandlerFunc(h.PlaceOrder))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	mux.Handle("POST /webhooks/payments", webhookHandler)
	mux.Handle("POST /api/orders", placeOrder)
	mux.HandleFunc("GET /api/orders/{orderNumber}", h.GetOrder)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	return &server{
		handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowHeaders:     []string{"Content-Type"},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument("moto-storefront", routeFinder, tp),
			httpmiddleware.LogRequests(routeFinder),
		),
		health:   healthSvc,
		notifier: notifier,
		close:    st.close,
	}, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	srv, err := newServer(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer srv.close()

	srv.health.Start(ctx, 10*time.Second)
	srv.health.SetReady(true)

	httpServer := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Webhook.Timeout + 2*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		srv.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := srv.notifier.Wait(shutdownCtx); err != nil {
			lg.Warn("Pending notifications abandoned",
				zap.Int64("in_flight", srv.notifier.InFlight()), zap.Error(err))
		}
		srv.health.Stop()
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
