// Package app wires the API server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-coupons/internal/domain/cart"
	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
	"github.com/xenking/kart-coupons/internal/domain/usage"
	"github.com/xenking/kart-coupons/internal/handler"
	"github.com/xenking/kart-coupons/internal/seed"
	"github.com/xenking/kart-coupons/pkg/health"
	"github.com/xenking/kart-coupons/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
		zap.String("allocation_order", cfg.Coupons.AllocationOrder),
	)
	ctx = zctx.Base(ctx, lg)

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	if cfg.Seed.Enabled || cfg.Storage == StorageMemory {
		data, err := seedData(cfg)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, b.seeder, data); err != nil {
			return errors.Wrap(err, "seed")
		}
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("storage", 5*time.Second, health.PingCheck(b.pinger))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	allocation, err := cart.ParseAllocationOrder(cfg.Coupons.AllocationOrder)
	if err != nil {
		return errors.Wrap(err, "allocation order")
	}
	calculator := cart.NewCalculator(allocation)
	calculator.Use(coupon.AllowedDiscount)

	reconciler, err := usage.NewReconciler(b.usage,
		usage.WithMeterProvider(m.MeterProvider()),
		usage.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}

	orderService := order.NewService(b.products, coupon.NewRepoValidator(b.coupons), calculator, b.orders)
	orderService.OnStatusChange(usage.CompletionHook(reconciler))

	// HTTP handlers.
	h, err := handler.NewHandler(handler.Config{
		ImageBaseURL:  cfg.ImageBaseURL,
		APIKeyPepper:  []byte(cfg.APIKeyPepper),
		MeterProvider: m.MeterProvider(),
	}, handler.Deps{
		Products:   b.products,
		Orders:     orderService,
		Coupons:    b.coupons,
		Reconciler: reconciler,
		APIKeys:    b.apikeys,
	})
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	// Route-aware middlewares run inside the router.
	router := h.Router(
		httpmiddleware.Instrument("kart-api", m),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
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
