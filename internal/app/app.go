// Package app is the composition root: it loads configuration, builds
// the store, services, pipeline and background workers, wires the chi
// router and runs the HTTP server until interrupted.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"keygate/internal/config"
	"keygate/internal/fulfillment"
	"keygate/internal/gateway"
	"keygate/internal/infrastructure"
	customMiddleware "keygate/internal/middleware"
	"keygate/internal/notify"
	"keygate/internal/services"
	"keygate/internal/store"
	"keygate/internal/sweeper"
	handlers "keygate/internal/transport/http"
)

const AppName = "KeyGate License Service"

// Application holds every long-lived component of the service.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Store         store.Store
	Pipeline      *fulfillment.Pipeline
	Verification  *services.VerificationService
	Admin         *services.AdminService
	Dispatcher    *notify.Dispatcher
	Sweeper       *sweeper.Sweeper
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
}

// NewApplication builds a fully wired application from configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", handlers.Version))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the store, workers and domain services.
func (a *Application) initializeServices() error {
	st, err := store.NewSQLiteStore(a.Config.Store, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open license store: %w", err)
	}
	a.Store = st

	// Notifications are optional; a nil enqueuer disables them without
	// touching the pipeline.
	var enqueuer fulfillment.Enqueuer
	if a.Config.Notify.Enabled {
		dispatcher := notify.NewDispatcher(
			notify.NewSMTPNotifier(a.Config.Notify),
			a.Config.Notify.QueueSize,
			a.Config.Notify.SendTimeout,
			a.Logger,
		)
		a.Dispatcher = dispatcher
		enqueuer = dispatcher
	}

	pipeline, err := fulfillment.NewPipeline(st, enqueuer, a.Logger,
		a.OTelProviders.Tracer, a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to build fulfillment pipeline: %w", err)
	}
	a.Pipeline = pipeline

	verification, err := services.NewVerificationService(st,
		a.Config.Verification.ExposeReasons, a.Logger,
		a.OTelProviders.Tracer, a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to build verification service: %w", err)
	}
	a.Verification = verification

	a.Admin = services.NewAdminService(st, a.Logger, a.OTelProviders.Tracer)

	if a.Config.Sweeper.Enabled {
		sw, err := sweeper.New(st, a.Config.Sweeper, a.Logger,
			a.OTelProviders.Tracer, a.OTelProviders.Meter)
		if err != nil {
			return fmt.Errorf("failed to build expiry sweeper: %w", err)
		}
		a.Sweeper = sw
	}

	return nil
}

// setupRouter wires the middleware chain and mounts all handlers.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)
	r.Use(customMiddleware.StripSlashes)

	if a.Config.Security.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.Config.Security.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Operator-Ref"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	if a.Config.Security.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout, a.Logger))

		healthHandler := handlers.NewHealthHandler(a.Store, a.Logger)

		r.Mount("/license", handlers.NewLicenseHandler(a.Verification, a.Logger).Routes())
		r.Mount("/webhooks", a.webhookHandler().Routes())
		r.Mount("/admin", handlers.NewAdminHandler(a.Admin, a.Logger).Routes())
		r.Mount("/health", healthHandler.Routes())
		r.Get("/version", healthHandler.Version)
	})

	// Metrics sit outside the API middleware group.
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// webhookHandler builds the webhook handler with only the enabled
// gateway adapters; a disabled gateway has no route at all.
func (a *Application) webhookHandler() *handlers.WebhookHandler {
	var stripe, infinite gateway.Adapter
	if a.Config.Gateways.Stripe.Enabled {
		stripe = gateway.NewStripeAdapter(a.Config.Gateways.Stripe.WebhookSecret)
	}
	if a.Config.Gateways.InfinitePay.Enabled {
		infinite = gateway.NewInfinitePayAdapter(a.Config.Gateways.InfinitePay.WebhookSecret)
	}
	return handlers.NewWebhookHandler(a.Pipeline, stripe, infinite, a.Logger)
}

// createServer creates the HTTP server.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start launches the server and background workers.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.Int("port", a.Config.Server.Port),
		slog.String("store", a.Config.Store.Path),
		slog.Bool("stripe", a.Config.Gateways.Stripe.Enabled),
		slog.Bool("infinitepay", a.Config.Gateways.InfinitePay.Enabled),
		slog.Bool("sweeper", a.Config.Sweeper.Enabled),
		slog.Bool("notify", a.Config.Notify.Enabled))

	if a.Dispatcher != nil {
		a.Dispatcher.Start()
	}
	if a.Sweeper != nil {
		a.Sweeper.Start(ctx)
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))

	return nil
}

// Stop gracefully stops the server and every background worker.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(shutdownCtx)

	g.Go(func() error {
		if err := a.Server.Shutdown(gctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if a.Sweeper != nil {
			a.Sweeper.Stop()
		}
		if a.Dispatcher != nil {
			a.Dispatcher.Stop()
		}
		return nil
	})

	err := g.Wait()

	if a.OTelProviders != nil {
		if otelErr := a.OTelProviders.Shutdown(shutdownCtx); otelErr != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry",
				slog.String("error", otelErr.Error()))
		}
	}

	if closeErr := a.Store.Close(); closeErr != nil {
		a.Logger.ErrorContext(ctx, "Error closing license store",
			slog.String("error", closeErr.Error()))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return err
}

// Run runs the application until interrupted.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
