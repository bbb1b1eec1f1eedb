package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"gorm.io/gorm"

	"licensed/internal/config"
	apierrors "licensed/internal/errors"
	"licensed/internal/infrastructure"
	"licensed/internal/license"
	customMiddleware "licensed/internal/middleware"
	handlers "licensed/internal/transport/http"
)

const (
	AppName = "licensed"
	VERSION = "1.0.0"
)

// Application holds the wired license server.
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	DB             *gorm.DB
	LicenseManager *license.Manager
	HealthCheck    *license.LicenseHealthCheck
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders
}

// NewApplication wires the server from cfg: logger, telemetry, database,
// license engine and router.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", AppName),
		slog.String("version", VERSION))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(ctx); err != nil {
		app.release(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.setupRouter(); err != nil {
		app.release(ctx)
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}
	app.createServer()

	return app, nil
}

// initializeServices opens the credential store and builds the license
// manager.
func (a *Application) initializeServices(ctx context.Context) error {
	db, err := infrastructure.OpenDatabase(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return err
	}
	a.DB = db

	if a.Config.Database.AutoMigrate {
		if err := license.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to migrate license schema: %w", err)
		}
	}

	cipher, err := license.NewCipher(a.Config.License.EncryptionSecret)
	if err != nil {
		return fmt.Errorf("failed to create credential cipher: %w", err)
	}

	metrics, err := license.InitializeLicenseMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	manager, err := license.NewManager(
		LicenseConfigFrom(a.Config.License),
		license.NewGormStore(db),
		cipher,
		license.WithLogger(a.Logger),
		license.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create license manager: %w", err)
	}
	a.LicenseManager = manager
	a.HealthCheck = license.NewLicenseHealthCheck(manager, a.Config.License.RequestTimeout)

	return nil
}

// LicenseConfigFrom maps the license section of the config onto the engine.
func LicenseConfigFrom(cfg config.LicenseConfig) license.Config {
	return license.Config{
		AuthorityURL:         cfg.AuthorityURL,
		DefaultApplicationID: cfg.DefaultApplicationID,
		CacheTTL:             cfg.CacheTTL,
		CacheMaxSize:         cfg.CacheMaxSize,
		RequestTimeout:       cfg.RequestTimeout,
		LocalTamperCheck:     cfg.LocalTamperCheck,
		Domains: license.DomainPolicy{
			DevMarkers:         cfg.Domains.DevMarkers,
			RegisteredFallback: cfg.Domains.RegisteredFallback,
			TopLevelFallback:   cfg.Domains.TopLevelFallback,
		},
	}
}

func (a *Application) setupRouter() error {
	r := chi.NewRouter()
	errorHandler := apierrors.NewErrorHandler(a.Logger, false)

	// RequestID → RealIP → OTel → Logger → Recoverer → Timeout
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders.Meter)
	if err != nil {
		return err
	}
	r.Use(otelMiddleware.Handler)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout))
	r.Use(customMiddleware.SecurityHeaders)

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	var acquireLimit func(http.Handler) http.Handler
	if a.Config.RateLimit.Enabled {
		acquireLimit = customMiddleware.NewRateLimiter(
			a.Config.RateLimit.RPS,
			a.Config.RateLimit.Burst,
			a.Logger,
		).Handler
	}

	licenseHandler := handlers.NewLicenseHandler(a.LicenseManager, acquireLimit, a.Logger)
	healthHandler := handlers.NewHealthHandler(a.HealthCheck, VERSION, a.Logger)
	gate := customMiddleware.NewLicenseGate(a.LicenseManager, a.Config.License.GateClientID, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Mount("/health", healthHandler.Routes())
		r.Mount("/license", licenseHandler.Routes())

		r.Route("/app", func(r chi.Router) {
			r.Use(gate.Handler)
			r.Get("/entitlements", handlers.Entitlements)
		})
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
	return nil
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Address(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Serve accepts connections on ln until the server is shut down.
func (a *Application) Serve(ln net.Listener) error {
	a.Logger.Info("Listening",
		slog.String("address", ln.Addr().String()),
		slog.Bool("authority_configured", a.LicenseManager.AuthorityConfigured()))

	if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}
	a.release(shutdownCtx)

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	if err := infrastructure.CloseLogger(); err != nil {
		errs = append(errs, fmt.Errorf("log file close error: %w", err))
	}
	return errors.Join(errs...)
}

// release frees everything but the HTTP server.
func (a *Application) release(ctx context.Context) {
	if a.LicenseManager != nil {
		a.LicenseManager.Close()
	}
	if a.DB != nil {
		if err := infrastructure.CloseDatabase(a.DB); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing database", slog.String("error", err.Error()))
		}
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}
}

// Run serves on the configured address until SIGINT or SIGTERM, then shuts
// down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		a.release(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.Logger.Error("Server error", slog.String("error", err.Error()))
		}
		stopErr := a.Stop(context.Background())
		return errors.Join(err, stopErr)
	case <-ctx.Done():
		a.Logger.Info("Received interrupt signal")
	}

	return a.Stop(context.Background())
}
