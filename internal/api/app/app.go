// Package app wires configuration, storage, the identity provider, the
// broker subscriber and the HTTP server into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/kalimotxo/enginewatch/internal/api/http"
	"github.com/kalimotxo/enginewatch/internal/api/identity"
	"github.com/kalimotxo/enginewatch/internal/api/identity/keycloak"
	"github.com/kalimotxo/enginewatch/internal/api/ingest"
	"github.com/kalimotxo/enginewatch/internal/api/service"
	"github.com/kalimotxo/enginewatch/internal/api/store"
	"github.com/kalimotxo/enginewatch/internal/api/store/drivers/sqlite"
	"github.com/kalimotxo/enginewatch/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	provider identity.Provider

	userService      *service.UserService
	telemetryService *service.TelemetryService
	subscriber       *ingest.Subscriber

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized. The
// broker connection is deferred to Run so a broker outage cannot block
// startup of the HTTP side.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "enginewatch-api",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.initProvider()
	app.initServices()
	app.initHTTP()

	return app, nil
}

func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)

	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("applying migrations: %w", err)
	}

	app.db = db
	app.logger.Info("database ready", "file", app.cfg.DatabaseFile)
	return nil
}

// initProvider selects the identity provider implementation by config.
func (app *Application) initProvider() {
	app.provider = keycloak.New(keycloak.Config{
		ServerURL:    app.cfg.KeycloakServerURL,
		Realm:        app.cfg.KeycloakRealm,
		ClientID:     app.cfg.KeycloakClientID,
		ClientSecret: app.cfg.KeycloakClientSecret,
		Timeout:      app.cfg.ProviderTimeout,
	})
}

func (app *Application) initServices() {
	app.userService = service.NewUserService(app.db.Users())
	app.telemetryService = service.NewTelemetryService(app.db.Readings())

	ingestCfg := ingest.Config{
		URL:     app.cfg.BrokerURL(),
		Subject: app.cfg.BrokerSubject,
	}
	if app.cfg.BrokerUseTLS {
		ingestCfg.CACert = app.cfg.BrokerCACert
		ingestCfg.ClientCert = app.cfg.BrokerCert
		ingestCfg.ClientKey = app.cfg.BrokerKey
	}
	app.subscriber = ingest.NewSubscriber(ingestCfg, app.telemetryService, app.logger)
}

func (app *Application) initHTTP() {
	app.router = httpapi.NewRouter(app.provider, BuildVersion, app.db, app.logger)
	app.router.UserService = app.userService
	app.router.TelemetryService = app.telemetryService
	app.router.ApplyRoutes()

	app.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", app.cfg.Port),
		Handler:      app.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	ctx := context.Background()

	// Prefetch the provider's signing keys so readiness and the first
	// authenticated request don't wait on a JWKS fetch. A failure here
	// retries lazily on the first token decode.
	if warmer, ok := app.provider.(interface{ WarmKeys(context.Context) error }); ok {
		if err := warmer.WarmKeys(ctx); err != nil {
			app.logger.Warn("signing key prefetch failed", "err", err)
		}
	}

	// A broker that is down at startup is logged, not fatal; the read
	// API keeps serving whatever was already ingested.
	if err := app.subscriber.Start(ctx); err != nil {
		app.logger.Error("ingest unavailable", "err", err)
	}

	app.logger.Info("service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully stops the subscriber, the HTTP server and the
// database, in that order.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down...")

	app.subscriber.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("service stopped")
	return nil
}
