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

	"github.com/aussiebroadwan/roster/internal/roster/audit"
	"github.com/aussiebroadwan/roster/internal/roster/directory"
	httpapi "github.com/aussiebroadwan/roster/internal/roster/http"
	"github.com/aussiebroadwan/roster/internal/roster/metrics"
	"github.com/aussiebroadwan/roster/internal/roster/runlock"
	"github.com/aussiebroadwan/roster/internal/roster/service"
	"github.com/aussiebroadwan/roster/internal/roster/store/drivers/sqlite"
	"github.com/aussiebroadwan/roster/pkg/cryptox"
	"github.com/aussiebroadwan/roster/pkg/jwtx"
	"github.com/aussiebroadwan/roster/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application owns the roster service and its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db        *sqlite.Store
	signer    *jwtx.HS256
	hasher    cryptox.Hasher
	directory directory.Directory // nil when no directory is configured
	lock      runlock.Locker
	registry  *prometheus.Registry
	metrics   *metrics.Metrics

	attempts  *service.AttemptTracker
	login     *service.LoginService
	bootstrap *service.BootstrapService
	reconcile *service.ReconcileService
	retention *service.RetentionService
	scheduler *service.Scheduler
	scheduled bool

	server *http.Server
	router *httpapi.Router
}

// New builds the application. Nothing runs until Run.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "roster",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	signer, err := jwtx.NewHS256([]byte(cfg.SessionSecret), jwtx.VerifyOptions{Issuer: cfg.SessionIssuer})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session signer: %w", err)
	}
	app.signer = signer

	pepper, err := cryptox.LoadPepper(cfg.PepperFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}
	app.hasher = cryptox.Hasher{Pepper: pepper}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initRunLock(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initDirectory()
	app.initMetrics()
	app.initServices()
	app.initHTTP()

	return app, nil
}

// Handler serves the full HTTP API.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the scheduler and the HTTP server and blocks until shutdown
// is requested.
func (app *Application) Run() error {
	app.scheduler.Start()
	app.scheduled = true

	app.logger.Info("roster service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"directory", app.directory != nil,
	)

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

// Shutdown drains the HTTP server, stops background jobs and closes
// connections.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down roster service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.scheduled {
		app.scheduler.Stop()
		app.scheduled = false
	}

	if r, ok := app.lock.(*runlock.Redis); ok {
		if err := r.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("roster service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.FileDSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initRunLock shares the sync lock through Redis when configured so only
// one replica reconciles at a time.
func (app *Application) initRunLock() error {
	if app.cfg.RedisURL == "" {
		app.lock = runlock.NewLocal()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := runlock.NewRedis(ctx, app.cfg.RedisURL, app.cfg.RunLockTTL)
	if err != nil {
		return fmt.Errorf("failed to connect run lock: %w", err)
	}
	app.lock = r
	app.logger.Info("shared run lock enabled")
	return nil
}

func (app *Application) initDirectory() {
	if !app.cfg.Directory.Configured() {
		app.logger.Info("no directory configured, sync disabled")
		return
	}
	app.directory = directory.NewLDAP(app.cfg.Directory, nil)
}

func (app *Application) initMetrics() {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)
}

func (app *Application) initServices() {
	sink := &audit.Recorder{Logs: app.db.AuditLogs()}

	app.attempts = &service.AttemptTracker{
		Store:   app.db,
		Policy:  app.cfg.Lockout,
		Audit:   sink,
		Metrics: app.metrics,
	}

	app.retention = &service.RetentionService{
		Store:       app.db,
		Policy:      app.cfg.Retention,
		Concurrency: app.cfg.RetentionConcurrency,
		Audit:       sink,
		Metrics:     app.metrics,
		Logger:      app.logger,
	}

	app.login = &service.LoginService{
		Store:      app.db,
		Attempts:   app.attempts,
		Hasher:     app.hasher,
		Signer:     app.signer,
		Issuer:     app.cfg.SessionIssuer,
		SessionTTL: app.cfg.SessionTTL,
		Metrics:    app.metrics,
	}

	app.bootstrap = &service.BootstrapService{
		Store:  app.db,
		Hasher: app.hasher,
		Token:  app.cfg.BootstrapToken,
		Audit:  sink,
	}

	app.reconcile = &service.ReconcileService{
		Store:     app.db,
		SourceID:  app.cfg.Directory.URL,
		BaseDN:    app.cfg.Directory.BaseDN,
		Filter:    app.cfg.SearchFilter,
		Timeout:   app.cfg.SyncTimeout,
		Lock:      app.lock,
		Lifecycle: app.retention,
		Audit:     sink,
		Metrics:   app.metrics,
		Logger:    app.logger,
	}

	app.scheduler = service.NewScheduler(app.logger, app.cfg.SyncInterval, app.cfg.RetentionInterval)
	app.scheduler.Retention = app.retention
	app.scheduler.Attempts = app.attempts
	app.scheduler.Policy = app.cfg.Retention
	app.scheduler.AttemptRetention = app.cfg.AttemptRetention

	// A nil interface must stay nil so services can tell the directory is
	// absent.
	if app.directory != nil {
		app.login.Directory = app.directory
		app.reconcile.Directory = app.directory
		app.scheduler.Reconcile = app.reconcile
	}
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.signer, BuildVersion, app.db, app.logger)

	router.LoginService = app.login
	router.ReconcileService = app.reconcile
	router.AttemptTracker = app.attempts
	router.RetentionService = app.retention
	router.RetentionPolicy = app.cfg.Retention
	router.Gatherer = app.registry
	router.LoginLimit = app.cfg.LoginLimit
	router.AdminLimit = app.cfg.AdminLimit
	if app.cfg.BootstrapToken != "" {
		router.BootstrapService = app.bootstrap
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
