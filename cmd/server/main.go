// @title           scriptgate API
// @version         0.1.0
// @description     Credit-gated delivery of a protected JavaScript file, with an admin API for accounts, credits and access records.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Admin session token from POST /api/v1/auth/login: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and pprof are served on dedicated side-channel ports, separate from the main listener. Configure them with SG_TELEMETRY_METRICS_PROMETHEUS_PORT and SG_TELEMETRY_PROFILING_PORT.

// Package main is the entry point for the scriptgate server binary.
// It dispatches four subcommands (serve, migrate, bootstrap-admin and version)
// via a simple switch on os.Args. The serve command runs auto-migration and the
// admin bootstrap on startup so a fresh container needs no separate steps.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- served only on the dedicated profiling port, never on the Gin router.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scriptgate/scriptgate/internal/api"
	"github.com/scriptgate/scriptgate/internal/audit"
	"github.com/scriptgate/scriptgate/internal/auth"
	"github.com/scriptgate/scriptgate/internal/bootstrap"
	"github.com/scriptgate/scriptgate/internal/config"
	"github.com/scriptgate/scriptgate/internal/db"
	"github.com/scriptgate/scriptgate/internal/db/repositories"
	"github.com/scriptgate/scriptgate/internal/safego"
	"github.com/scriptgate/scriptgate/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("scriptgate v%s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "bootstrap-admin":
		return runBootstrap(cfg)
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, bootstrap-admin, version", command)
	}
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"user", cfg.Database.User, "dbname", cfg.Database.Name, "sslmode", cfg.Database.SSLMode)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	telemetry.StartDBStatsCollector(database)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	if err := ensureAdmin(cfg, repositories.NewAccountRepository(database)); err != nil {
		if !errors.Is(err, bootstrap.ErrNoAdminSecret) {
			return err
		}
		slog.Warn("admin bootstrap skipped: no admin secret configured; the existing admin account, if any, is unchanged")
	}

	if cfg.Telemetry.Metrics.Enabled {
		startSideServer("metrics", fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort), metricsMux(), 10*time.Second)
	}
	if cfg.Telemetry.Profiling.Enabled {
		// net/http/pprof registers its handlers on http.DefaultServeMux at init time.
		startSideServer("pprof", fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port), http.DefaultServeMux, 30*time.Second)
	}

	router, bgServices, err := api.NewRouter(cfg, database)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	safego.Go("http-server", func() {
		slog.Info("starting server",
			"service", cfg.Telemetry.ServiceName,
			"addr", server.Addr,
			"delivery_route", cfg.Delivery.Route,
			"storage_backend", cfg.Storage.DefaultBackend,
			"secret_mode", cfg.Auth.SecretMode,
			"tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Pending access records are flushed here, after in-flight requests drained.
	bgServices.Shutdown(ctx)

	slog.Info("server stopped gracefully")
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// startSideServer serves handler on an internal-only port with fixed timeouts.
func startSideServer(name, addr string, handler http.Handler, timeout time.Duration) {
	safego.Go(name+"-server", func() {
		slog.Info("starting "+name+" server", "addr", addr)
		srv := &http.Server{ // #nosec G112 -- internal-only port
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(name+" server error", "error", err)
		}
	})
}

func ensureAdmin(cfg *config.Config, store bootstrap.AdminStore) error {
	verifier, err := auth.NewVerifier(cfg.Auth.SecretMode, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	var shipper audit.Shipper
	multi, err := audit.NewMultiShipper(audit.ConfigsFromSettings(cfg.Audit))
	if err != nil {
		return fmt.Errorf("failed to initialize audit shippers: %w", err)
	}
	defer multi.Close()
	if multi.Len() > 0 {
		shipper = multi
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = bootstrap.EnsureAdmin(ctx, cfg.Admin, store, verifier, shipper)
	return err
}

func runBootstrap(cfg *config.Config) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	return ensureAdmin(cfg, repositories.NewAccountRepository(database))
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}
