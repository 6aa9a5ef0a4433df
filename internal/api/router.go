// Package api wires together all HTTP routes for scriptgate.
//
// Route grouping:
//   - The delivery route (default /script.js) is public. Callers authenticate
//     with query credentials and every attempt is recorded by the gate.
//   - /api/v1/auth/login exchanges admin credentials for a session token.
//   - /api/v1/admin/* requires that token and is audited.
//   - /health, /ready and /version are unauthenticated probes.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/scriptgate/scriptgate/internal/access"
	"github.com/scriptgate/scriptgate/internal/api/admin"
	"github.com/scriptgate/scriptgate/internal/api/delivery"
	"github.com/scriptgate/scriptgate/internal/audit"
	"github.com/scriptgate/scriptgate/internal/auth"
	"github.com/scriptgate/scriptgate/internal/config"
	"github.com/scriptgate/scriptgate/internal/content"
	"github.com/scriptgate/scriptgate/internal/db/repositories"
	"github.com/scriptgate/scriptgate/internal/middleware"
	"github.com/scriptgate/scriptgate/internal/safego"
	"github.com/scriptgate/scriptgate/internal/storage"

	// Import storage backends to register them
	_ "github.com/scriptgate/scriptgate/internal/storage/azure"
	_ "github.com/scriptgate/scriptgate/internal/storage/gcs"
	_ "github.com/scriptgate/scriptgate/internal/storage/local"
	_ "github.com/scriptgate/scriptgate/internal/storage/s3"
)

// Version is reported by /version. Overridden at build time with -ldflags.
var Version = "0.1.0"

// stopper is implemented by the in-process and Redis rate limiters.
type stopper interface {
	Stop()
}

// BackgroundServices holds references to background work and resources that must
// be released during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	rateLimiters []stopper
	stopWatch    context.CancelFunc
	recorder     *access.Recorder
	shipper      audit.Shipper
	redis        *redis.Client
}

// Shutdown stops background goroutines and flushes pending access records.
// It should be called after the HTTP server has been shut down so that
// in-flight deliveries have queued their records first.
func (bg *BackgroundServices) Shutdown(ctx context.Context) {
	slog.Info("stopping background services")
	if bg.stopWatch != nil {
		bg.stopWatch()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.recorder != nil {
		if err := bg.recorder.Wait(ctx); err != nil {
			slog.Warn("access records still pending at shutdown", "error", err)
		}
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	if bg.redis != nil {
		if err := bg.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router together with the delivery
// core it serves.
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	bg := &BackgroundServices{}

	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	verifier, err := auth.NewVerifier(cfg.Auth.SecretMode, cfg.Auth.BcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize secret verifier: %w", err)
	}
	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	shipper, err := newAuditShipper(cfg)
	if err != nil {
		return nil, nil, err
	}
	bg.shipper = shipper

	// Repositories
	accountRepo := repositories.NewAccountRepository(db)
	sqlxDB := sqlx.NewDb(db, "postgres")
	recordRepo := repositories.NewAccessRecordRepository(sqlxDB)

	// Delivery core
	source := content.NewSource(storageBackend, cfg.Delivery.ObjectKey, cfg.Delivery.CacheTTL)
	renderer, err := content.NewRenderer(source, cfg.Delivery.TransformMode, cfg.Delivery.Banner)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize renderer: %w", err)
	}
	recorder := access.NewRecorder(recordRepo, shipper, access.RecorderOptions{
		Timeout:     cfg.AccessLog.RecordTimeout,
		DefaultPage: cfg.AccessLog.DefaultPage,
	})
	bg.recorder = recorder
	gate := access.NewGate(access.NewAuthorizer(accountRepo, verifier), access.NewLedger(accountRepo), recorder, renderer)

	if cfg.Delivery.Watch {
		watchCtx, cancel := context.WithCancel(context.Background())
		bg.stopWatch = cancel
		safego.Go("content-watch", func() {
			if err := source.Watch(watchCtx); err != nil {
				slog.Warn("script watcher stopped", "error", err)
			}
		})
	}

	// Redis is optional; without it rate limits are per replica.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bg.redis = redisClient
	}

	// Rate limiters
	authRateLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
	adminRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	bg.rateLimiters = append(bg.rateLimiters, authRateLimiter, adminRateLimiter)

	deliveryLimitCfg := middleware.DeliveryRateLimitConfig(
		cfg.Security.RateLimiting.RequestsPerMinute, cfg.Security.RateLimiting.Burst)
	var deliveryRateLimiter middleware.Limiter
	if redisClient != nil {
		rl := middleware.NewRedisRateLimiter(redisClient, deliveryLimitCfg)
		bg.rateLimiters = append(bg.rateLimiters, rl)
		deliveryRateLimiter = rl
	} else {
		rl := middleware.NewRateLimiter(deliveryLimitCfg)
		bg.rateLimiters = append(bg.rateLimiters, rl)
		deliveryRateLimiter = rl
	}

	// Handlers
	deliveryHandler := delivery.NewHandler(gate, cfg.Delivery)
	authHandlers := admin.NewAuthHandlers(db, verifier, issuer)
	accountHandlers := admin.NewAccountHandlers(cfg, db, verifier)
	recordHandlers := admin.NewAccessRecordHandlers(sqlxDB)
	contentHandlers := admin.NewContentHandlers(source)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, source, redisClient))
	router.GET("/version", versionHandler())

	// Public delivery route. Embedded cross-origin by <script src>, so it gets
	// its own header set and no CORS handling.
	deliveryGroup := router.Group("")
	deliveryGroup.Use(middleware.SecurityHeadersMiddleware(middleware.DeliverySecurityHeadersConfig()))
	if cfg.Security.RateLimiting.Enabled {
		deliveryGroup.Use(middleware.RateLimitMiddleware(deliveryRateLimiter))
	}
	deliveryGroup.GET(cfg.Delivery.Route, deliveryHandler.ServeScript())

	apiV1 := router.Group("/api/v1")
	apiV1.Use(CORSMiddleware(cfg))
	apiV1.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	{
		// Lets CORSMiddleware answer preflight requests for any admin path.
		apiV1.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		authGroup := apiV1.Group("/auth")
		authGroup.Use(middleware.RateLimitMiddleware(authRateLimiter))
		authGroup.Use(middleware.AuditMiddleware(shipper))
		{
			authGroup.POST("/login", authHandlers.LoginHandler())
		}

		adminGroup := apiV1.Group("/admin")
		adminGroup.Use(middleware.RateLimitMiddleware(adminRateLimiter))
		adminGroup.Use(middleware.AdminAuth(issuer, accountRepo))
		adminGroup.Use(middleware.AuditMiddleware(shipper))
		{
			adminGroup.GET("/me", authHandlers.MeHandler())

			adminGroup.GET("/accounts", accountHandlers.ListAccountsHandler())
			adminGroup.POST("/accounts", accountHandlers.CreateAccountHandler())
			adminGroup.GET("/accounts/:id", accountHandlers.GetAccountHandler())
			adminGroup.PUT("/accounts/:id", accountHandlers.UpdateAccountHandler())
			adminGroup.DELETE("/accounts/:id", accountHandlers.DeleteAccountHandler())
			adminGroup.POST("/accounts/:id/topup", accountHandlers.TopUpHandler())

			adminGroup.GET("/access-records", recordHandlers.ListAccessRecordsHandler())
			adminGroup.DELETE("/access-records", recordHandlers.PurgeAccessRecordsHandler())
			adminGroup.GET("/stats", recordHandlers.StatsHandler())
			adminGroup.GET("/stats/daily", recordHandlers.DailyUsageHandler())

			adminGroup.GET("/content", contentHandlers.MetadataHandler())
			adminGroup.PUT("/content", contentHandlers.PublishHandler())
		}
	}

	return router, bg, nil
}

// newAuditShipper returns nil when no shipper is enabled so that callers can
// skip shipping with a plain nil check.
func newAuditShipper(cfg *config.Config) (audit.Shipper, error) {
	multi, err := audit.NewMultiShipper(audit.ConfigsFromSettings(cfg.Audit))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
	}
	if multi.Len() == 0 {
		return nil, nil
	}
	slog.Info("audit shipping enabled", "destinations", multi.Len())
	return multi, nil
}

// pinger is satisfied by *sql.DB.
type pinger interface {
	PingContext(ctx context.Context) error
}

// prober reports whether the script object is reachable.
type prober interface {
	Probe(ctx context.Context) error
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to deliver: database reachable, script present in storage, Redis reachable when enabled.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks: map, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks: map, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks that the script can be
// served, so a readiness gate fails while no script has been published.
func readinessHandler(db pinger, source prober, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{}

		notReady := func(check, msg string) {
			checks[check] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  msg,
			})
		}

		if err := db.PingContext(ctx); err != nil {
			notReady("database", "database not ready")
			return
		}
		checks["database"] = "healthy"

		if err := source.Probe(ctx); err != nil {
			slog.Warn("readiness: script not available", "error", err)
			notReady("storage", "script not available in storage")
			return
		}
		checks["storage"] = "healthy"

		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				notReady("redis", "redis not ready")
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware emits one structured record per request. The query string
// is never logged: on the delivery route it carries account secrets.
// slog emits text or JSON according to the handler installed by telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", c.GetString(middleware.RequestIDKey)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS for the admin API
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			methods := "GET, POST, PUT, DELETE, OPTIONS"
			if len(cfg.Security.CORS.AllowedMethods) > 0 {
				methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
