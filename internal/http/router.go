// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Provider traffic privileged: the webhook route is exempt from rate
//     limiting and compression so deliveries are never throttled
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swagFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/fieldlane/go-crm-webhooks/internal/config"
	"github.com/fieldlane/go-crm-webhooks/internal/http/handlers"
	"github.com/fieldlane/go-crm-webhooks/internal/http/middleware"
	"github.com/fieldlane/go-crm-webhooks/internal/media"
	"github.com/fieldlane/go-crm-webhooks/internal/repo"
	"github.com/fieldlane/go-crm-webhooks/internal/services"
	"github.com/fieldlane/go-crm-webhooks/internal/webhook"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with phone/email/signature scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (provider payload cap)
//  6. Metrics
//  7. CORS and security headers
//
// The rate limiter and gzip compression apply only to the operator API
// group; the webhook ingestion route bypasses both.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with PII and signature redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(cfg.Webhook.MaxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", handlers.HeaderSignature},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/resolver
	resolver := media.New(cfg.Media.StorageHost, cfg.Media.ProbeTimeout, nil)
	ingestSvc := &services.IngestService{
		DB:    db,
		Media: resolver,
		Retry: repo.RetryPolicy{
			MaxRetries:        cfg.Retry.MaxRetries,
			BaseDelaySeconds:  int(cfg.Retry.BaseDelay.Seconds()),
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		},
	}
	failedSvc := &services.FailedEventService{DB: db}
	maintSvc := &services.MaintenanceService{DB: db, Media: resolver}
	verifier := &webhook.Verifier{Key: cfg.Webhook.SigningKey}

	h := handlers.New(verifier, ingestSvc, failedSvc, maintSvc)

	// Provider ingestion: no rate limiting, no compression. Throttling the
	// provider only multiplies its retries.
	r.POST("/webhooks/telephony", h.HandleWebhook)

	// Operator API
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(rl.Handler())
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/failed-events", h.ListFailedEvents)
		api.POST("/failed-events/:id/resolve", h.ResolveFailedEvent)
		api.POST("/failed-events/:id/requeue", h.RequeueFailedEvent)
		api.POST("/maintenance/attachments/repair", h.RepairAttachments)
	}

	// API documentation (generated; see docs package)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swagFiles.Handler))
	}
}

// limitBody caps the request body size using http.MaxBytesReader. Requests
// exceeding the cap cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
