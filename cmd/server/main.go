// Command server runs the CRM webhook ingestion service: the provider-facing
// webhook endpoint, the operator API over the retry queue, and the background
// retry scheduler.
//
// @title        CRM Webhook Ingestion API
// @version      1.0
// @description  Telephony webhook ingestion and reliable-delivery pipeline for the CRM backend.
// @BasePath     /api/v1
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/fieldlane/go-crm-webhooks/docs"
	"github.com/fieldlane/go-crm-webhooks/internal/config"
	httpapi "github.com/fieldlane/go-crm-webhooks/internal/http"
	"github.com/fieldlane/go-crm-webhooks/internal/media"
	"github.com/fieldlane/go-crm-webhooks/internal/observability"
	"github.com/fieldlane/go-crm-webhooks/internal/repo"
	"github.com/fieldlane/go-crm-webhooks/internal/services"
	"github.com/fieldlane/go-crm-webhooks/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			log.Error().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	if cfg.Webhook.SigningKey == "" {
		log.Warn().Msg("WEBHOOK_SIGNING_KEY not set, all deliveries will be rejected")
	}

	// Background replay of deferred events.
	resolver := media.New(cfg.Media.StorageHost, cfg.Media.ProbeTimeout, nil)
	scheduler := &services.RetryScheduler{
		DB: db,
		Ingest: &services.IngestService{
			DB:    db,
			Media: resolver,
			Retry: repo.RetryPolicy{
				MaxRetries:        cfg.Retry.MaxRetries,
				BaseDelaySeconds:  int(cfg.Retry.BaseDelay.Seconds()),
				BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			},
		},
		Interval: cfg.Retry.SweepInterval,
		Batch:    cfg.Retry.SweepBatch,
		Log:      log.With().Str("component", "retry_scheduler").Logger(),
	}
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("retry scheduler start failed")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
