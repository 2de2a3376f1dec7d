package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orbitchat/attribution/internal/api/router"
	"github.com/orbitchat/attribution/internal/app/bootstrap"
	"github.com/orbitchat/attribution/internal/attribution"
	appconfig "github.com/orbitchat/attribution/internal/config"
	"github.com/orbitchat/attribution/internal/conversations"
	"github.com/orbitchat/attribution/internal/conversions"
	"github.com/orbitchat/attribution/internal/events"
	"github.com/orbitchat/attribution/internal/leads"
	"github.com/orbitchat/attribution/internal/observability/metrics"
	"github.com/orbitchat/attribution/internal/orders"
	"github.com/orbitchat/attribution/pkg/logging"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting attribution API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := bootstrap.BuildDBPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	// Repositories
	leadsRepo := leads.NewPostgresRepository(pool)
	convoRepo := conversations.NewPostgresRepository(pool)
	conversionsRepo := conversions.NewRepository(pool)
	processedStore := events.NewProcessedStore(pool)
	transcripts := conversations.NewTranscriptProvider(convoRepo, redisClient, cfg.TranscriptCacheTTL, logger)

	// Core engine
	engine := attribution.NewEngine(leadsRepo, convoRepo, transcripts, logger)

	// Metrics
	attributionMetrics := metrics.NewAttributionMetrics(prometheus.DefaultRegisterer)

	// Handlers
	webhookHandler := orders.NewWebhookHandler(cfg.OrderWebhookSecret, engine, conversionsRepo, processedStore, attributionMetrics, logger)
	leadsHandler := leads.NewHandler(leadsRepo, logger)
	conversionsHandler := conversions.NewHandler(conversionsRepo, cfg.ConversionListMax, logger)

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		OrdersWebhook:      webhookHandler,
		LeadsHandler:       leadsHandler,
		ConversionsHandler: conversionsHandler,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
