package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/api/rest"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/app"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/config"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/integration/pipeline"
	stripeclient "github.com/iapessoastecnologia/CredAnalyzer-backend/internal/integration/stripe"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/kafka"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/ledger"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/metrics"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/repository"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.New(cfg.App.Env)
	defer log.Sync()

	log.Infow("Credit ledger service starting up", "env", cfg.App.Env)

	if cfg.Stripe.APIKey == "" {
		log.Warn("Stripe API key is not set")
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn("Stripe webhook secret is not set, webhook verification will fail")
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := repository.RunMigrations(cfg.Database.DSN, log); err != nil {
		log.Fatalw("Failed to run database migrations", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := repository.NewPostgresStore(ctx, cfg.Database.DSN, cfg.Database.QueryTimeout, log)
	cancel()
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer store.Close()
	log.Info("Database connection established")

	var ledgerStore repository.Store = store
	cache, err := repository.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
	} else {
		defer cache.Close()
		ledgerStore = repository.NewCachedStore(store, cache, log)
		log.Info("Redis cache initialized")
	}

	history, err := repository.NewHistoryRepository(cfg.Database.DSN, log)
	if err != nil {
		log.Fatalw("Failed to initialize payment history repository", "error", err)
	}
	defer history.Close()

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, log)
	if err != nil {
		log.Warnw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		producer = kafka.NopProducer{}
	}
	defer func() {
		if err := producer.Close(); err != nil {
			log.Errorw("Error closing Kafka producer", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	engine := ledger.NewEngine(ledgerStore, producer, ledgerMetrics, log)
	gate := ledger.NewGate(engine, log)

	stripeClient := stripeclient.NewClient(
		cfg.Stripe.APIKey, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL, log)
	reportPipeline := pipeline.NewClient(cfg.Pipeline.URL, cfg.Pipeline.Timeout, log)

	application, err := app.NewApp(cfg, app.Dependencies{
		Engine:   engine,
		Gate:     gate,
		Store:    ledgerStore,
		History:  history,
		Stripe:   stripeClient,
		Pipeline: reportPipeline,
		Catalog:  domain.DefaultPlanCatalog(),
		Metrics:  ledgerMetrics,
	}, log)
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}

	router := rest.SetupRouter(
		log,
		registry,
		application.AuthMiddleware,
		application.SubscriptionHandler,
		application.WebhookHandler,
		application.CardHandler,
	)
	server := rest.NewServer(cfg, router, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalw("HTTP server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Info("HTTP server gracefully stopped")
	}
}
