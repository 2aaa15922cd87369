package app

import (
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/api/rest/handlers"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/config"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	stripeclient "github.com/iapessoastecnologia/CredAnalyzer-backend/internal/integration/stripe"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/ledger"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/metrics"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/middleware"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/repository"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/webhook"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"
)

// App is the container for the wired application components.
type App struct {
	Config              *config.Config
	SubscriptionHandler *handlers.SubscriptionHandler
	WebhookHandler      *handlers.WebhookHandler
	CardHandler         *handlers.CardHandler
	AuthMiddleware      *middleware.JWTMiddleware
	Logger              *logger.Logger
}

// Dependencies carries the infrastructure components main wires up.
type Dependencies struct {
	Engine   *ledger.Engine
	Gate     *ledger.Gate
	Store    repository.Store
	History  *repository.HistoryRepository
	Stripe   stripeclient.Client
	Pipeline handlers.ReportPipeline
	Catalog  domain.PlanCatalog
	Metrics  metrics.LedgerMetrics
}

// NewApp builds the HTTP-facing components on top of the wired infrastructure.
func NewApp(cfg *config.Config, deps Dependencies, log *logger.Logger) (*App, error) {
	verifier, err := webhook.NewVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance, log)
	if err != nil {
		return nil, err
	}
	dispatcher := webhook.NewDispatcher(deps.Engine, deps.Stripe, deps.Catalog, deps.Metrics, log)

	authMiddleware, err := middleware.NewJWTMiddleware(cfg, log)
	if err != nil {
		return nil, err
	}

	subscriptionHandler := handlers.NewSubscriptionHandler(
		deps.Engine, deps.History, deps.Gate, deps.Pipeline, deps.Stripe, deps.Catalog, log)
	webhookHandler := handlers.NewWebhookHandler(verifier, dispatcher, log)
	cardHandler := handlers.NewCardHandler(deps.Store, deps.Engine, deps.Stripe, log)

	return &App{
		Config:              cfg,
		SubscriptionHandler: subscriptionHandler,
		WebhookHandler:      webhookHandler,
		CardHandler:         cardHandler,
		AuthMiddleware:      authMiddleware,
		Logger:              log,
	}, nil
}
