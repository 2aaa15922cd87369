package rest

import (
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/api/rest/handlers"
	restmiddleware "github.com/iapessoastecnologia/CredAnalyzer-backend/internal/api/rest/middleware"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/middleware"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter wires middleware and routes. The webhook route is open --
// Stripe authenticates with its signature; user-scoped routes require a
// bearer token.
func SetupRouter(
	log *logger.Logger,
	registry *prometheus.Registry,
	auth *middleware.JWTMiddleware,
	subscriptionHandler *handlers.SubscriptionHandler,
	webhookHandler *handlers.WebhookHandler,
	cardHandler *handlers.CardHandler,
) *gin.Engine {
	r := gin.New()

	r.Use(restmiddleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	r.GET("/health", handlers.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.POST("/webhook", webhookHandler.HandleStripeWebhook)

			subscriptions.POST("/customer", auth.RequireAuth(), subscriptionHandler.LinkCustomer)
			subscriptions.POST("/checkout", auth.RequireAuth(), subscriptionHandler.Checkout)
			subscriptions.POST("/subscribe", auth.RequireAuth(), subscriptionHandler.Subscribe)
			subscriptions.POST("/pix", auth.RequireAuth(), subscriptionHandler.Pix)

			subscriptions.GET("/:userId", auth.RequireAuth(), subscriptionHandler.GetSubscription)
			subscriptions.POST("/:userId/consume", auth.RequireAuth(), subscriptionHandler.ConsumeCredit)
			subscriptions.GET("/:userId/history", auth.RequireAuth(), subscriptionHandler.History)
			subscriptions.POST("/:userId/reports", auth.RequireAuth(), subscriptionHandler.GenerateReport)
		}

		cards := v1.Group("/cards", auth.RequireAuth())
		{
			cards.GET("/:userId", cardHandler.ListCards)
			cards.POST("", cardHandler.AddCard)
			cards.DELETE("/:userId/:cardId", cardHandler.RemoveCard)
			cards.PUT("/default", cardHandler.SetDefaultCard)
		}
	}

	return r
}
