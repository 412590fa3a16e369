package api

import (
	"github.com/dineloop/dineloop/internal/api/v1"
	"github.com/dineloop/dineloop/internal/auth"
	"github.com/dineloop/dineloop/internal/config"
	"github.com/dineloop/dineloop/internal/logger"
	"github.com/dineloop/dineloop/internal/rest/middleware"
	"github.com/dineloop/dineloop/internal/sentry"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health       *v1.HealthHandler
	Subscription *v1.SubscriptionHandler
	Webhook      *v1.WebhookHandler
}

func NewRouter(
	handlers Handlers,
	cfg *config.Configuration,
	authService auth.Service,
	sentrySvc *sentry.Service,
	logger *logger.Logger,
) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.CORSMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.ErrorHandler(sentrySvc),
	)

	router.GET("/health", handlers.Health.Health)

	v1Group := router.Group("/v1")

	// Webhooks authenticate by signature, not bearer token.
	v1Group.POST("/webhooks/stripe", handlers.Webhook.HandleStripeWebhook)

	private := v1Group.Group("", middleware.AuthenticateMiddleware(authService, logger))
	registerSubscriptionRoutes(private, handlers)

	return router
}

func registerSubscriptionRoutes(router *gin.RouterGroup, handlers Handlers) {
	subscriptions := router.Group("/subscriptions")
	{
		subscriptions.POST("", handlers.Subscription.CreateOrChangeSubscription)
		subscriptions.GET("/current", handlers.Subscription.GetCurrentSubscription)
		subscriptions.POST("/cancel", handlers.Subscription.CancelSubscription)
		subscriptions.POST("/reactivate", handlers.Subscription.ReactivateSubscription)
		subscriptions.POST("/preview", handlers.Subscription.PreviewPlanChange)
		subscriptions.GET("/invoices", handlers.Subscription.ListInvoices)
	}
}
