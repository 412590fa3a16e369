package main

import (
	"context"
	"time"

	"github.com/dineloop/dineloop/internal/api"
	v1 "github.com/dineloop/dineloop/internal/api/v1"
	"github.com/dineloop/dineloop/internal/auth"
	"github.com/dineloop/dineloop/internal/cache"
	"github.com/dineloop/dineloop/internal/config"
	stripeint "github.com/dineloop/dineloop/internal/integration/stripe"
	"github.com/dineloop/dineloop/internal/logger"
	"github.com/dineloop/dineloop/internal/postgres"
	repo "github.com/dineloop/dineloop/internal/repository/postgres"
	"github.com/dineloop/dineloop/internal/sentry"
	"github.com/dineloop/dineloop/internal/service"
	"github.com/dineloop/dineloop/internal/validator"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

// @title DineLoop Billing API
// @version 1.0
// @description Subscription billing and reconciliation service
// @BasePath /v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func init() {
	// All stored timestamps and period math are UTC.
	time.Local = time.UTC
}

func main() {
	app := fx.New(
		fx.Provide(
			// Validator
			validator.NewValidator,

			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Monitoring
			sentry.NewSentryService,

			// Cache
			cache.Initialize,

			// Postgres
			postgres.NewDB,

			// Auth
			auth.NewService,

			// Billing provider
			stripeint.NewGateway,

			// Repositories
			repo.NewSubscriptionRepository,
			repo.NewInvoiceRepository,

			// Services
			service.NewServiceParams,
			service.NewSubscriptionService,
			service.NewInvoiceSyncService,
			service.NewWebhookService,

			// HTTP
			provideHandlers,
			provideRouter,
		),
		fx.Invoke(
			sentry.RegisterHooks,
			startAPIServer,
		),
	)
	app.Run()
}

func provideHandlers(
	logger *logger.Logger,
	subscriptionService service.SubscriptionService,
	invoiceSyncService service.InvoiceSyncService,
	webhookService service.WebhookService,
) api.Handlers {
	return api.Handlers{
		Health:       v1.NewHealthHandler(logger),
		Subscription: v1.NewSubscriptionHandler(subscriptionService, invoiceSyncService, logger),
		Webhook:      v1.NewWebhookHandler(webhookService, logger),
	}
}

func provideRouter(
	handlers api.Handlers,
	cfg *config.Configuration,
	authService auth.Service,
	sentrySvc *sentry.Service,
	logger *logger.Logger,
) *gin.Engine {
	return api.NewRouter(handlers, cfg, authService, sentrySvc, logger)
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	db *postgres.DB,
	log *logger.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("Starting API server...", "address", cfg.Server.Address)
			go func() {
				if err := r.Run(cfg.Server.Address); err != nil {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			db.Close()
			return nil
		},
	})
}
