package service

import (
	"context"
	"time"

	"github.com/dineloop/dineloop/internal/cache"
	"github.com/dineloop/dineloop/internal/config"
	"github.com/dineloop/dineloop/internal/domain/invoice"
	"github.com/dineloop/dineloop/internal/domain/subscription"
	stripeint "github.com/dineloop/dineloop/internal/integration/stripe"
	"github.com/dineloop/dineloop/internal/logger"
	"github.com/dineloop/dineloop/internal/postgres"
)

// ServiceParams holds the dependencies common to all services.
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	// DB is nil in unit tests; services fall back to non-transactional
	// writes against the in-memory stores.
	DB    *postgres.DB
	Cache cache.Cache

	SubscriptionRepo subscription.Repository
	InvoiceRepo      invoice.Repository
	Gateway          stripeint.Gateway

	// TimeNow overrides the clock in tests.
	TimeNow func() time.Time
}

// NewServiceParams assembles the shared dependency bundle for DI wiring.
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db *postgres.DB,
	cache cache.Cache,
	subscriptionRepo subscription.Repository,
	invoiceRepo invoice.Repository,
	gateway stripeint.Gateway,
) ServiceParams {
	return ServiceParams{
		Logger:           logger,
		Config:           config,
		DB:               db,
		Cache:            cache,
		SubscriptionRepo: subscriptionRepo,
		InvoiceRepo:      invoiceRepo,
		Gateway:          gateway,
	}
}

func (p ServiceParams) now() time.Time {
	if p.TimeNow != nil {
		return p.TimeNow().UTC()
	}
	return time.Now().UTC()
}

// withTx runs fn inside a database transaction when a DB is wired, and
// directly otherwise.
func (p ServiceParams) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.DB == nil {
		return fn(ctx)
	}
	return p.DB.WithTx(ctx, fn)
}
