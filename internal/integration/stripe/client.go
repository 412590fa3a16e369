package stripe

import (
	"time"

	"github.com/dineloop/dineloop/internal/config"
	"github.com/dineloop/dineloop/internal/domain/subscription"
	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/dineloop/dineloop/internal/logger"
	"github.com/stripe/stripe-go/v82"
)

// stripeGateway implements Gateway against the Stripe API client.
type stripeGateway struct {
	client *stripe.Client
	cfg    *config.Configuration
	logger *logger.Logger
}

// NewGateway creates a Gateway backed by the configured Stripe account.
func NewGateway(cfg *config.Configuration, logger *logger.Logger) Gateway {
	return &stripeGateway{
		client: stripe.NewClient(cfg.Stripe.SecretKey, nil),
		cfg:    cfg,
		logger: logger,
	}
}

// wrapProviderErr marks a provider failure so the HTTP layer maps it to 402,
// keeping the provider's own message and code available for support.
func wrapProviderErr(err error, msg string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	if stripeErr, ok := err.(*stripe.Error); ok {
		details["provider_code"] = string(stripeErr.Code)
		details["provider_message"] = stripeErr.Msg
	} else {
		details["provider_message"] = err.Error()
	}
	return ierr.WithError(err).
		WithHint(msg).
		WithReportableDetails(details).
		Mark(ierr.ErrPaymentProcessing)
}

func isResourceMissing(err error) bool {
	stripeErr, ok := err.(*stripe.Error)
	return ok && stripeErr.Code == stripe.ErrorCodeResourceMissing
}

// toRemote flattens a Stripe subscription into the snapshot the reconciler
// consumes. The billing period lives on the subscription item.
func toRemote(sub *stripe.Subscription) *subscription.RemoteSubscription {
	if sub == nil {
		return nil
	}

	remote := &subscription.RemoteSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		remote.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		remote.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		remote.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			remote.PriceID = item.Price.ID
		}
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		remote.TrialEnd = &trialEnd
	}
	if sub.CanceledAt > 0 {
		canceledAt := time.Unix(sub.CanceledAt, 0).UTC()
		remote.CanceledAt = &canceledAt
	}
	if sub.LatestInvoice != nil {
		remote.LatestInvoiceID = sub.LatestInvoice.ID
		if sub.LatestInvoice.ConfirmationSecret != nil {
			remote.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
		}
	}
	return remote
}
