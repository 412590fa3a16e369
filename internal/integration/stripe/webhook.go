package stripe

import (
	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// VerifyWebhookEvent verifies the Stripe-Signature header and parses the
// event. API version mismatch is ignored so SDK upgrades do not start
// rejecting deliveries.
func (g *stripeGateway) VerifyWebhookEvent(payload []byte, signature, secret string) (*stripe.Event, error) {
	options := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, options)
	if err != nil {
		g.logger.Errorw("stripe webhook verification failed", "error", err)
		return nil, ierr.WithError(err).
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrWebhookSignature)
	}
	return &event, nil
}
