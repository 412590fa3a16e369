package stripe

import (
	"context"

	"github.com/dineloop/dineloop/internal/domain/subscription"
	"github.com/dineloop/dineloop/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// subscriptionExpand pulls the fields toRemote needs in a single call.
var subscriptionExpand = []*string{
	stripe.String("customer"),
	stripe.String("items.data.price"),
	stripe.String("latest_invoice"),
	stripe.String("latest_invoice.confirmation_secret"),
}

func (g *stripeGateway) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*subscription.RemoteSubscription, error) {
	createParams := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionCreateItemParams{
			{Price: stripe.String(params.PriceID)},
		},
		ProrationBehavior: stripe.String(string(params.ProrationBehavior)),
		// The first invoice stays open until its payment confirms; the
		// client secret from the expanded invoice drives confirmation.
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionCreatePaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
		Expand: subscriptionExpand,
	}
	if params.DefaultPaymentMethodID != "" {
		createParams.DefaultPaymentMethod = stripe.String(params.DefaultPaymentMethodID)
	}
	if params.TrialEnd != nil {
		createParams.TrialEnd = stripe.Int64(params.TrialEnd.Unix())
	} else if params.TrialPeriodDays > 0 {
		createParams.TrialPeriodDays = stripe.Int64(params.TrialPeriodDays)
	}
	if len(params.Metadata) > 0 {
		createParams.Metadata = params.Metadata
	}

	sub, err := g.client.V1Subscriptions.Create(ctx, createParams)
	if err != nil {
		return nil, wrapProviderErr(err, "Could not create subscription", map[string]interface{}{
			"customer_id": params.CustomerID,
			"price_id":    params.PriceID,
		})
	}

	g.logger.Infow("created stripe subscription",
		"subscription_id", sub.ID,
		"customer_id", params.CustomerID,
		"price_id", params.PriceID,
		"status", sub.Status,
	)
	return toRemote(sub), nil
}

func (g *stripeGateway) UpdateSubscription(ctx context.Context, subscriptionID string, params UpdateSubscriptionParams) (*subscription.RemoteSubscription, error) {
	updateParams := &stripe.SubscriptionUpdateParams{
		Expand: subscriptionExpand,
	}
	if params.ProrationBehavior != "" {
		updateParams.ProrationBehavior = stripe.String(string(params.ProrationBehavior))
	}

	if params.PriceID != "" {
		// A price swap replaces the subscription's single item in place.
		itemID, err := g.currentItemID(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		updateParams.Items = []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(itemID),
				Price: stripe.String(params.PriceID),
			},
		}
	}

	switch params.BillingAnchor {
	case types.BillingAnchorNow:
		updateParams.BillingCycleAnchorNow = stripe.Bool(true)
	case types.BillingAnchorUnchanged:
		updateParams.BillingCycleAnchorUnchanged = stripe.Bool(true)
	}

	if params.TrialEndNow {
		updateParams.TrialEndNow = stripe.Bool(true)
	} else if params.TrialEnd != nil {
		updateParams.TrialEnd = stripe.Int64(params.TrialEnd.Unix())
	}
	if params.CancelAtPeriodEnd != nil {
		updateParams.CancelAtPeriodEnd = stripe.Bool(*params.CancelAtPeriodEnd)
	}
	if params.DefaultPaymentMethodID != "" {
		updateParams.DefaultPaymentMethod = stripe.String(params.DefaultPaymentMethodID)
	}
	if len(params.Metadata) > 0 {
		updateParams.Metadata = params.Metadata
	}

	sub, err := g.client.V1Subscriptions.Update(ctx, subscriptionID, updateParams)
	if err != nil {
		return nil, wrapProviderErr(err, "Could not update subscription", map[string]interface{}{
			"subscription_id": subscriptionID,
			"price_id":        params.PriceID,
		})
	}

	g.logger.Infow("updated stripe subscription",
		"subscription_id", sub.ID,
		"price_id", params.PriceID,
		"status", sub.Status,
	)
	return toRemote(sub), nil
}

func (g *stripeGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*subscription.RemoteSubscription, error) {
	params := &stripe.SubscriptionRetrieveParams{
		Expand: subscriptionExpand,
	}

	sub, err := g.client.V1Subscriptions.Retrieve(ctx, subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, nil
		}
		return nil, wrapProviderErr(err, "Could not retrieve subscription", map[string]interface{}{
			"subscription_id": subscriptionID,
		})
	}
	return toRemote(sub), nil
}

func (g *stripeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*subscription.RemoteSubscription, error) {
	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(true),
		Expand:            subscriptionExpand,
	}

	sub, err := g.client.V1Subscriptions.Update(ctx, subscriptionID, params)
	if err != nil {
		return nil, wrapProviderErr(err, "Could not schedule cancellation", map[string]interface{}{
			"subscription_id": subscriptionID,
		})
	}

	g.logger.Infow("scheduled subscription cancellation at period end",
		"subscription_id", subscriptionID,
	)
	return toRemote(sub), nil
}

func (g *stripeGateway) ClearCancelAtPeriodEnd(ctx context.Context, subscriptionID, defaultPaymentMethodID string) (*subscription.RemoteSubscription, error) {
	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(false),
		Expand:            subscriptionExpand,
	}
	if defaultPaymentMethodID != "" {
		params.DefaultPaymentMethod = stripe.String(defaultPaymentMethodID)
	}

	sub, err := g.client.V1Subscriptions.Update(ctx, subscriptionID, params)
	if err != nil {
		return nil, wrapProviderErr(err, "Could not resume subscription", map[string]interface{}{
			"subscription_id": subscriptionID,
		})
	}

	g.logger.Infow("cleared subscription cancellation",
		"subscription_id", subscriptionID,
	)
	return toRemote(sub), nil
}

// currentItemID resolves the single subscription item a price swap targets.
func (g *stripeGateway) currentItemID(ctx context.Context, subscriptionID string) (string, error) {
	sub, err := g.client.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return "", wrapProviderErr(err, "Could not retrieve subscription", map[string]interface{}{
			"subscription_id": subscriptionID,
		})
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", wrapProviderErr(
			&stripe.Error{Msg: "subscription has no items"},
			"Subscription has no billable item",
			map[string]interface{}{"subscription_id": subscriptionID},
		)
	}
	return sub.Items.Data[0].ID, nil
}
