package stripe

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v82"
)

// EnsureCustomer reuses the linked customer when it still resolves remotely
// and creates one otherwise. A stored id pointing at a deleted customer is
// replaced rather than failing the whole transition.
func (g *stripeGateway) EnsureCustomer(ctx context.Context, existingCustomerID, userID, email string) (string, error) {
	if existingCustomerID != "" {
		customer, err := g.client.V1Customers.Retrieve(ctx, existingCustomerID, nil)
		if err == nil && customer != nil && !customer.Deleted {
			return customer.ID, nil
		}
		if err != nil && !isResourceMissing(err) {
			return "", wrapProviderErr(err, "Could not verify existing billing customer", map[string]interface{}{
				"customer_id": existingCustomerID,
			})
		}
		g.logger.Warnw("stored customer no longer exists in stripe, creating a new one",
			"customer_id", existingCustomerID,
			"user_id", userID,
		)
	}

	params := &stripe.CustomerCreateParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"user_id": userID,
		},
	}

	customer, err := g.client.V1Customers.Create(ctx, params)
	if err != nil {
		return "", wrapProviderErr(err, "Could not create billing customer", map[string]interface{}{
			"user_id": userID,
		})
	}

	g.logger.Infow("created stripe customer",
		"customer_id", customer.ID,
		"user_id", userID,
	)
	return customer.ID, nil
}

// AttachPaymentMethod attaches the payment method to the customer. Stripe
// rejects re-attaching a method that is already attached; that case is
// treated as success and the method is retrieved for its card details.
func (g *stripeGateway) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethodInfo, error) {
	attachParams := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}

	pm, err := g.client.V1PaymentMethods.Attach(ctx, paymentMethodID, attachParams)
	if err != nil {
		if !isAlreadyAttached(err) {
			return nil, wrapProviderErr(err, "Could not attach payment method", map[string]interface{}{
				"payment_method_id": paymentMethodID,
				"customer_id":       customerID,
			})
		}
		pm, err = g.client.V1PaymentMethods.Retrieve(ctx, paymentMethodID, nil)
		if err != nil {
			return nil, wrapProviderErr(err, "Could not retrieve payment method", map[string]interface{}{
				"payment_method_id": paymentMethodID,
			})
		}
	}

	info := &PaymentMethodInfo{ID: pm.ID}
	if pm.Card != nil {
		info.CardFingerprint = pm.Card.Fingerprint
		info.CardBrand = string(pm.Card.Brand)
		info.CardLast4 = pm.Card.Last4
	}
	return info, nil
}

func isAlreadyAttached(err error) bool {
	stripeErr, ok := err.(*stripe.Error)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(stripeErr.Msg), "already been attached")
}

func (g *stripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerUpdateParams{
		InvoiceSettings: &stripe.CustomerUpdateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}

	_, err := g.client.V1Customers.Update(ctx, customerID, params)
	if err != nil {
		return wrapProviderErr(err, "Could not set default payment method", map[string]interface{}{
			"customer_id":       customerID,
			"payment_method_id": paymentMethodID,
		})
	}
	return nil
}
