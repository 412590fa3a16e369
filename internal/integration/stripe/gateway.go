package stripe

import (
	"context"
	"time"

	"github.com/dineloop/dineloop/internal/domain/subscription"
	"github.com/dineloop/dineloop/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// Gateway is the narrow surface the billing services use to talk to Stripe.
// Every method that mutates remote state takes explicit proration and anchor
// choices; provider defaults are never relied on. Implementations translate
// provider failures into errors marked ierr.ErrPaymentProcessing with the
// provider message preserved.
type Gateway interface {
	// EnsureCustomer returns an existing linked customer id after verifying
	// it still resolves remotely, or creates a new customer for the user.
	EnsureCustomer(ctx context.Context, existingCustomerID, userID, email string) (string, error)

	// AttachPaymentMethod attaches the payment method to the customer and
	// returns its card details. An "already attached" rejection is not an
	// error; the payment method is retrieved instead.
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethodInfo, error)

	// SetDefaultPaymentMethod makes the payment method the customer's
	// default for invoice payments.
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*subscription.RemoteSubscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, params UpdateSubscriptionParams) (*subscription.RemoteSubscription, error)

	// RetrieveSubscription returns (nil, nil) when the subscription no
	// longer exists remotely, so callers can distinguish "gone" from
	// transport failure.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*subscription.RemoteSubscription, error)

	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*subscription.RemoteSubscription, error)
	ClearCancelAtPeriodEnd(ctx context.Context, subscriptionID, defaultPaymentMethodID string) (*subscription.RemoteSubscription, error)

	// PreviewPlanChange runs an upcoming-invoice dry run for a price switch.
	// It has no side effects on the subscription.
	PreviewPlanChange(ctx context.Context, params PreviewParams) (*InvoicePreview, error)

	RetrieveInvoice(ctx context.Context, invoiceID string) (*stripe.Invoice, error)
	RetrievePrice(ctx context.Context, priceID string) (*stripe.Price, error)

	// VerifyWebhookEvent checks the Stripe-Signature header against the
	// endpoint secret and returns the parsed event.
	VerifyWebhookEvent(payload []byte, signature, secret string) (*stripe.Event, error)
}

// PaymentMethodInfo carries the card details the trial-abuse guard and the
// stored row need. Fingerprint is stable across tokenizations of the same
// physical card.
type PaymentMethodInfo struct {
	ID              string
	CardFingerprint string
	CardBrand       string
	CardLast4       string
}

type CreateSubscriptionParams struct {
	CustomerID             string
	PriceID                string
	DefaultPaymentMethodID string
	// TrialEnd pins the trial to an absolute instant; TrialPeriodDays is the
	// relative alternative. At most one is set.
	TrialEnd          *time.Time
	TrialPeriodDays   int64
	ProrationBehavior types.ProrationBehavior
	Metadata          map[string]string
}

type UpdateSubscriptionParams struct {
	// PriceID, when set, swaps the subscription's single item to this price.
	PriceID           string
	ProrationBehavior types.ProrationBehavior
	BillingAnchor     types.BillingAnchor
	// TrialEndNow ends an in-progress trial immediately (trial-to-paid).
	TrialEndNow            bool
	TrialEnd               *time.Time
	CancelAtPeriodEnd      *bool
	DefaultPaymentMethodID string
	Metadata               map[string]string
}

type PreviewParams struct {
	CustomerID        string
	SubscriptionID    string
	NewPriceID        string
	ProrationBehavior types.ProrationBehavior
}

// InvoicePreview is the dry-run result of a plan change. All amounts are
// integer minor units as returned by the provider.
type InvoicePreview struct {
	Currency           string
	AmountDue          int64
	Subtotal           int64
	Tax                int64
	Total              int64
	Lines              []PreviewLine
	NextPaymentAttempt *time.Time
}

type PreviewLine struct {
	Description string
	Amount      int64
	Proration   bool
	PeriodStart time.Time
	PeriodEnd   time.Time
}
