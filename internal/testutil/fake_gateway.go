package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dineloop/dineloop/internal/domain/subscription"
	ierr "github.com/dineloop/dineloop/internal/errors"
	stripegw "github.com/dineloop/dineloop/internal/integration/stripe"
	"github.com/dineloop/dineloop/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// Interval is the billing length the fake applies for a price id.
type Interval struct {
	Years  int
	Months int
	Days   int
}

// FakeGateway is a scripted in-memory Gateway. It keeps remote subscription
// state between calls so transition tests can drive a full lifecycle, and it
// records every method invoked so tests can assert that a path made no
// remote calls.
type FakeGateway struct {
	mu sync.Mutex

	// Now is the fake's clock; periods are derived from it.
	Now time.Time
	// Fingerprints maps payment method ids to card fingerprints.
	Fingerprints map[string]string
	// Intervals maps price ids to billing intervals. Unknown prices default
	// to one month.
	Intervals map[string]Interval
	// Subscriptions is remote state keyed by subscription id.
	Subscriptions map[string]*subscription.RemoteSubscription
	// Preview is returned by PreviewPlanChange when set.
	Preview  *stripegw.InvoicePreview
	Invoices map[string]*stripe.Invoice
	Prices   map[string]*stripe.Price
	// Errs injects a failure for a method by name.
	Errs map[string]error
	// Calls records method names in invocation order.
	Calls []string

	customerSeq int
	subSeq      int
}

func NewFakeGateway(now time.Time) *FakeGateway {
	return &FakeGateway{
		Now:           now,
		Fingerprints:  make(map[string]string),
		Intervals:     make(map[string]Interval),
		Subscriptions: make(map[string]*subscription.RemoteSubscription),
		Invoices:      make(map[string]*stripe.Invoice),
		Prices:        make(map[string]*stripe.Price),
		Errs:          make(map[string]error),
	}
}

func (g *FakeGateway) call(name string) error {
	g.Calls = append(g.Calls, name)
	return g.Errs[name]
}

// CalledMethods returns the recorded call names.
func (g *FakeGateway) CalledMethods() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.Calls))
	copy(out, g.Calls)
	return out
}

// DeleteRemote removes remote state, simulating a fully canceled and purged
// subscription.
func (g *FakeGateway) DeleteRemote(subscriptionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.Subscriptions, subscriptionID)
}

// SetRemoteStatus overrides the stored status for a subscription id.
func (g *FakeGateway) SetRemoteStatus(subscriptionID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if remote, ok := g.Subscriptions[subscriptionID]; ok {
		remote.Status = status
	}
}

func (g *FakeGateway) intervalFor(priceID string) Interval {
	if interval, ok := g.Intervals[priceID]; ok {
		return interval
	}
	return Interval{Months: 1}
}

func copyRemote(remote *subscription.RemoteSubscription) *subscription.RemoteSubscription {
	cp := *remote
	return &cp
}

func (g *FakeGateway) EnsureCustomer(ctx context.Context, existingCustomerID, userID, email string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("EnsureCustomer"); err != nil {
		return "", err
	}
	if existingCustomerID != "" {
		return existingCustomerID, nil
	}
	g.customerSeq++
	return fmt.Sprintf("cus_fake_%d", g.customerSeq), nil
}

func (g *FakeGateway) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*stripegw.PaymentMethodInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("AttachPaymentMethod"); err != nil {
		return nil, err
	}
	fingerprint, ok := g.Fingerprints[paymentMethodID]
	if !ok {
		fingerprint = "fp_" + paymentMethodID
	}
	return &stripegw.PaymentMethodInfo{
		ID:              paymentMethodID,
		CardFingerprint: fingerprint,
		CardBrand:       "visa",
		CardLast4:       "4242",
	}, nil
}

func (g *FakeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.call("SetDefaultPaymentMethod")
}

func (g *FakeGateway) CreateSubscription(ctx context.Context, params stripegw.CreateSubscriptionParams) (*subscription.RemoteSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("CreateSubscription"); err != nil {
		return nil, err
	}

	g.subSeq++
	id := fmt.Sprintf("sub_fake_%d", g.subSeq)

	remote := &subscription.RemoteSubscription{
		ID:                 id,
		CustomerID:         params.CustomerID,
		PriceID:            params.PriceID,
		Status:             "active",
		CurrentPeriodStart: g.Now,
		LatestInvoiceID:    "in_" + id,
		ClientSecret:       "pi_secret_" + id,
	}
	switch {
	case params.TrialEnd != nil:
		remote.Status = "trialing"
		remote.CurrentPeriodEnd = *params.TrialEnd
		remote.TrialEnd = params.TrialEnd
	case params.TrialPeriodDays > 0:
		remote.Status = "trialing"
		trialEnd := g.Now.AddDate(0, 0, int(params.TrialPeriodDays))
		remote.CurrentPeriodEnd = trialEnd
		remote.TrialEnd = &trialEnd
	default:
		interval := g.intervalFor(params.PriceID)
		remote.CurrentPeriodEnd = g.Now.AddDate(interval.Years, interval.Months, interval.Days)
	}

	g.Subscriptions[id] = remote
	return copyRemote(remote), nil
}

func (g *FakeGateway) UpdateSubscription(ctx context.Context, subscriptionID string, params stripegw.UpdateSubscriptionParams) (*subscription.RemoteSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("UpdateSubscription"); err != nil {
		return nil, err
	}

	remote, ok := g.Subscriptions[subscriptionID]
	if !ok {
		return nil, ierr.NewError("no such subscription").
			WithHint("Subscription does not exist remotely").
			Mark(ierr.ErrPaymentProcessing)
	}

	if params.PriceID != "" {
		remote.PriceID = params.PriceID
	}
	restartPeriod := params.BillingAnchor == types.BillingAnchorNow || params.TrialEndNow
	if params.TrialEndNow {
		remote.Status = "active"
		remote.TrialEnd = nil
	}
	if restartPeriod {
		interval := g.intervalFor(remote.PriceID)
		remote.CurrentPeriodStart = g.Now
		remote.CurrentPeriodEnd = g.Now.AddDate(interval.Years, interval.Months, interval.Days)
	}
	if params.CancelAtPeriodEnd != nil {
		remote.CancelAtPeriodEnd = *params.CancelAtPeriodEnd
	}
	return copyRemote(remote), nil
}

func (g *FakeGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*subscription.RemoteSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("RetrieveSubscription"); err != nil {
		return nil, err
	}
	remote, ok := g.Subscriptions[subscriptionID]
	if !ok {
		return nil, nil
	}
	return copyRemote(remote), nil
}

func (g *FakeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*subscription.RemoteSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("CancelAtPeriodEnd"); err != nil {
		return nil, err
	}
	remote, ok := g.Subscriptions[subscriptionID]
	if !ok {
		return nil, ierr.NewError("no such subscription").
			WithHint("Subscription does not exist remotely").
			Mark(ierr.ErrPaymentProcessing)
	}
	remote.CancelAtPeriodEnd = true
	return copyRemote(remote), nil
}

func (g *FakeGateway) ClearCancelAtPeriodEnd(ctx context.Context, subscriptionID, defaultPaymentMethodID string) (*subscription.RemoteSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("ClearCancelAtPeriodEnd"); err != nil {
		return nil, err
	}
	remote, ok := g.Subscriptions[subscriptionID]
	if !ok {
		return nil, ierr.NewError("no such subscription").
			WithHint("Subscription does not exist remotely").
			Mark(ierr.ErrPaymentProcessing)
	}
	remote.CancelAtPeriodEnd = false
	return copyRemote(remote), nil
}

func (g *FakeGateway) PreviewPlanChange(ctx context.Context, params stripegw.PreviewParams) (*stripegw.InvoicePreview, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("PreviewPlanChange"); err != nil {
		return nil, err
	}
	if g.Preview != nil {
		preview := *g.Preview
		return &preview, nil
	}
	return &stripegw.InvoicePreview{Currency: "usd"}, nil
}

func (g *FakeGateway) RetrieveInvoice(ctx context.Context, invoiceID string) (*stripe.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("RetrieveInvoice"); err != nil {
		return nil, err
	}
	inv, ok := g.Invoices[invoiceID]
	if !ok {
		return nil, ierr.NewError("no such invoice").
			WithHint("Invoice does not exist remotely").
			Mark(ierr.ErrPaymentProcessing)
	}
	return inv, nil
}

func (g *FakeGateway) RetrievePrice(ctx context.Context, priceID string) (*stripe.Price, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("RetrievePrice"); err != nil {
		return nil, err
	}
	price, ok := g.Prices[priceID]
	if !ok {
		return nil, ierr.NewError("no such price").
			WithHint("Price does not exist remotely").
			Mark(ierr.ErrPaymentProcessing)
	}
	return price, nil
}

// VerifyWebhookEvent accepts any non-empty signature and parses the payload
// as the event body. An empty signature fails like a bad Stripe-Signature
// header does.
func (g *FakeGateway) VerifyWebhookEvent(payload []byte, signature, secret string) (*stripe.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("VerifyWebhookEvent"); err != nil {
		return nil, err
	}
	if signature == "" || signature == "invalid" {
		return nil, ierr.NewError("failed to verify webhook signature").
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrWebhookSignature)
	}
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid webhook payload").
			Mark(ierr.ErrWebhookSignature)
	}
	return &event, nil
}

var _ stripegw.Gateway = (*FakeGateway)(nil)
