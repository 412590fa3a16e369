package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dineloop/dineloop/internal/api/dto"
	"github.com/dineloop/dineloop/internal/billing"
	"github.com/dineloop/dineloop/internal/domain/subscription"
	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/dineloop/dineloop/internal/types"
	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"
)

// WebhookService processes signed provider events. Every branch is
// idempotent and order-tolerant: state is re-derived from the remote
// object's own fields and written with upserts keyed on stable remote ids,
// so replays and out-of-order deliveries converge on the same row.
type WebhookService interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) (*dto.WebhookResult, error)
}

type webhookService struct {
	ServiceParams
	invoiceSync InvoiceSyncService
}

func NewWebhookService(params ServiceParams, invoiceSync InvoiceSyncService) WebhookService {
	return &webhookService{ServiceParams: params, invoiceSync: invoiceSync}
}

func (s *webhookService) HandleEvent(ctx context.Context, payload []byte, signature string) (*dto.WebhookResult, error) {
	secret := s.Config.Stripe.WebhookSecret
	if secret == "" {
		// Fail closed: without a secret no event can be trusted.
		return nil, ierr.NewError("webhook secret is not configured").
			WithHint("Set the Stripe webhook secret before accepting deliveries").
			Mark(ierr.ErrSystem)
	}
	if signature == "" {
		return nil, ierr.NewError("missing webhook signature header").
			WithHint("Stripe-Signature header is required").
			Mark(ierr.ErrWebhookSignature)
	}

	event, err := s.Gateway.VerifyWebhookEvent(payload, signature, secret)
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("processing webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	switch types.WebhookEventType(event.Type) {
	case types.WebhookEventCheckoutSessionCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case types.WebhookEventPaymentIntentSucceeded:
		return s.handlePaymentIntentSucceeded(ctx, event)
	case types.WebhookEventInvoicePaymentSucceeded,
		types.WebhookEventInvoiceFinalized,
		types.WebhookEventInvoiceCreated:
		return s.handleInvoiceEvent(ctx, event, false)
	case types.WebhookEventInvoicePaymentFailed:
		return s.handleInvoiceEvent(ctx, event, true)
	case types.WebhookEventSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, event)
	case types.WebhookEventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		s.Logger.Debugw("ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return &dto.WebhookResult{Processed: false, Action: "ignored"}, nil
	}
}

// eventMetadata pulls user id and plan type out of an event object's
// metadata. Both absent is normal for payments that do not belong to this
// system.
type eventMetadata struct {
	UserID   string
	PlanType types.PlanType
}

func parseEventMetadata(raw json.RawMessage) (eventMetadata, bool) {
	var body struct {
		ClientReferenceID string            `json:"client_reference_id"`
		Metadata          map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return eventMetadata{}, false
	}

	userID := body.Metadata["user_id"]
	if userID == "" {
		userID = body.ClientReferenceID
	}
	plan, err := types.ParsePlanType(body.Metadata["plan_type"])
	if userID == "" || err != nil {
		return eventMetadata{}, false
	}
	return eventMetadata{UserID: userID, PlanType: plan}, true
}

func (s *webhookService) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) (*dto.WebhookResult, error) {
	meta, ok := parseEventMetadata(event.Data.Raw)
	if !ok {
		s.Logger.Warnw("checkout event without usable metadata, acknowledging as no-op",
			"event_id", event.ID,
		)
		return &dto.WebhookResult{Processed: false, Action: "missing_metadata"}, nil
	}

	var body struct {
		Customer     string `json:"customer"`
		Subscription string `json:"subscription"`
	}
	if err := json.Unmarshal(event.Data.Raw, &body); err != nil {
		return &dto.WebhookResult{Processed: false, Action: "malformed_payload"}, nil
	}

	now := s.now()
	row, err := s.loadOrNewRow(ctx, meta.UserID, now)
	if err != nil {
		return nil, err
	}
	if rowStaysCanceled(row) {
		s.Logger.Infow("checkout event for a canceled subscription, acknowledging as no-op",
			"event_id", event.ID,
			"user_id", meta.UserID,
		)
		return &dto.WebhookResult{Processed: false, Action: "canceled_row_kept"}, nil
	}

	var period billing.Period
	var remoteID string
	if body.Subscription != "" {
		remote, err := s.Gateway.RetrieveSubscription(ctx, body.Subscription)
		if err != nil {
			return nil, err
		}
		if remote != nil {
			period = billing.PeriodFromRemote(remote, meta.PlanType)
			remoteID = remote.ID
		}
	}
	if remoteID == "" {
		direct, err := billing.PeriodForDirectPayment(meta.PlanType, now)
		if err != nil {
			return nil, err
		}
		period = direct
	}

	row.PlanType = meta.PlanType
	row.Status = types.SubscriptionStatusActive
	row.CurrentPeriodStart = period.Start
	row.CurrentPeriodEnd = period.End
	row.UpdatedAt = now
	if body.Customer != "" {
		row.StripeCustomerID = lo.ToPtr(body.Customer)
	}
	if remoteID != "" {
		row.StripeSubscriptionID = lo.ToPtr(remoteID)
	}

	if err := s.SubscriptionRepo.Upsert(ctx, row); err != nil {
		return nil, err
	}

	return &dto.WebhookResult{
		Processed:      true,
		Action:         "checkout_completed",
		UserID:         meta.UserID,
		PlanType:       meta.PlanType,
		PeriodAccurate: period.Accurate,
	}, nil
}

func (s *webhookService) handlePaymentIntentSucceeded(ctx context.Context, event *stripe.Event) (*dto.WebhookResult, error) {
	meta, ok := parseEventMetadata(event.Data.Raw)
	if !ok {
		// Not every payment intent belongs to a subscription; acknowledge so
		// the provider stops retrying.
		s.Logger.Infow("payment intent without subscription metadata, acknowledging as no-op",
			"event_id", event.ID,
		)
		return &dto.WebhookResult{Processed: false, Action: "missing_metadata"}, nil
	}

	now := s.now()
	period, err := billing.PeriodForDirectPayment(meta.PlanType, now)
	if err != nil {
		return nil, err
	}

	row, err := s.loadOrNewRow(ctx, meta.UserID, now)
	if err != nil {
		return nil, err
	}
	if rowStaysCanceled(row) {
		s.Logger.Infow("payment event for a canceled subscription, acknowledging as no-op",
			"event_id", event.ID,
			"user_id", meta.UserID,
		)
		return &dto.WebhookResult{Processed: false, Action: "canceled_row_kept"}, nil
	}

	row.PlanType = meta.PlanType
	row.Status = types.SubscriptionStatusActive
	row.CurrentPeriodStart = period.Start
	row.CurrentPeriodEnd = period.End
	row.UpdatedAt = now

	if err := s.SubscriptionRepo.Upsert(ctx, row); err != nil {
		return nil, err
	}

	return &dto.WebhookResult{
		Processed:      true,
		Action:         "payment_succeeded",
		UserID:         meta.UserID,
		PlanType:       meta.PlanType,
		PeriodAccurate: period.Accurate,
	}, nil
}

func (s *webhookService) handleInvoiceEvent(ctx context.Context, event *stripe.Event, paymentFailed bool) (*dto.WebhookResult, error) {
	result := &dto.WebhookResult{Action: "invoice_persisted"}

	err := s.withTx(ctx, func(ctx context.Context) error {
		inv, owner, err := s.invoiceSync.PersistFromPayload(ctx, event.Data.Raw)
		if err != nil {
			return err
		}
		result.Processed = true
		result.UserID = owner.UserID
		result.PlanType = owner.PlanType

		if inv.StripeSubscriptionID == nil {
			return nil
		}

		remote, err := s.Gateway.RetrieveSubscription(ctx, *inv.StripeSubscriptionID)
		if err != nil {
			return err
		}
		if remote == nil {
			return nil
		}

		now := s.now()
		outcome := billing.Reconcile(owner, remote, now)
		s.logOutcome(outcome, string(event.Type))

		row := outcome.Subscription
		switch {
		case paymentFailed:
			row.Status = types.SubscriptionStatusPastDue
			result.Action = "payment_failed"
		case inv.Status == "paid":
			row.Status = types.SubscriptionStatusActive
		case inv.Status == "open":
			row.Status = types.SubscriptionStatusPastDue
		}
		s.keepCanceled(owner, remote, row)

		result.PeriodAccurate = outcome.Period.Accurate
		return s.SubscriptionRepo.Upsert(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// subscriptionEventPayload is the slice of the provider subscription object
// the sync path needs when the object itself is the event payload.
type subscriptionEventPayload struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p *subscriptionEventPayload) toRemote() *subscription.RemoteSubscription {
	remote := &subscription.RemoteSubscription{
		ID:                p.ID,
		CustomerID:        p.Customer,
		Status:            p.Status,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
	}
	if len(p.Items.Data) > 0 {
		item := p.Items.Data[0]
		remote.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		remote.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		remote.PriceID = item.Price.ID
	}
	return remote
}

func (s *webhookService) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) (*dto.WebhookResult, error) {
	var payload subscriptionEventPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil || payload.ID == "" {
		return &dto.WebhookResult{Processed: false, Action: "malformed_payload"}, nil
	}
	remote := payload.toRemote()

	local, found, err := s.findRowForRemote(ctx, remote)
	if err != nil {
		return nil, err
	}
	if !found {
		s.Logger.Warnw("subscription event for unknown row, acknowledging as no-op",
			"subscription_id", remote.ID,
			"customer_id", remote.CustomerID,
		)
		return &dto.WebhookResult{Processed: false, Action: "unknown_subscription"}, nil
	}

	now := s.now()
	outcome := billing.Reconcile(local, remote, now)
	s.logOutcome(outcome, string(event.Type))

	row := outcome.Subscription
	s.keepCanceled(local, remote, row)

	if err := s.SubscriptionRepo.Upsert(ctx, row); err != nil {
		return nil, err
	}

	return &dto.WebhookResult{
		Processed:      true,
		Action:         "subscription_updated",
		UserID:         row.UserID,
		PlanType:       row.PlanType,
		PeriodAccurate: outcome.Period.Accurate,
	}, nil
}

func (s *webhookService) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) (*dto.WebhookResult, error) {
	var payload subscriptionEventPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil || payload.ID == "" {
		return &dto.WebhookResult{Processed: false, Action: "malformed_payload"}, nil
	}
	remote := payload.toRemote()

	local, found, err := s.findRowForRemote(ctx, remote)
	if err != nil {
		return nil, err
	}
	if !found {
		return &dto.WebhookResult{Processed: false, Action: "unknown_subscription"}, nil
	}

	now := s.now()
	// The period is still recomputed from the object's last known values for
	// historical accuracy; the status is terminal regardless.
	outcome := billing.Reconcile(local, remote, now)
	s.logOutcome(outcome, string(event.Type))

	row := outcome.Subscription
	row.Status = types.SubscriptionStatusCanceled

	if err := s.SubscriptionRepo.Upsert(ctx, row); err != nil {
		return nil, err
	}

	return &dto.WebhookResult{
		Processed:      true,
		Action:         "subscription_deleted",
		UserID:         row.UserID,
		PlanType:       row.PlanType,
		PeriodAccurate: outcome.Period.Accurate,
	}, nil
}

// keepCanceled stops webhook traffic from reviving a locally-canceled row.
// Only explicit reactivation clears a scheduled cancellation; while the
// remote object still carries cancel_at_period_end the local status stays
// canceled no matter what status the event reports.
func (s *webhookService) keepCanceled(local *subscription.Subscription, remote *subscription.RemoteSubscription, row *subscription.Subscription) {
	if local.Status == types.SubscriptionStatusCanceled && remote.CancelAtPeriodEnd {
		row.Status = types.SubscriptionStatusCanceled
	}
}

// findRowForRemote locates the local row for a remote subscription, first by
// subscription id, then by customer id for rows written before the remote id
// was known.
func (s *webhookService) findRowForRemote(ctx context.Context, remote *subscription.RemoteSubscription) (*subscription.Subscription, bool, error) {
	local, err := s.SubscriptionRepo.GetByStripeSubscriptionID(ctx, remote.ID)
	if err == nil {
		return local, true, nil
	}
	if !ierr.Is(err, ierr.ErrNotFound) {
		return nil, false, err
	}
	if remote.CustomerID != "" {
		local, err = s.SubscriptionRepo.GetByStripeCustomerID(ctx, remote.CustomerID)
		if err == nil {
			return local, true, nil
		}
		if !ierr.Is(err, ierr.ErrNotFound) {
			return nil, false, err
		}
	}
	return nil, false, nil
}

// loadOrNewRow returns the user's existing row, or a fresh one when none
// exists yet. Only a missing row starts a new one; any other read failure
// propagates so an upsert cannot blank out the stored row.
func (s *webhookService) loadOrNewRow(ctx context.Context, userID string, now time.Time) (*subscription.Subscription, error) {
	row, err := s.SubscriptionRepo.GetByUserID(ctx, userID)
	if err == nil {
		return row, nil
	}
	if !ierr.Is(err, ierr.ErrNotFound) {
		return nil, err
	}
	return &subscription.Subscription{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:    userID,
		AutoRenew: true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// rowStaysCanceled mirrors keepCanceled for event branches that carry no
// remote subscription object: a scheduled cancellation is cleared only by
// explicit reactivation, never by webhook traffic.
func rowStaysCanceled(row *subscription.Subscription) bool {
	return row.Status == types.SubscriptionStatusCanceled && row.CancelAtPeriodEnd
}

func (s *webhookService) logOutcome(outcome billing.Outcome, eventType string) {
	if outcome.UnknownStatus {
		s.Logger.Warnw("unknown remote status, defaulting to active",
			"event_type", eventType,
			"user_id", outcome.Subscription.UserID,
		)
	}
	if outcome.PeriodRegression {
		s.Logger.Infow("stale event period ignored, keeping later period",
			"event_type", eventType,
			"user_id", outcome.Subscription.UserID,
		)
	}
	if outcome.ActivatedPlanChange {
		s.Logger.Infow("pending plan change activated by webhook",
			"event_type", eventType,
			"user_id", outcome.Subscription.UserID,
			"plan_type", outcome.Subscription.PlanType,
		)
	}
}
