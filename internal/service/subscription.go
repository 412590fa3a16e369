package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dineloop/dineloop/internal/api/dto"
	"github.com/dineloop/dineloop/internal/billing"
	"github.com/dineloop/dineloop/internal/cache"
	"github.com/dineloop/dineloop/internal/domain/subscription"
	ierr "github.com/dineloop/dineloop/internal/errors"
	stripeint "github.com/dineloop/dineloop/internal/integration/stripe"
	"github.com/dineloop/dineloop/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
)

// SubscriptionService drives user-initiated subscription transitions. Every
// mutation talks to the billing provider first and writes locally only after
// the remote call succeeded.
type SubscriptionService interface {
	CreateOrChangeSubscription(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error)
	GetCurrentSubscription(ctx context.Context) (*dto.SubscriptionResponse, error)
	CancelSubscription(ctx context.Context) (*dto.CancelSubscriptionResponse, error)
	ReactivateSubscription(ctx context.Context, req *dto.ReactivateSubscriptionRequest) (*dto.ReactivateSubscriptionResponse, error)
	PreviewPlanChange(ctx context.Context, req *dto.PreviewPlanChangeRequest) (*dto.PreviewPlanChangeResponse, error)
}

type subscriptionService struct {
	ServiceParams
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{ServiceParams: params}
}

func (s *subscriptionService) CreateOrChangeSubscription(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	userID := types.GetUserID(ctx)
	if userID == "" {
		return nil, ierr.NewError("missing caller identity").
			WithHint("Authentication is required").
			Mark(ierr.ErrPermissionDenied)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	priceID, err := s.resolvePriceID(req.PlanType, req.PriceID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	local, err := s.getLocalRow(ctx, userID)
	if err != nil {
		return nil, err
	}

	existingCustomerID := ""
	if local != nil && local.StripeCustomerID != nil {
		existingCustomerID = *local.StripeCustomerID
	}
	customerID, err := s.Gateway.EnsureCustomer(ctx, existingCustomerID, userID, req.Email)
	if err != nil {
		return nil, err
	}

	pm, err := s.Gateway.AttachPaymentMethod(ctx, req.PaymentMethodID, customerID)
	if err != nil {
		return nil, err
	}

	// Trial eligibility is per physical card, not per account. The guard
	// runs before any remote mutation that could charge or start a trial.
	if req.PlanType == types.PlanTypeTrial && pm.CardFingerprint != "" {
		used, err := s.SubscriptionRepo.ExistsByCardFingerprint(ctx, pm.CardFingerprint, userID)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, ierr.NewError("card already used for a trial").
				WithHint("This card has already been used for a free trial").
				Mark(ierr.ErrDuplicateTrialCard)
		}
	}

	if err := s.Gateway.SetDefaultPaymentMethod(ctx, customerID, pm.ID); err != nil {
		return nil, err
	}

	var remote *subscription.RemoteSubscription
	if local != nil && local.HasRemote() {
		remote, err = s.Gateway.RetrieveSubscription(ctx, *local.StripeSubscriptionID)
		if err != nil {
			return nil, err
		}
	}

	if remote == nil || !remote.IsLive() {
		return s.createFresh(ctx, local, req, userID, customerID, priceID, pm, now)
	}
	return s.changeExisting(ctx, local, remote, req, priceID, pm, now)
}

// createFresh provisions a brand-new remote subscription, either a first
// checkout or a restart after the previous remote object died.
func (s *subscriptionService) createFresh(
	ctx context.Context,
	local *subscription.Subscription,
	req *dto.CreateSubscriptionRequest,
	userID, customerID, priceID string,
	pm *stripeint.PaymentMethodInfo,
	now time.Time,
) (*dto.SubscriptionResponse, error) {
	createParams := stripeint.CreateSubscriptionParams{
		CustomerID:             customerID,
		PriceID:                priceID,
		DefaultPaymentMethodID: pm.ID,
		ProrationBehavior:      types.ProrationBehaviorCreateProrations,
		Metadata: map[string]string{
			"user_id":   userID,
			"plan_type": string(req.PlanType),
		},
	}
	if req.PlanType == types.PlanTypeTrial {
		createParams.TrialPeriodDays = s.Config.Stripe.TrialPeriodDays
	}

	remote, err := s.Gateway.CreateSubscription(ctx, createParams)
	if err != nil {
		return nil, err
	}

	period := billing.PeriodFromRemote(remote, req.PlanType)
	status, known := types.MirrorRemoteStatus(remote.Status)
	if !known {
		s.Logger.Warnw("unknown remote status on subscription create",
			"remote_status", remote.Status,
			"subscription_id", remote.ID,
		)
	}

	row := &subscription.Subscription{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:               userID,
		RestaurantID:         req.RestaurantID,
		StripeCustomerID:     lo.ToPtr(customerID),
		StripeSubscriptionID: lo.ToPtr(remote.ID),
		PlanType:             req.PlanType,
		Status:               status,
		CurrentPeriodStart:   period.Start,
		CurrentPeriodEnd:     period.End,
		CancelAtPeriodEnd:    remote.CancelAtPeriodEnd,
		AutoRenew:            req.AutoRenew == nil || *req.AutoRenew,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if pm.CardFingerprint != "" {
		row.CardFingerprint = lo.ToPtr(pm.CardFingerprint)
	}
	if local != nil {
		row.ID = local.ID
		row.CreatedAt = local.CreatedAt
		if row.RestaurantID == nil {
			row.RestaurantID = local.RestaurantID
		}
	}

	if err := s.SubscriptionRepo.Upsert(ctx, row); err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription created",
		"user_id", userID,
		"subscription_id", remote.ID,
		"plan_type", req.PlanType,
		"status", status,
	)

	return &dto.SubscriptionResponse{
		Subscription:    row,
		ClientSecret:    remote.ClientSecret,
		RequiresPayment: req.PlanType.IsPaid(),
		PeriodAccurate:  period.Accurate,
	}, nil
}

// changeExisting applies the plan-change decision table to a live remote
// subscription.
func (s *subscriptionService) changeExisting(
	ctx context.Context,
	local *subscription.Subscription,
	remote *subscription.RemoteSubscription,
	req *dto.CreateSubscriptionRequest,
	priceID string,
	pm *stripeint.PaymentMethodInfo,
	now time.Time,
) (*dto.SubscriptionResponse, error) {
	change := billing.Classify(local.PlanType, req.PlanType)

	updateParams := stripeint.UpdateSubscriptionParams{
		PriceID:           priceID,
		ProrationBehavior: types.ProrationBehaviorCreateProrations,
		Metadata: map[string]string{
			"user_id":   local.UserID,
			"plan_type": string(req.PlanType),
		},
	}
	requiresPayment := true
	deferDowngrade := false

	switch {
	case local.PlanType == req.PlanType && remote.PriceID == priceID:
		// Idempotent replay of the current plan; refresh payment method and
		// reconcile, no remote plan mutation.
		return s.reconcileAndRespond(ctx, local, remote, pm, now, false)

	case local.PlanType == types.PlanTypeTrial && req.PlanType.IsPaid():
		// Trial converts immediately; ending the trial starts the paid
		// period now.
		updateParams.TrialEndNow = true

	case change.IsDowngrade:
		// Deferred: the remote price swaps with no proration and no anchor
		// reset, so nothing is charged until renewal. The local plan tier
		// stays put until a webhook confirms the new period started.
		updateParams.ProrationBehavior = types.ProrationBehaviorNone
		requiresPayment = false
		deferDowngrade = true

	case change.IntervalChange:
		updateParams.BillingAnchor = types.BillingAnchorNow

	case change.IsUpgrade:
		updateParams.BillingAnchor = types.BillingAnchorUnchanged
	}

	updated, err := s.Gateway.UpdateSubscription(ctx, remote.ID, updateParams)
	if err != nil {
		return nil, err
	}

	working := *local
	if deferDowngrade {
		working.PendingPlanChange = &subscription.PendingPlanChange{
			PlanType:    req.PlanType,
			PriceID:     priceID,
			RequestedAt: now,
		}
	} else {
		working.PlanType = req.PlanType
	}

	outcome := billing.Reconcile(&working, updated, now)
	s.logOutcome(outcome, "plan change")

	row := outcome.Subscription
	if pm.CardFingerprint != "" {
		row.CardFingerprint = lo.ToPtr(pm.CardFingerprint)
	}
	if req.AutoRenew != nil {
		row.AutoRenew = *req.AutoRenew
	}

	if err := s.SubscriptionRepo.Upsert(ctx, row); err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription plan changed",
		"user_id", local.UserID,
		"subscription_id", updated.ID,
		"from_plan", local.PlanType,
		"to_plan", req.PlanType,
		"deferred", deferDowngrade,
	)

	return &dto.SubscriptionResponse{
		Subscription:    row,
		ClientSecret:    updated.ClientSecret,
		RequiresPayment: requiresPayment,
		PeriodAccurate:  outcome.Period.Accurate,
	}, nil
}

// reconcileAndRespond refreshes the local row from a remote snapshot without
// changing the plan.
func (s *subscriptionService) reconcileAndRespond(
	ctx context.Context,
	local *subscription.Subscription,
	remote *subscription.RemoteSubscription,
	pm *stripeint.PaymentMethodInfo,
	now time.Time,
	requiresPayment bool,
) (*dto.SubscriptionResponse, error) {
	outcome := billing.Reconcile(local, remote, now)
	s.logOutcome(outcome, "refresh")

	row := outcome.Subscription
	if pm != nil && pm.CardFingerprint != "" {
		row.CardFingerprint = lo.ToPtr(pm.CardFingerprint)
	}
	if err := s.SubscriptionRepo.Upsert(ctx, row); err != nil {
		return nil, err
	}
	return &dto.SubscriptionResponse{
		Subscription:    row,
		ClientSecret:    remote.ClientSecret,
		RequiresPayment: requiresPayment,
		PeriodAccurate:  outcome.Period.Accurate,
	}, nil
}

func (s *subscriptionService) GetCurrentSubscription(ctx context.Context) (*dto.SubscriptionResponse, error) {
	userID := types.GetUserID(ctx)
	row, err := s.SubscriptionRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	period := billing.Period{Start: row.CurrentPeriodStart, End: row.CurrentPeriodEnd}
	return &dto.SubscriptionResponse{
		Subscription:   row,
		PeriodAccurate: billing.WithinBand(period, row.PlanType),
	}, nil
}

func (s *subscriptionService) CancelSubscription(ctx context.Context) (*dto.CancelSubscriptionResponse, error) {
	userID := types.GetUserID(ctx)
	local, err := s.SubscriptionRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !local.HasRemote() {
		return nil, ierr.NewError("no remote subscription to cancel").
			WithHint("There is no active subscription on this account").
			Mark(ierr.ErrInvalidOperation)
	}

	remote, err := s.Gateway.CancelAtPeriodEnd(ctx, *local.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	outcome := billing.Reconcile(local, remote, now)
	s.logOutcome(outcome, "cancel")

	row := outcome.Subscription
	// Access runs until period end; the row is marked canceled immediately
	// so consumers can distinguish a scheduled cancellation from autorenew.
	row.Status = types.SubscriptionStatusCanceled
	row.CancelAtPeriodEnd = true

	if err := s.SubscriptionRepo.Update(ctx, row); err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription canceled at period end",
		"user_id", userID,
		"subscription_id", *local.StripeSubscriptionID,
		"period_end", row.CurrentPeriodEnd,
	)

	return &dto.CancelSubscriptionResponse{
		Success:           true,
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  row.CurrentPeriodEnd,
	}, nil
}

func (s *subscriptionService) ReactivateSubscription(ctx context.Context, req *dto.ReactivateSubscriptionRequest) (*dto.ReactivateSubscriptionResponse, error) {
	userID := types.GetUserID(ctx)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	local, err := s.SubscriptionRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	// Expired rows need a fresh checkout; nothing to resume remotely.
	if local.IsExpired(now) {
		return nil, ierr.NewError("subscription period has ended").
			WithHint("The paid-for period is over; start a new subscription instead").
			Mark(ierr.ErrSubscriptionExpired)
	}
	if !local.HasRemote() {
		return nil, ierr.NewError("no remote subscription to reactivate").
			WithHint("Start a new subscription instead").
			Mark(ierr.ErrCannotReactivate)
	}

	remote, err := s.Gateway.RetrieveSubscription(ctx, *local.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	switch {
	case remote != nil && (remote.Status == "active" || remote.Status == "trialing"):
		return s.resumeLive(ctx, local, req, now)
	case remote == nil || remote.Status == "canceled":
		return s.recreateCanceled(ctx, local, req, now)
	default:
		return nil, ierr.NewError("subscription cannot be reactivated").
			WithHint("The subscription is in a state that cannot be resumed; start a new one").
			WithReportableDetails(map[string]interface{}{
				"remote_status": remote.Status,
			}).
			Mark(ierr.ErrCannotReactivate)
	}
}

// resumeLive clears a scheduled cancellation on a still-live remote
// subscription. No charge happens.
func (s *subscriptionService) resumeLive(
	ctx context.Context,
	local *subscription.Subscription,
	req *dto.ReactivateSubscriptionRequest,
	now time.Time,
) (*dto.ReactivateSubscriptionResponse, error) {
	remote, err := s.Gateway.ClearCancelAtPeriodEnd(ctx, *local.StripeSubscriptionID, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	outcome := billing.Reconcile(local, remote, now)
	s.logOutcome(outcome, "reactivate")

	row := outcome.Subscription
	if err := s.SubscriptionRepo.Update(ctx, row); err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription reactivated",
		"user_id", local.UserID,
		"subscription_id", remote.ID,
	)

	return &dto.ReactivateSubscriptionResponse{
		Success: true,
		SubscriptionResponse: &dto.SubscriptionResponse{
			Subscription:   row,
			PeriodAccurate: outcome.Period.Accurate,
		},
	}, nil
}

// recreateCanceled provisions a replacement remote subscription after a full
// cancellation. The already-paid-for time is honored by trialing the new
// subscription until the stored period end.
func (s *subscriptionService) recreateCanceled(
	ctx context.Context,
	local *subscription.Subscription,
	req *dto.ReactivateSubscriptionRequest,
	now time.Time,
) (*dto.ReactivateSubscriptionResponse, error) {
	priceID, err := s.resolvePriceID(local.PlanType, req.PriceID)
	if err != nil {
		return nil, err
	}

	customerID := ""
	if local.StripeCustomerID != nil {
		customerID = *local.StripeCustomerID
	}
	customerID, err = s.Gateway.EnsureCustomer(ctx, customerID, local.UserID, "")
	if err != nil {
		return nil, err
	}
	pm, err := s.Gateway.AttachPaymentMethod(ctx, req.PaymentMethodID, customerID)
	if err != nil {
		return nil, err
	}
	if err := s.Gateway.SetDefaultPaymentMethod(ctx, customerID, pm.ID); err != nil {
		return nil, err
	}

	createParams := stripeint.CreateSubscriptionParams{
		CustomerID:             customerID,
		PriceID:                priceID,
		DefaultPaymentMethodID: pm.ID,
		ProrationBehavior:      types.ProrationBehaviorCreateProrations,
		Metadata: map[string]string{
			"user_id":   local.UserID,
			"plan_type": string(local.PlanType),
		},
	}
	// The caller is paid up through the stored period end; billing restarts
	// only when that runs out.
	if local.CurrentPeriodEnd.After(now) {
		createParams.TrialEnd = lo.ToPtr(local.CurrentPeriodEnd)
	}

	remote, err := s.Gateway.CreateSubscription(ctx, createParams)
	if err != nil {
		return nil, err
	}

	outcome := billing.Reconcile(local, remote, now)
	s.logOutcome(outcome, "reactivate-recreate")

	row := outcome.Subscription
	if pm.CardFingerprint != "" {
		row.CardFingerprint = lo.ToPtr(pm.CardFingerprint)
	}

	if err := s.SubscriptionRepo.Upsert(ctx, row); err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription recreated after cancellation",
		"user_id", local.UserID,
		"old_subscription_id", *local.StripeSubscriptionID,
		"new_subscription_id", remote.ID,
		"plan_type", row.PlanType,
	)

	return &dto.ReactivateSubscriptionResponse{
		Success: true,
		SubscriptionResponse: &dto.SubscriptionResponse{
			Subscription:    row,
			ClientSecret:    remote.ClientSecret,
			PeriodAccurate:  outcome.Period.Accurate,
			RequiresPayment: false,
		},
	}, nil
}

func (s *subscriptionService) PreviewPlanChange(ctx context.Context, req *dto.PreviewPlanChangeRequest) (*dto.PreviewPlanChangeResponse, error) {
	userID := types.GetUserID(ctx)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	local, err := s.SubscriptionRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !local.HasRemote() {
		return nil, ierr.NewError("no subscription to preview against").
			WithHint("Start a subscription before previewing a plan change").
			Mark(ierr.ErrInvalidOperation)
	}
	if local.PlanType == req.NewPlanType {
		return &dto.PreviewPlanChangeResponse{
			Message: "You are already on this plan.",
		}, nil
	}

	priceID, err := s.resolvePriceID(req.NewPlanType, req.NewPriceID)
	if err != nil {
		return nil, err
	}

	change := billing.Classify(local.PlanType, req.NewPlanType)
	prorationBehavior := types.ProrationBehaviorCreateProrations
	if change.IsDowngrade {
		prorationBehavior = types.ProrationBehaviorNone
	}

	customerID := ""
	if local.StripeCustomerID != nil {
		customerID = *local.StripeCustomerID
	}
	preview, err := s.Gateway.PreviewPlanChange(ctx, stripeint.PreviewParams{
		CustomerID:        customerID,
		SubscriptionID:    *local.StripeSubscriptionID,
		NewPriceID:        priceID,
		ProrationBehavior: prorationBehavior,
	})
	if err != nil {
		return nil, err
	}

	proration := false
	for _, line := range preview.Lines {
		if line.Proration {
			proration = true
			break
		}
	}

	// The target price fills in what the proration preview does not carry:
	// the currency when the preview has none, and the rate the next renewal
	// bills at. Repeated previews of the same tier hit the cache.
	price, err := s.priceFor(ctx, priceID)
	if err != nil {
		s.Logger.Debugw("price lookup for preview failed", "price_id", priceID, "error", err)
		price = nil
	}

	currency := preview.Currency
	if currency == "" && price != nil {
		currency = string(price.Currency)
	}

	display := minorUnitsToDisplay(preview.AmountDue)

	message := fmt.Sprintf("Switching to the %s plan will charge %s %s now.",
		req.NewPlanType, display, currency)
	if change.IsDowngrade {
		message = fmt.Sprintf("Your plan changes to %s at the end of the current period; nothing is charged today.",
			req.NewPlanType)
		if price != nil && price.UnitAmount > 0 {
			message += fmt.Sprintf(" Renewals are then billed at %s %s.",
				minorUnitsToDisplay(price.UnitAmount), currency)
		}
	}

	return &dto.PreviewPlanChangeResponse{
		AmountDue:       preview.AmountDue,
		Currency:        currency,
		DisplayAmount:   display,
		Message:         message,
		NextBillingDate: preview.NextPaymentAttempt,
		Proration:       proration,
	}, nil
}

func minorUnitsToDisplay(amount int64) string {
	return decimal.NewFromInt(amount).
		Div(decimal.NewFromInt(100)).
		StringFixed(2)
}

// priceFor retrieves a price through the cache.
func (s *subscriptionService) priceFor(ctx context.Context, priceID string) (*stripe.Price, error) {
	key := cache.Key(cache.PrefixPrice, priceID)
	if cached, ok := s.Cache.Get(ctx, key); ok {
		if price, ok := cached.(*stripe.Price); ok {
			return price, nil
		}
	}
	price, err := s.Gateway.RetrievePrice(ctx, priceID)
	if err != nil {
		return nil, err
	}
	s.Cache.Set(ctx, key, price, 30*time.Minute)
	return price, nil
}

func (s *subscriptionService) resolvePriceID(plan types.PlanType, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	priceID, ok := s.Config.Stripe.Prices.PriceIDFor(plan)
	if !ok {
		return "", ierr.NewError("no price configured for plan").
			WithHint("Unknown or unconfigured plan type").
			WithReportableDetails(map[string]interface{}{
				"plan_type": plan,
			}).
			Mark(ierr.ErrInvalidPlanType)
	}
	return priceID, nil
}

func (s *subscriptionService) getLocalRow(ctx context.Context, userID string) (*subscription.Subscription, error) {
	row, err := s.SubscriptionRepo.GetByUserID(ctx, userID)
	if err != nil {
		if ierr.Is(err, ierr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}

func (s *subscriptionService) logOutcome(outcome billing.Outcome, action string) {
	if outcome.UnknownStatus {
		s.Logger.Warnw("unknown remote status, defaulting to active",
			"action", action,
			"user_id", outcome.Subscription.UserID,
		)
	}
	if outcome.PeriodRegression {
		s.Logger.Infow("ignored stale remote period",
			"action", action,
			"user_id", outcome.Subscription.UserID,
		)
	}
	if outcome.StalePeriod {
		s.Logger.Warnw("live status with period already ended",
			"action", action,
			"user_id", outcome.Subscription.UserID,
			"period_end", outcome.Subscription.CurrentPeriodEnd,
		)
	}
	if outcome.ActivatedPlanChange {
		s.Logger.Infow("pending plan change activated",
			"action", action,
			"user_id", outcome.Subscription.UserID,
			"plan_type", outcome.Subscription.PlanType,
		)
	}
}
