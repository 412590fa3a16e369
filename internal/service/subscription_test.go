package service

import (
	"context"
	"testing"

	"github.com/dineloop/dineloop/internal/api/dto"
	ierr "github.com/dineloop/dineloop/internal/errors"
	stripegw "github.com/dineloop/dineloop/internal/integration/stripe"
	"github.com/dineloop/dineloop/internal/testutil"
	"github.com/dineloop/dineloop/internal/types"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82"
)

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service SubscriptionService
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewSubscriptionService(s.serviceParams())
}

func (s *SubscriptionServiceSuite) serviceParams() ServiceParams {
	stores := s.GetStores()
	return ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		Cache:            s.GetCache(),
		SubscriptionRepo: stores.SubscriptionRepo,
		InvoiceRepo:      stores.InvoiceRepo,
		Gateway:          s.GetGateway(),
		TimeNow:          s.GetNow,
	}
}

func (s *SubscriptionServiceSuite) createPlan(ctx context.Context, plan types.PlanType, paymentMethodID string) *dto.SubscriptionResponse {
	resp, err := s.service.CreateOrChangeSubscription(ctx, &dto.CreateSubscriptionRequest{
		PlanType:        plan,
		PaymentMethodID: paymentMethodID,
		Email:           "owner@dineloop.test",
	})
	s.Require().NoError(err)
	return resp
}

func (s *SubscriptionServiceSuite) TestTrialCheckout() {
	resp := s.createPlan(s.GetContext(), types.PlanTypeTrial, "pm_1")

	s.Equal(types.PlanTypeTrial, resp.PlanType)
	s.Equal(types.SubscriptionStatusTrialing, resp.Status)
	s.False(resp.RequiresPayment)
	s.True(resp.PeriodAccurate)
	s.Equal(s.GetNow().AddDate(0, 0, 30), resp.CurrentPeriodEnd)
	s.Require().NotNil(resp.Subscription.CardFingerprint)
	s.Equal("fp_pm_1", *resp.Subscription.CardFingerprint)
}

func (s *SubscriptionServiceSuite) TestTrialFingerprintGuard() {
	gateway := s.GetGateway()
	gateway.Fingerprints["pm_a"] = "fp_shared"
	gateway.Fingerprints["pm_b"] = "fp_shared"
	gateway.Fingerprints["pm_c"] = "fp_other"

	s.createPlan(s.GetContext(), types.PlanTypeTrial, "pm_a")

	otherCtx := types.SetUserID(context.Background(), "user_other")
	_, err := s.service.CreateOrChangeSubscription(otherCtx, &dto.CreateSubscriptionRequest{
		PlanType:        types.PlanTypeTrial,
		PaymentMethodID: "pm_b",
	})
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrDuplicateTrialCard))

	// A different physical card is still eligible.
	resp, err := s.service.CreateOrChangeSubscription(otherCtx, &dto.CreateSubscriptionRequest{
		PlanType:        types.PlanTypeTrial,
		PaymentMethodID: "pm_c",
	})
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusTrialing, resp.Status)
}

func (s *SubscriptionServiceSuite) TestTrialToMonthlyChargesNow() {
	ctx := s.GetContext()
	s.createPlan(ctx, types.PlanTypeTrial, "pm_1")

	resp := s.createPlan(ctx, types.PlanTypeMonthly, "pm_1")

	s.Equal(types.PlanTypeMonthly, resp.PlanType)
	s.Equal(types.SubscriptionStatusActive, resp.Status)
	s.True(resp.RequiresPayment)
	s.NotEmpty(resp.ClientSecret)
	s.Equal(s.GetNow(), resp.CurrentPeriodStart)
	s.Equal(s.GetNow().AddDate(0, 1, 0), resp.CurrentPeriodEnd)
	s.Nil(resp.Subscription.PendingPlanChange)
}

func (s *SubscriptionServiceSuite) TestDowngradeIsDeferred() {
	ctx := s.GetContext()
	s.createPlan(ctx, types.PlanTypeAnnual, "pm_1")

	resp := s.createPlan(ctx, types.PlanTypeSemiannual, "pm_1")

	// The tier in force does not move until a webhook confirms the new
	// period started.
	s.Equal(types.PlanTypeAnnual, resp.PlanType)
	s.False(resp.RequiresPayment)
	s.Require().NotNil(resp.Subscription.PendingPlanChange)
	s.Equal(types.PlanTypeSemiannual, resp.Subscription.PendingPlanChange.PlanType)
	s.Equal(s.GetConfig().Stripe.Prices.Semiannual, resp.Subscription.PendingPlanChange.PriceID)

	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(ctx, "user_test")
	s.Require().NoError(err)
	s.Equal(types.PlanTypeAnnual, stored.PlanType)
	s.NotNil(stored.PendingPlanChange)
}

func (s *SubscriptionServiceSuite) TestMonthlyToAnnualRestartsCycle() {
	ctx := s.GetContext()
	created := s.createPlan(ctx, types.PlanTypeMonthly, "pm_1")

	resp := s.createPlan(ctx, types.PlanTypeAnnual, "pm_1")

	s.Equal(types.PlanTypeAnnual, resp.PlanType)
	s.True(resp.RequiresPayment)
	s.Nil(resp.Subscription.PendingPlanChange)
	// monthly -> annual is an interval change, so the cycle restarts now.
	s.Equal(s.GetNow(), resp.CurrentPeriodStart)
	s.True(resp.CurrentPeriodEnd.After(created.CurrentPeriodEnd))
}

func (s *SubscriptionServiceSuite) TestCancelMirrorsFlags() {
	ctx := s.GetContext()
	created := s.createPlan(ctx, types.PlanTypeMonthly, "pm_1")

	resp, err := s.service.CancelSubscription(ctx)
	s.Require().NoError(err)
	s.True(resp.Success)
	s.True(resp.CancelAtPeriodEnd)
	s.Equal(created.CurrentPeriodEnd, resp.CurrentPeriodEnd)

	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(ctx, "user_test")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, stored.Status)
	s.True(stored.CancelAtPeriodEnd)

	remote := s.GetGateway().Subscriptions[*stored.StripeSubscriptionID]
	s.Require().NotNil(remote)
	s.True(remote.CancelAtPeriodEnd)
}

func (s *SubscriptionServiceSuite) TestReactivateLiveClearsCancellation() {
	ctx := s.GetContext()
	s.createPlan(ctx, types.PlanTypeMonthly, "pm_1")
	_, err := s.service.CancelSubscription(ctx)
	s.Require().NoError(err)

	resp, err := s.service.ReactivateSubscription(ctx, &dto.ReactivateSubscriptionRequest{
		PaymentMethodID: "pm_1",
	})
	s.Require().NoError(err)
	s.True(resp.Success)
	s.Equal(types.SubscriptionStatusActive, resp.Status)
	s.False(resp.Subscription.CancelAtPeriodEnd)
}

func (s *SubscriptionServiceSuite) TestReactivateRecreatesCanceledRemote() {
	ctx := s.GetContext()
	created := s.createPlan(ctx, types.PlanTypeSemiannual, "pm_1")
	oldRemoteID := *created.Subscription.StripeSubscriptionID

	// Simulate the provider fully canceling and purging the subscription.
	s.GetGateway().DeleteRemote(oldRemoteID)

	resp, err := s.service.ReactivateSubscription(ctx, &dto.ReactivateSubscriptionRequest{
		PaymentMethodID: "pm_1",
	})
	s.Require().NoError(err)
	s.True(resp.Success)

	// A new remote subscription is created; the plan survives and the
	// already-paid-for time is honored via its trial window.
	s.NotEqual(oldRemoteID, *resp.Subscription.StripeSubscriptionID)
	s.Equal(types.PlanTypeSemiannual, resp.PlanType)

	newRemote := s.GetGateway().Subscriptions[*resp.Subscription.StripeSubscriptionID]
	s.Require().NotNil(newRemote)
	s.Require().NotNil(newRemote.TrialEnd)
	s.Equal(created.CurrentPeriodEnd, *newRemote.TrialEnd)
}

func (s *SubscriptionServiceSuite) TestReactivateExpiredFailsWithoutRemoteCall() {
	ctx := s.GetContext()
	s.createPlan(ctx, types.PlanTypeMonthly, "pm_1")

	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(ctx, "user_test")
	s.Require().NoError(err)
	stored.CurrentPeriodStart = s.GetNow().AddDate(0, -2, 0)
	stored.CurrentPeriodEnd = s.GetNow().AddDate(0, -1, 0)
	s.Require().NoError(s.GetStores().SubscriptionRepo.Upsert(ctx, stored))

	callsBefore := len(s.GetGateway().CalledMethods())
	_, err = s.service.ReactivateSubscription(ctx, &dto.ReactivateSubscriptionRequest{
		PaymentMethodID: "pm_1",
	})
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrSubscriptionExpired))
	s.Len(s.GetGateway().CalledMethods(), callsBefore, "no remote call for expired rows")
}

func (s *SubscriptionServiceSuite) TestPreviewUpgrade() {
	ctx := s.GetContext()
	s.createPlan(ctx, types.PlanTypeMonthly, "pm_1")

	next := s.GetNow().AddDate(0, 1, 0)
	s.GetGateway().Preview = &stripegw.InvoicePreview{
		Currency:           "usd",
		AmountDue:          1500,
		Total:              1500,
		Lines:              []stripegw.PreviewLine{{Amount: 1500, Proration: true}},
		NextPaymentAttempt: &next,
	}

	resp, err := s.service.PreviewPlanChange(ctx, &dto.PreviewPlanChangeRequest{
		NewPlanType: types.PlanTypeAnnual,
	})
	s.Require().NoError(err)
	s.Equal(int64(1500), resp.AmountDue)
	s.Equal("15.00", resp.DisplayAmount)
	s.Equal("usd", resp.Currency)
	s.Require().NotNil(resp.NextBillingDate)
	s.Equal(next, *resp.NextBillingDate)
}

func (s *SubscriptionServiceSuite) TestPreviewDowngradeMessage() {
	ctx := s.GetContext()
	s.createPlan(ctx, types.PlanTypeAnnual, "pm_1")

	resp, err := s.service.PreviewPlanChange(ctx, &dto.PreviewPlanChangeRequest{
		NewPlanType: types.PlanTypeMonthly,
	})
	s.Require().NoError(err)
	s.Contains(resp.Message, "end of the current period")
}

func (s *SubscriptionServiceSuite) TestPreviewDowngradeShowsRenewalRateFromCachedPrice() {
	ctx := s.GetContext()
	s.createPlan(ctx, types.PlanTypeAnnual, "pm_1")

	monthlyPrice := s.GetConfig().Stripe.Prices.Monthly
	s.GetGateway().Prices[monthlyPrice] = &stripe.Price{
		ID:         monthlyPrice,
		UnitAmount: 999,
		Currency:   stripe.CurrencyUSD,
	}

	resp, err := s.service.PreviewPlanChange(ctx, &dto.PreviewPlanChangeRequest{
		NewPlanType: types.PlanTypeMonthly,
	})
	s.Require().NoError(err)
	s.Contains(resp.Message, "end of the current period")
	s.Contains(resp.Message, "9.99")

	// Previewing the same tier again is served from the cache, not the
	// provider.
	_, err = s.service.PreviewPlanChange(ctx, &dto.PreviewPlanChangeRequest{
		NewPlanType: types.PlanTypeMonthly,
	})
	s.Require().NoError(err)

	retrieves := 0
	for _, name := range s.GetGateway().CalledMethods() {
		if name == "RetrievePrice" {
			retrieves++
		}
	}
	s.Equal(1, retrieves)
}

func (s *SubscriptionServiceSuite) TestSamePlanReplayIsIdempotent() {
	ctx := s.GetContext()
	first := s.createPlan(ctx, types.PlanTypeMonthly, "pm_1")
	second := s.createPlan(ctx, types.PlanTypeMonthly, "pm_1")

	s.Equal(*first.Subscription.StripeSubscriptionID, *second.Subscription.StripeSubscriptionID)
	s.Equal(first.CurrentPeriodEnd, second.CurrentPeriodEnd)
	s.False(second.RequiresPayment)
}

// TestGetCurrentSubscription covers the read endpoint's accuracy flag.
func (s *SubscriptionServiceSuite) TestGetCurrentSubscription() {
	ctx := s.GetContext()
	s.createPlan(ctx, types.PlanTypeMonthly, "pm_1")

	resp, err := s.service.GetCurrentSubscription(ctx)
	s.Require().NoError(err)
	s.Equal(types.PlanTypeMonthly, resp.PlanType)
	s.True(resp.PeriodAccurate)
}
