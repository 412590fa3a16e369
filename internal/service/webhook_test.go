package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dineloop/dineloop/internal/domain/subscription"
	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/dineloop/dineloop/internal/testutil"
	"github.com/dineloop/dineloop/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type WebhookServiceSuite struct {
	testutil.BaseServiceTestSuite
	service WebhookService
}

func TestWebhookService(t *testing.T) {
	suite.Run(t, new(WebhookServiceSuite))
}

func (s *WebhookServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.GetConfig().Stripe.WebhookSecret = "whsec_test"

	stores := s.GetStores()
	params := ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		Cache:            s.GetCache(),
		SubscriptionRepo: stores.SubscriptionRepo,
		InvoiceRepo:      stores.InvoiceRepo,
		Gateway:          s.GetGateway(),
		TimeNow:          s.GetNow,
	}
	s.service = NewWebhookService(params, NewInvoiceSyncService(params))
}

// eventPayload builds a raw webhook body the fake gateway parses verbatim.
func eventPayload(eventType string, object map[string]interface{}) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_test",
		"type": eventType,
		"data": map[string]interface{}{"object": object},
	})
	return payload
}

func (s *WebhookServiceSuite) seedRow(plan types.PlanType, status types.SubscriptionStatus, start, end time.Time) *subscription.Subscription {
	row := &subscription.Subscription{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:               "user_test",
		StripeCustomerID:     lo.ToPtr("cus_1"),
		StripeSubscriptionID: lo.ToPtr("sub_1"),
		PlanType:             plan,
		Status:               status,
		CurrentPeriodStart:   start,
		CurrentPeriodEnd:     end,
		AutoRenew:            true,
		CreatedAt:            start,
		UpdatedAt:            start,
	}
	s.Require().NoError(s.GetStores().SubscriptionRepo.Upsert(s.GetContext(), row))
	return row
}

func (s *WebhookServiceSuite) seedRemote(status string, priceID string, start, end time.Time) {
	s.GetGateway().Subscriptions["sub_1"] = &subscription.RemoteSubscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             status,
		PriceID:            priceID,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
	}
}

func (s *WebhookServiceSuite) TestMissingSecretFailsClosed() {
	s.GetConfig().Stripe.WebhookSecret = ""
	defer func() { s.GetConfig().Stripe.WebhookSecret = "whsec_test" }()

	_, err := s.service.HandleEvent(s.GetContext(), eventPayload("invoice.created", nil), "sig_ok")
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrSystem))
}

func (s *WebhookServiceSuite) TestMissingSignatureRejected() {
	_, err := s.service.HandleEvent(s.GetContext(), eventPayload("invoice.created", nil), "")
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrWebhookSignature))
}

func (s *WebhookServiceSuite) TestBadSignatureRejected() {
	_, err := s.service.HandleEvent(s.GetContext(), eventPayload("invoice.created", nil), "invalid")
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrWebhookSignature))
}

func (s *WebhookServiceSuite) TestUnhandledEventAcknowledged() {
	result, err := s.service.HandleEvent(s.GetContext(), eventPayload("charge.refunded", map[string]interface{}{
		"id": "ch_1",
	}), "sig_ok")
	s.Require().NoError(err)
	s.False(result.Processed)
	s.Equal("ignored", result.Action)
}

func (s *WebhookServiceSuite) invoiceEvent(eventType string, total int64, invoiceStatus string) []byte {
	start := s.GetNow()
	end := start.AddDate(0, 1, 0)
	return eventPayload(eventType, map[string]interface{}{
		"id":           "in_1",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"status":       invoiceStatus,
		"currency":     "usd",
		"total":        total,
		"subtotal":     total,
		"period_start": start.Unix(),
		"period_end":   end.Unix(),
	})
}

func (s *WebhookServiceSuite) TestPaymentFailedReplayedThreeTimes() {
	now := s.GetNow()
	s.seedRow(types.PlanTypeMonthly, types.SubscriptionStatusActive, now, now.AddDate(0, 1, 0))
	s.seedRemote("past_due", s.GetConfig().Stripe.Prices.Monthly, now, now.AddDate(0, 1, 0))

	payload := s.invoiceEvent("invoice.payment_failed", 2999, "open")
	for i := 0; i < 3; i++ {
		result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
		s.Require().NoError(err)
		s.True(result.Processed)
		s.Equal("payment_failed", result.Action)
	}

	// Replays converge on one ledger row and one status transition.
	s.Equal(1, s.GetStores().InvoiceRepo.Count())

	row, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusPastDue, row.Status)
}

func (s *WebhookServiceSuite) TestInvoiceAmountsStoredVerbatim() {
	now := s.GetNow()
	s.seedRow(types.PlanTypeMonthly, types.SubscriptionStatusActive, now, now.AddDate(0, 1, 0))
	s.seedRemote("active", s.GetConfig().Stripe.Prices.Monthly, now, now.AddDate(0, 1, 0))

	payload := eventPayload("invoice.payment_succeeded", map[string]interface{}{
		"id":                  "in_1",
		"customer":            "cus_1",
		"subscription":        "sub_1",
		"status":              "paid",
		"currency":            "usd",
		"total":               2999,
		"subtotal":            2799,
		"total_excluding_tax": 2799,
		"period_start":        now.Unix(),
		"period_end":          now.AddDate(0, 1, 0).Unix(),
	})
	result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().NoError(err)
	s.True(result.Processed)

	inv, err := s.GetStores().InvoiceRepo.GetByStripeInvoiceID(s.GetContext(), "in_1")
	s.Require().NoError(err)
	s.Equal(int64(2999), inv.Total)
	s.Equal(int64(2799), inv.Subtotal)
	s.Equal(int64(200), inv.Tax)
	s.Equal("usd", inv.Currency)
	s.Require().NotNil(inv.PeriodEnd)
	s.Equal(now.AddDate(0, 1, 0).Unix(), inv.PeriodEnd.Unix())

	row, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusActive, row.Status)
}

func (s *WebhookServiceSuite) TestOrphanedInvoiceRejected() {
	payload := eventPayload("invoice.created", map[string]interface{}{
		"id":       "in_orphan",
		"customer": "cus_ghost",
		"status":   "open",
		"currency": "usd",
		"total":    2999,
	})
	_, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrOrphanedInvoice))
	s.Equal(0, s.GetStores().InvoiceRepo.Count())
}

func (s *WebhookServiceSuite) subscriptionEvent(eventType, status string, cancelAtPeriodEnd bool, priceID string, start, end time.Time) []byte {
	return eventPayload(eventType, map[string]interface{}{
		"id":                   "sub_1",
		"customer":             "cus_1",
		"status":               status,
		"cancel_at_period_end": cancelAtPeriodEnd,
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{
					"current_period_start": start.Unix(),
					"current_period_end":   end.Unix(),
					"price":                map[string]interface{}{"id": priceID},
				},
			},
		},
	})
}

func (s *WebhookServiceSuite) TestSubscriptionUpdatedActivatesPendingDowngrade() {
	periodStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	row := s.seedRow(types.PlanTypeAnnual, types.SubscriptionStatusActive, periodStart, periodEnd)
	row.PendingPlanChange = &subscription.PendingPlanChange{
		PlanType:    types.PlanTypeSemiannual,
		PriceID:     s.GetConfig().Stripe.Prices.Semiannual,
		RequestedAt: s.GetNow(),
	}
	s.Require().NoError(s.GetStores().SubscriptionRepo.Upsert(s.GetContext(), row))

	newStart := periodEnd
	newEnd := newStart.AddDate(0, 6, 0)
	payload := s.subscriptionEvent("customer.subscription.updated", "active", false,
		s.GetConfig().Stripe.Prices.Semiannual, newStart, newEnd)

	result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().NoError(err)
	s.True(result.Processed)
	s.Equal(types.PlanTypeSemiannual, result.PlanType)
	s.True(result.PeriodAccurate)

	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.Require().NoError(err)
	s.Equal(types.PlanTypeSemiannual, stored.PlanType)
	s.Nil(stored.PendingPlanChange)
	s.Equal(newEnd, stored.CurrentPeriodEnd)
}

func (s *WebhookServiceSuite) TestStaleUpdateKeepsLaterPeriod() {
	now := s.GetNow()
	s.seedRow(types.PlanTypeMonthly, types.SubscriptionStatusActive, now, now.AddDate(0, 1, 0))

	// An older delivery with last month's period must not roll the row back.
	staleStart := now.AddDate(0, -1, 0)
	payload := s.subscriptionEvent("customer.subscription.updated", "active", false,
		s.GetConfig().Stripe.Prices.Monthly, staleStart, now)

	result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().NoError(err)
	s.True(result.Processed)

	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.Require().NoError(err)
	s.Equal(now.AddDate(0, 1, 0), stored.CurrentPeriodEnd)
}

func (s *WebhookServiceSuite) TestCanceledRowNotRevivedByUpdate() {
	now := s.GetNow()
	s.seedRow(types.PlanTypeMonthly, types.SubscriptionStatusCanceled, now, now.AddDate(0, 1, 0))

	payload := s.subscriptionEvent("customer.subscription.updated", "active", true,
		s.GetConfig().Stripe.Prices.Monthly, now, now.AddDate(0, 1, 0))

	result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().NoError(err)
	s.True(result.Processed)

	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, stored.Status)
	s.True(stored.CancelAtPeriodEnd)
}

func (s *WebhookServiceSuite) TestCheckoutReplayDoesNotReviveCanceledRow() {
	now := s.GetNow()
	row := s.seedRow(types.PlanTypeMonthly, types.SubscriptionStatusCanceled, now, now.AddDate(0, 1, 0))
	row.CancelAtPeriodEnd = true
	row.CardFingerprint = lo.ToPtr("fp_keep")
	s.Require().NoError(s.GetStores().SubscriptionRepo.Upsert(s.GetContext(), row))

	payload := eventPayload("checkout.session.completed", map[string]interface{}{
		"id":           "cs_replay",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"metadata": map[string]string{
			"user_id":   "user_test",
			"plan_type": "monthly",
		},
	})

	result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().NoError(err)
	s.False(result.Processed)
	s.Equal("canceled_row_kept", result.Action)

	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, stored.Status)
	s.True(stored.CancelAtPeriodEnd)
	s.Require().NotNil(stored.CardFingerprint)
	s.Equal("fp_keep", *stored.CardFingerprint)
}

func (s *WebhookServiceSuite) TestPaymentIntentDoesNotReviveCanceledRow() {
	now := s.GetNow()
	row := s.seedRow(types.PlanTypeMonthly, types.SubscriptionStatusCanceled, now, now.AddDate(0, 1, 0))
	row.CancelAtPeriodEnd = true
	s.Require().NoError(s.GetStores().SubscriptionRepo.Upsert(s.GetContext(), row))

	payload := eventPayload("payment_intent.succeeded", map[string]interface{}{
		"id": "pi_replay",
		"metadata": map[string]string{
			"user_id":   "user_test",
			"plan_type": "monthly",
		},
	})

	result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().NoError(err)
	s.False(result.Processed)
	s.Equal("canceled_row_kept", result.Action)

	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, stored.Status)
}

func (s *WebhookServiceSuite) TestCheckoutReadFailurePropagatesWithoutWrite() {
	now := s.GetNow()
	row := s.seedRow(types.PlanTypeAnnual, types.SubscriptionStatusActive, now, now.AddDate(1, 0, 0))
	row.CardFingerprint = lo.ToPtr("fp_keep")
	s.Require().NoError(s.GetStores().SubscriptionRepo.Upsert(s.GetContext(), row))

	// A transient read failure must not be mistaken for a missing row and
	// answered with a blank upsert over the stored one.
	readErr := ierr.NewError("connection reset").
		WithHint("Database unavailable").
		Mark(ierr.ErrDatabase)
	s.GetStores().SubscriptionRepo.Errs["GetByUserID"] = readErr

	payload := eventPayload("checkout.session.completed", map[string]interface{}{
		"id":       "cs_flaky",
		"customer": "cus_1",
		"metadata": map[string]string{
			"user_id":   "user_test",
			"plan_type": "monthly",
		},
	})

	_, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrDatabase))

	delete(s.GetStores().SubscriptionRepo.Errs, "GetByUserID")
	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.Require().NoError(err)
	s.Equal(types.PlanTypeAnnual, stored.PlanType)
	s.Require().NotNil(stored.CardFingerprint)
	s.Equal("fp_keep", *stored.CardFingerprint)
}

func (s *WebhookServiceSuite) TestUnknownRemoteStatusFallsBackToActive() {
	now := s.GetNow()
	s.seedRow(types.PlanTypeMonthly, types.SubscriptionStatusActive, now, now.AddDate(0, 1, 0))

	payload := s.subscriptionEvent("customer.subscription.updated", "paused", false,
		s.GetConfig().Stripe.Prices.Monthly, now, now.AddDate(0, 1, 0))

	result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().NoError(err)
	s.True(result.Processed)

	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusActive, stored.Status)
}

func (s *WebhookServiceSuite) TestSubscriptionDeletedMarksCanceled() {
	now := s.GetNow()
	s.seedRow(types.PlanTypeMonthly, types.SubscriptionStatusActive, now, now.AddDate(0, 1, 0))

	payload := s.subscriptionEvent("customer.subscription.deleted", "canceled", false,
		s.GetConfig().Stripe.Prices.Monthly, now, now.AddDate(0, 1, 0))

	result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().NoError(err)
	s.True(result.Processed)
	s.Equal("subscription_deleted", result.Action)

	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, stored.Status)
}

func (s *WebhookServiceSuite) TestUpdateForUnknownSubscriptionAcked() {
	payload := s.subscriptionEvent("customer.subscription.updated", "active", false,
		s.GetConfig().Stripe.Prices.Monthly, s.GetNow(), s.GetNow().AddDate(0, 1, 0))

	result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().NoError(err)
	s.False(result.Processed)
	s.Equal("unknown_subscription", result.Action)
}

func (s *WebhookServiceSuite) TestCheckoutCompletedWritesDirectPeriod() {
	payload := eventPayload("checkout.session.completed", map[string]interface{}{
		"id":       "cs_1",
		"customer": "cus_9",
		"metadata": map[string]string{
			"user_id":   "user_test",
			"plan_type": "monthly",
		},
	})

	result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().NoError(err)
	s.True(result.Processed)
	s.True(result.PeriodAccurate)

	stored, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.Require().NoError(err)
	s.Equal(types.PlanTypeMonthly, stored.PlanType)
	s.Equal(types.SubscriptionStatusActive, stored.Status)
	s.Equal(s.GetNow().AddDate(0, 1, 0), stored.CurrentPeriodEnd)
	s.Require().NotNil(stored.StripeCustomerID)
	s.Equal("cus_9", *stored.StripeCustomerID)
}

func (s *WebhookServiceSuite) TestPaymentIntentWithoutMetadataAcked() {
	payload := eventPayload("payment_intent.succeeded", map[string]interface{}{
		"id":     "pi_1",
		"amount": 2999,
	})

	result, err := s.service.HandleEvent(s.GetContext(), payload, "sig_ok")
	s.Require().NoError(err)
	s.False(result.Processed)
	s.Equal("missing_metadata", result.Action)

	_, err = s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "user_test")
	s.True(ierr.Is(err, ierr.ErrNotFound))
}
