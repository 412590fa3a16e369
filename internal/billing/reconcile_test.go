package billing

import (
	"testing"
	"time"

	"github.com/dineloop/dineloop/internal/domain/subscription"
	"github.com/dineloop/dineloop/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localRow(remoteID string, plan types.PlanType, start, end time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		ID:                   "subs_local",
		UserID:               "user_1",
		StripeCustomerID:     lo.ToPtr("cus_1"),
		StripeSubscriptionID: lo.ToPtr(remoteID),
		PlanType:             plan,
		Status:               types.SubscriptionStatusActive,
		CurrentPeriodStart:   start,
		CurrentPeriodEnd:     end,
	}
}

func TestReconcileIdempotent(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -5)
	end := start.AddDate(0, 1, 0)

	local := localRow("sub_1", types.PlanTypeMonthly, start, end)
	remote := &subscription.RemoteSubscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		PriceID:            "price_monthly",
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
	}

	first := Reconcile(local, remote, now)
	second := Reconcile(first.Subscription, remote, now)

	assert.Equal(t, first.Subscription, second.Subscription)
	assert.False(t, first.UnknownStatus)
	assert.False(t, first.PeriodRegression)
}

func TestReconcilePeriodNeverRegresses(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	newStart := now.AddDate(0, 0, -1)
	newEnd := newStart.AddDate(0, 1, 0)

	local := localRow("sub_1", types.PlanTypeMonthly, newStart, newEnd)

	// a stale event carrying the previous period arrives after the row has
	// already moved on
	staleRemote := &subscription.RemoteSubscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		CurrentPeriodStart: newStart.AddDate(0, -1, 0),
		CurrentPeriodEnd:   newStart,
	}

	out := Reconcile(local, staleRemote, now)

	assert.True(t, out.PeriodRegression)
	assert.Equal(t, newEnd, out.Subscription.CurrentPeriodEnd)
	assert.Equal(t, newStart, out.Subscription.CurrentPeriodStart)
}

func TestReconcileNewRemoteIDAdoptsPeriod(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	oldStart := now.AddDate(0, -2, 0)
	oldEnd := now.AddDate(0, 1, 0)

	local := localRow("sub_old", types.PlanTypeMonthly, oldStart, oldEnd)

	// recreation after a full cancellation issues a fresh remote id; its
	// period is adopted even when it starts earlier than the stored end
	remote := &subscription.RemoteSubscription{
		ID:                 "sub_new",
		CustomerID:         "cus_1",
		Status:             "trialing",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 0, 20),
	}

	out := Reconcile(local, remote, now)

	assert.False(t, out.PeriodRegression)
	assert.Equal(t, "sub_new", *out.Subscription.StripeSubscriptionID)
	assert.Equal(t, now.AddDate(0, 0, 20), out.Subscription.CurrentPeriodEnd)
}

func TestReconcileActivatesPendingDowngrade(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	oldStart := now.AddDate(0, -1, 0)
	oldEnd := now

	local := localRow("sub_1", types.PlanTypeAnnual, oldStart, oldEnd)
	local.PendingPlanChange = &subscription.PendingPlanChange{
		PlanType:    types.PlanTypeSemiannual,
		PriceID:     "price_semiannual",
		RequestedAt: now.AddDate(0, 0, -10),
	}

	// the remote object now carries the downgraded price and a new period
	remote := &subscription.RemoteSubscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		PriceID:            "price_semiannual",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 6, 0),
	}

	out := Reconcile(local, remote, now)

	require.True(t, out.ActivatedPlanChange)
	assert.Equal(t, types.PlanTypeSemiannual, out.Subscription.PlanType)
	assert.Nil(t, out.Subscription.PendingPlanChange)
	assert.True(t, out.Period.Accurate)
}

func TestReconcileKeepsPendingDowngradeUntilConfirmed(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, -1, 0)
	end := now.AddDate(0, 11, 0)

	local := localRow("sub_1", types.PlanTypeAnnual, start, end)
	local.PendingPlanChange = &subscription.PendingPlanChange{
		PlanType:    types.PlanTypeSemiannual,
		PriceID:     "price_semiannual",
		RequestedAt: now,
	}

	// same period, still on the old price: the downgrade must not apply yet
	remote := &subscription.RemoteSubscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		PriceID:            "price_annual",
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
	}

	out := Reconcile(local, remote, now)

	assert.False(t, out.ActivatedPlanChange)
	assert.Equal(t, types.PlanTypeAnnual, out.Subscription.PlanType)
	require.NotNil(t, out.Subscription.PendingPlanChange)
	assert.Equal(t, types.PlanTypeSemiannual, out.Subscription.PendingPlanChange.PlanType)
}

func TestReconcileUnknownStatusFallsBackToActive(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	local := localRow("sub_1", types.PlanTypeMonthly, now.AddDate(0, 0, -5), now.AddDate(0, 0, 25))

	remote := &subscription.RemoteSubscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "paused",
		CurrentPeriodStart: now.AddDate(0, 0, -5),
		CurrentPeriodEnd:   now.AddDate(0, 0, 25),
	}

	out := Reconcile(local, remote, now)

	assert.True(t, out.UnknownStatus)
	assert.Equal(t, types.SubscriptionStatusActive, out.Subscription.Status)
}

func TestReconcileFlagsStalePeriod(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, -2, 0)
	end := now.AddDate(0, -1, 0)

	local := localRow("sub_1", types.PlanTypeMonthly, start, end)
	remote := &subscription.RemoteSubscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
	}

	out := Reconcile(local, remote, now)

	// live status with a period already in the past points at a stale
	// webhook; the status is not downgraded further
	assert.True(t, out.StalePeriod)
	assert.Equal(t, types.SubscriptionStatusActive, out.Subscription.Status)
}
