package billing

import (
	"time"

	"github.com/dineloop/dineloop/internal/domain/subscription"
	"github.com/dineloop/dineloop/internal/types"
)

// Outcome is the result of reconciling the local row against a remote
// snapshot. The returned subscription is a modified copy; the caller decides
// whether and how to persist it.
type Outcome struct {
	Subscription *subscription.Subscription
	Period       Period
	// UnknownStatus is set when the remote status was not in the mapping
	// table and the conservative active fallback was applied.
	UnknownStatus bool
	// PeriodRegression is set when the remote snapshot carried an earlier
	// period end than the row already holds for the same remote
	// subscription id; the later period was kept.
	PeriodRegression bool
	// StalePeriod is set when the reconciled status is live but the period
	// end is already in the past. This indicates a stale webhook and must
	// not downgrade the status further.
	StalePeriod bool
	// ActivatedPlanChange is set when a deferred downgrade took effect
	// because the remote object confirmed the new period has started.
	ActivatedPlanChange bool
}

// Reconcile derives the next local state from the current row and a remote
// snapshot. It is pure given both snapshots and the clock, and is shared by
// user-initiated handlers and webhook sync so the two paths cannot drift.
//
// Rules:
//   - remote status maps to local status through the explicit table in
//     types.MapRemoteStatus; unknown values fall back to active and are
//     flagged for logging
//   - current_period_end never regresses for the same remote subscription
//     id; a brand-new remote id adopts the new period unconditionally
//   - a pending downgrade activates once the remote object carries the
//     target price and a period that starts after the one recorded locally
func Reconcile(local *subscription.Subscription, remote *subscription.RemoteSubscription, now time.Time) Outcome {
	next := *local
	out := Outcome{}

	sameRemote := local.StripeSubscriptionID != nil && *local.StripeSubscriptionID == remote.ID

	// A deferred downgrade is confirmed by the remote object itself, never
	// by event arrival order.
	plan := local.PlanType
	if local.PendingPlanChange != nil &&
		remote.PriceID == local.PendingPlanChange.PriceID &&
		remote.CurrentPeriodStart.After(local.CurrentPeriodStart) {
		plan = local.PendingPlanChange.PlanType
		next.PendingPlanChange = nil
		out.ActivatedPlanChange = true
	}
	next.PlanType = plan

	period := PeriodFromRemote(remote, plan)
	if sameRemote && period.End.Before(local.CurrentPeriodEnd) {
		// Stale event for a period we have already moved past.
		period.Start = local.CurrentPeriodStart
		period.End = local.CurrentPeriodEnd
		out.PeriodRegression = true
	}
	next.CurrentPeriodStart = period.Start
	next.CurrentPeriodEnd = period.End
	out.Period = period

	status, known := types.MapRemoteStatus(remote.Status)
	out.UnknownStatus = !known
	next.Status = status

	if status.IsLive() && next.CurrentPeriodEnd.Before(now) {
		out.StalePeriod = true
	}

	remoteID := remote.ID
	next.StripeSubscriptionID = &remoteID
	if remote.CustomerID != "" {
		customerID := remote.CustomerID
		next.StripeCustomerID = &customerID
	}
	next.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	next.UpdatedAt = now

	out.Subscription = &next
	return out
}
