package subscription

import (
	"time"

	"github.com/dineloop/dineloop/internal/types"
)

// Subscription is the authoritative local record of a user's billing state.
// There is at most one row per user; cancellation is a status transition,
// the row is never deleted.
type Subscription struct {
	ID                   string                   `db:"id" json:"id"`
	UserID               string                   `db:"user_id" json:"user_id"`
	RestaurantID         *string                  `db:"restaurant_id" json:"restaurant_id,omitempty"`
	StripeCustomerID     *string                  `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string                  `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	PlanType             types.PlanType           `db:"plan_type" json:"plan_type"`
	Status               types.SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodStart   time.Time                `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd     time.Time                `db:"current_period_end" json:"current_period_end"`
	CancelAtPeriodEnd    bool                     `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CardFingerprint      *string                  `db:"card_fingerprint" json:"-"`
	PendingPlanChange    *PendingPlanChange       `json:"pending_plan_change,omitempty"`
	AutoRenew            bool                     `db:"auto_renew" json:"auto_renew"`
	CreatedAt            time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time                `db:"updated_at" json:"updated_at"`
}

// PendingPlanChange records a downgrade scheduled for the next period
// boundary. The plan_type field stays on the old tier until a webhook
// confirms the new period has started.
type PendingPlanChange struct {
	PlanType    types.PlanType `json:"plan_type"`
	PriceID     string         `json:"price_id"`
	RequestedAt time.Time      `json:"requested_at"`
}

// HasRemote reports whether the row is linked to a remote subscription.
func (s *Subscription) HasRemote() bool {
	return s.StripeSubscriptionID != nil && *s.StripeSubscriptionID != ""
}

// IsExpired reports whether the paid-for period has already ended.
func (s *Subscription) IsExpired(now time.Time) bool {
	return s.CurrentPeriodEnd.Before(now)
}
