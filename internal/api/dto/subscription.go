package dto

import (
	"time"

	"github.com/dineloop/dineloop/internal/domain/subscription"
	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/dineloop/dineloop/internal/types"
)

// CreateSubscriptionRequest starts a first checkout or switches the plan of
// an existing subscription. PriceID is optional; when empty it is resolved
// from the configured price catalog.
type CreateSubscriptionRequest struct {
	PlanType        types.PlanType `json:"plan_type" binding:"required"`
	PriceID         string         `json:"price_id"`
	PaymentMethodID string         `json:"payment_method_id"`
	Email           string         `json:"email"`
	RestaurantID    *string        `json:"restaurant_id"`
	AutoRenew       *bool          `json:"auto_renew"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	if err := r.PlanType.Validate(); err != nil {
		return err
	}
	if r.PaymentMethodID == "" {
		return ierr.NewError("payment_method_id is required").
			WithHint("A payment method is required to start or change a subscription").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SubscriptionResponse is the row plus the payment-confirmation fields the
// client needs when the transition produced a charge.
type SubscriptionResponse struct {
	*subscription.Subscription
	// ClientSecret confirms the first open invoice's payment on the client.
	ClientSecret    string `json:"client_secret,omitempty"`
	RequiresPayment bool   `json:"requires_payment"`
	// PeriodAccurate is false when the stored period length fell outside the
	// tolerance band for the plan.
	PeriodAccurate bool `json:"period_accurate"`
}

type CancelSubscriptionResponse struct {
	Success           bool      `json:"success"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
}

type ReactivateSubscriptionRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
	PriceID         string `json:"price_id"`
}

func (r *ReactivateSubscriptionRequest) Validate() error {
	if r.PaymentMethodID == "" {
		return ierr.NewError("payment_method_id is required").
			WithHint("A payment method is required to reactivate a subscription").
			Mark(ierr.ErrValidation)
	}
	return nil
}

type ReactivateSubscriptionResponse struct {
	Success bool `json:"success"`
	*SubscriptionResponse
}

// PreviewPlanChangeRequest asks what switching to the new plan would cost,
// without committing anything.
type PreviewPlanChangeRequest struct {
	NewPlanType types.PlanType `json:"new_plan_type" binding:"required"`
	NewPriceID  string         `json:"new_price_id"`
}

func (r *PreviewPlanChangeRequest) Validate() error {
	return r.NewPlanType.Validate()
}

type PreviewPlanChangeResponse struct {
	// AmountDue is in integer minor currency units.
	AmountDue int64  `json:"amount_due"`
	Currency  string `json:"currency"`
	// DisplayAmount is the major-unit rendering, for UI convenience only.
	DisplayAmount   string     `json:"display_amount"`
	Message         string     `json:"message"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`
	Proration       bool       `json:"proration"`
}
