package invoice

import (
	"encoding/json"
	"time"
)

// Invoice is a local snapshot of a provider invoice, keyed by the remote
// invoice id. All amounts are integer minor-currency units exactly as
// received; conversion to display units happens only in UI code.
type Invoice struct {
	ID                   string          `db:"id" json:"id"`
	UserID               string          `db:"user_id" json:"user_id"`
	StripeInvoiceID      string          `db:"stripe_invoice_id" json:"stripe_invoice_id"`
	StripeCustomerID     string          `db:"stripe_customer_id" json:"stripe_customer_id"`
	StripeSubscriptionID *string         `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	Status               string          `db:"status" json:"status"`
	Currency             string          `db:"currency" json:"currency"`
	Total                int64           `db:"total" json:"total"`
	Subtotal             int64           `db:"subtotal" json:"subtotal"`
	Tax                  int64           `db:"tax" json:"tax"`
	Discount             int64           `db:"discount" json:"discount"`
	PeriodStart          *time.Time      `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd            *time.Time      `db:"period_end" json:"period_end,omitempty"`
	Raw                  json.RawMessage `db:"raw" json:"-"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}
