package subscription

import "time"

// RemoteSubscription is a point-in-time snapshot of the billing provider's
// subscription object, reduced to the fields reconciliation needs. Status
// stays in the provider's vocabulary; translation to the local status
// happens during reconciliation.
type RemoteSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	TrialEnd           *time.Time
	CanceledAt         *time.Time
	LatestInvoiceID    string
	// ClientSecret is the payment-intent client secret of the latest
	// invoice, present when the creation/update requires confirmation.
	ClientSecret string
}

// IsLive reports whether the remote object can still be mutated in place.
func (r *RemoteSubscription) IsLive() bool {
	return r.Status == "active" || r.Status == "trialing" || r.Status == "past_due"
}
