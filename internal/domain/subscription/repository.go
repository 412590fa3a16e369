package subscription

import "context"

// Repository is the access layer for the subscriptions table.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error
	// Upsert writes the row keyed by user_id, creating it when absent.
	Upsert(ctx context.Context, sub *Subscription) error
	GetByUserID(ctx context.Context, userID string) (*Subscription, error)
	GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)
	GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*Subscription, error)
	// ExistsByCardFingerprint reports whether any other user already has a
	// subscription row carrying the fingerprint. Trial eligibility is
	// fingerprint-scoped, not account-scoped.
	ExistsByCardFingerprint(ctx context.Context, fingerprint, excludeUserID string) (bool, error)
}
