package testutil

import (
	"context"
	"sync"

	"github.com/dineloop/dineloop/internal/domain/subscription"
	ierr "github.com/dineloop/dineloop/internal/errors"
)

// InMemorySubscriptionStore implements subscription.Repository over a map
// keyed by user id, matching the table's one-row-per-user shape.
type InMemorySubscriptionStore struct {
	mu     sync.RWMutex
	byUser map[string]*subscription.Subscription
	// Errs injects a failure for a method by name, like the fake gateway.
	Errs map[string]error
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		byUser: make(map[string]*subscription.Subscription),
		Errs:   make(map[string]error),
	}
}

func (s *InMemorySubscriptionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser = make(map[string]*subscription.Subscription)
	s.Errs = make(map[string]error)
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	if sub.PendingPlanChange != nil {
		pending := *sub.PendingPlanChange
		cp.PendingPlanChange = &pending
	}
	return &cp
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUser[sub.UserID]; ok {
		return ierr.NewError("subscription already exists").
			WithHint("User already has a subscription row").
			Mark(ierr.ErrAlreadyExists)
	}
	s.byUser[sub.UserID] = copySubscription(sub)
	return nil
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUser[sub.UserID]; !ok {
		return ierr.NewError("subscription not found").
			WithHint("No subscription exists for this user").
			Mark(ierr.ErrNotFound)
	}
	s.byUser[sub.UserID] = copySubscription(sub)
	return nil
}

func (s *InMemorySubscriptionStore) Upsert(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[sub.UserID] = copySubscription(sub)
	return nil
}

func (s *InMemorySubscriptionStore) GetByUserID(ctx context.Context, userID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.Errs["GetByUserID"]; err != nil {
		return nil, err
	}
	sub, ok := s.byUser[userID]
	if !ok {
		return nil, ierr.NewError("subscription not found").
			WithHint("No subscription row matches").
			Mark(ierr.ErrNotFound)
	}
	return copySubscription(sub), nil
}

func (s *InMemorySubscriptionStore) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.byUser {
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID == stripeSubscriptionID {
			return copySubscription(sub), nil
		}
	}
	return nil, ierr.NewError("subscription not found").
		WithHint("No subscription row matches").
		Mark(ierr.ErrNotFound)
}

func (s *InMemorySubscriptionStore) GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.byUser {
		if sub.StripeCustomerID != nil && *sub.StripeCustomerID == stripeCustomerID {
			return copySubscription(sub), nil
		}
	}
	return nil, ierr.NewError("subscription not found").
		WithHint("No subscription row matches").
		Mark(ierr.ErrNotFound)
}

func (s *InMemorySubscriptionStore) ExistsByCardFingerprint(ctx context.Context, fingerprint, excludeUserID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.byUser {
		if sub.UserID == excludeUserID {
			continue
		}
		if sub.CardFingerprint != nil && *sub.CardFingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}
