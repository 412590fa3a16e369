package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/dineloop/dineloop/internal/domain/subscription"
	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/dineloop/dineloop/internal/logger"
	"github.com/dineloop/dineloop/internal/postgres"
	"github.com/dineloop/dineloop/internal/types"
)

type subscriptionRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{db: db, logger: logger}
}

// subscriptionRow mirrors the table; pending_plan_change is stored as jsonb
// and converted to the domain struct on the way out.
type subscriptionRow struct {
	ID                   string    `db:"id"`
	UserID               string    `db:"user_id"`
	RestaurantID         *string   `db:"restaurant_id"`
	StripeCustomerID     *string   `db:"stripe_customer_id"`
	StripeSubscriptionID *string   `db:"stripe_subscription_id"`
	PlanType             string    `db:"plan_type"`
	Status               string    `db:"status"`
	CurrentPeriodStart   time.Time `db:"current_period_start"`
	CurrentPeriodEnd     time.Time `db:"current_period_end"`
	CancelAtPeriodEnd    bool      `db:"cancel_at_period_end"`
	CardFingerprint      *string   `db:"card_fingerprint"`
	PendingPlanChange    []byte    `db:"pending_plan_change"`
	AutoRenew            bool      `db:"auto_renew"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func toRow(sub *subscription.Subscription) (*subscriptionRow, error) {
	row := &subscriptionRow{
		ID:                   sub.ID,
		UserID:               sub.UserID,
		RestaurantID:         sub.RestaurantID,
		StripeCustomerID:     sub.StripeCustomerID,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		PlanType:             string(sub.PlanType),
		Status:               string(sub.Status),
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CardFingerprint:      sub.CardFingerprint,
		AutoRenew:            sub.AutoRenew,
		CreatedAt:            sub.CreatedAt,
		UpdatedAt:            sub.UpdatedAt,
	}
	if sub.PendingPlanChange != nil {
		data, err := json.Marshal(sub.PendingPlanChange)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to encode pending plan change").
				Mark(ierr.ErrInternal)
		}
		row.PendingPlanChange = data
	}
	return row, nil
}

func (row *subscriptionRow) toDomain() (*subscription.Subscription, error) {
	sub := &subscription.Subscription{
		ID:                   row.ID,
		UserID:               row.UserID,
		RestaurantID:         row.RestaurantID,
		StripeCustomerID:     row.StripeCustomerID,
		StripeSubscriptionID: row.StripeSubscriptionID,
		PlanType:             types.PlanType(row.PlanType),
		Status:               types.SubscriptionStatus(row.Status),
		CurrentPeriodStart:   row.CurrentPeriodStart,
		CurrentPeriodEnd:     row.CurrentPeriodEnd,
		CancelAtPeriodEnd:    row.CancelAtPeriodEnd,
		CardFingerprint:      row.CardFingerprint,
		AutoRenew:            row.AutoRenew,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
	if len(row.PendingPlanChange) > 0 {
		var pending subscription.PendingPlanChange
		if err := json.Unmarshal(row.PendingPlanChange, &pending); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Stored pending plan change is not valid JSON").
				WithReportableDetails(map[string]interface{}{
					"subscription_id": row.ID,
				}).
				Mark(ierr.ErrInternal)
		}
		sub.PendingPlanChange = &pending
	}
	return sub, nil
}

const subscriptionColumns = `
	id, user_id, restaurant_id, stripe_customer_id, stripe_subscription_id,
	plan_type, status, current_period_start, current_period_end,
	cancel_at_period_end, card_fingerprint, pending_plan_change, auto_renew,
	created_at, updated_at`

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	row, err := toRow(sub)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `
		) VALUES (
			:id, :user_id, :restaurant_id, :stripe_customer_id, :stripe_subscription_id,
			:plan_type, :status, :current_period_start, :current_period_end,
			:cancel_at_period_end, :card_fingerprint, :pending_plan_change, :auto_renew,
			:created_at, :updated_at
		)`

	r.logger.Debugw("creating subscription row",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
	)

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			WithReportableDetails(map[string]interface{}{
				"user_id": sub.UserID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	row, err := toRow(sub)
	if err != nil {
		return err
	}

	query := `
		UPDATE subscriptions SET
			restaurant_id = :restaurant_id,
			stripe_customer_id = :stripe_customer_id,
			stripe_subscription_id = :stripe_subscription_id,
			plan_type = :plan_type,
			status = :status,
			current_period_start = :current_period_start,
			current_period_end = :current_period_end,
			cancel_at_period_end = :cancel_at_period_end,
			card_fingerprint = :card_fingerprint,
			pending_plan_change = :pending_plan_change,
			auto_renew = :auto_renew,
			updated_at = :updated_at
		WHERE user_id = :user_id`

	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			WithReportableDetails(map[string]interface{}{
				"user_id": sub.UserID,
			}).
			Mark(ierr.ErrDatabase)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ierr.NewError("subscription not found").
			WithHint("No subscription exists for this user").
			WithReportableDetails(map[string]interface{}{
				"user_id": sub.UserID,
			}).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *subscriptionRepository) Upsert(ctx context.Context, sub *subscription.Subscription) error {
	row, err := toRow(sub)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `
		) VALUES (
			:id, :user_id, :restaurant_id, :stripe_customer_id, :stripe_subscription_id,
			:plan_type, :status, :current_period_start, :current_period_end,
			:cancel_at_period_end, :card_fingerprint, :pending_plan_change, :auto_renew,
			:created_at, :updated_at
		)
		ON CONFLICT (user_id) DO UPDATE SET
			restaurant_id = EXCLUDED.restaurant_id,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			plan_type = EXCLUDED.plan_type,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			card_fingerprint = EXCLUDED.card_fingerprint,
			pending_plan_change = EXCLUDED.pending_plan_change,
			auto_renew = EXCLUDED.auto_renew,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to upsert subscription").
			WithReportableDetails(map[string]interface{}{
				"user_id": sub.UserID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) GetByUserID(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return r.getOne(ctx, "user_id", userID)
}

func (r *subscriptionRepository) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*subscription.Subscription, error) {
	return r.getOne(ctx, "stripe_subscription_id", stripeSubscriptionID)
}

func (r *subscriptionRepository) GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*subscription.Subscription, error) {
	return r.getOne(ctx, "stripe_customer_id", stripeCustomerID)
}

func (r *subscriptionRepository) getOne(ctx context.Context, column, value string) (*subscription.Subscription, error) {
	var row subscriptionRow
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + column + ` = $1`

	q := r.db.GetQuerier(ctx)
	if err := q.GetContext(ctx, &row, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("subscription not found").
				WithHint("No subscription row matches").
				WithReportableDetails(map[string]interface{}{
					column: value,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load subscription").
			Mark(ierr.ErrDatabase)
	}
	return row.toDomain()
}

func (r *subscriptionRepository) ExistsByCardFingerprint(ctx context.Context, fingerprint, excludeUserID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE card_fingerprint = $1 AND user_id <> $2
		)`

	q := r.db.GetQuerier(ctx)
	if err := q.GetContext(ctx, &exists, query, fingerprint, excludeUserID); err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to check card fingerprint").
			Mark(ierr.ErrDatabase)
	}
	return exists, nil
}
