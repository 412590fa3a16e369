package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dineloop/dineloop/internal/domain/invoice"
	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/dineloop/dineloop/internal/logger"
	"github.com/dineloop/dineloop/internal/postgres"
)

type invoiceRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewInvoiceRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return &invoiceRepository{db: db, logger: logger}
}

const invoiceColumns = `
	id, user_id, stripe_invoice_id, stripe_customer_id, stripe_subscription_id,
	status, currency, total, subtotal, tax, discount,
	period_start, period_end, raw, created_at, updated_at`

// Upsert writes the invoice keyed by stripe_invoice_id. Replays overwrite
// the row, including the raw payload, so the ledger always reflects the
// latest delivery.
func (r *invoiceRepository) Upsert(ctx context.Context, inv *invoice.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `
		) VALUES (
			:id, :user_id, :stripe_invoice_id, :stripe_customer_id, :stripe_subscription_id,
			:status, :currency, :total, :subtotal, :tax, :discount,
			:period_start, :period_end, :raw, :created_at, :updated_at
		)
		ON CONFLICT (stripe_invoice_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			status = EXCLUDED.status,
			currency = EXCLUDED.currency,
			total = EXCLUDED.total,
			subtotal = EXCLUDED.subtotal,
			tax = EXCLUDED.tax,
			discount = EXCLUDED.discount,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			raw = EXCLUDED.raw,
			updated_at = EXCLUDED.updated_at`

	r.logger.Debugw("upserting invoice",
		"stripe_invoice_id", inv.StripeInvoiceID,
		"user_id", inv.UserID,
		"total", inv.Total,
	)

	if _, err := r.db.NamedExecContext(ctx, query, inv); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to upsert invoice").
			WithReportableDetails(map[string]interface{}{
				"stripe_invoice_id": inv.StripeInvoiceID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *invoiceRepository) GetByStripeInvoiceID(ctx context.Context, stripeInvoiceID string) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE stripe_invoice_id = $1`

	q := r.db.GetQuerier(ctx)
	if err := q.GetContext(ctx, &inv, query, stripeInvoiceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("invoice not found").
				WithHint("No invoice row matches").
				WithReportableDetails(map[string]interface{}{
					"stripe_invoice_id": stripeInvoiceID,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load invoice").
			Mark(ierr.ErrDatabase)
	}
	return &inv, nil
}

func (r *invoiceRepository) ListByUserID(ctx context.Context, userID string) ([]*invoice.Invoice, error) {
	var invoices []*invoice.Invoice
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE user_id = $1 ORDER BY created_at DESC`

	q := r.db.GetQuerier(ctx)
	if err := q.SelectContext(ctx, &invoices, query, userID); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices").
			WithReportableDetails(map[string]interface{}{
				"user_id": userID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return invoices, nil
}
