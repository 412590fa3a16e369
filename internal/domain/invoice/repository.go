package invoice

import "context"

// Repository is the access layer for the invoices ledger.
type Repository interface {
	// Upsert writes the invoice keyed by stripe_invoice_id. A second
	// delivery of the same invoice overwrites, never duplicates.
	Upsert(ctx context.Context, inv *Invoice) error
	GetByStripeInvoiceID(ctx context.Context, stripeInvoiceID string) (*Invoice, error)
	ListByUserID(ctx context.Context, userID string) ([]*Invoice, error)
}
