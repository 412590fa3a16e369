package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dineloop/dineloop/internal/domain/invoice"
	"github.com/dineloop/dineloop/internal/domain/subscription"
	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/dineloop/dineloop/internal/types"
	"github.com/samber/lo"
)

// InvoiceSyncService persists provider invoice payloads into the local
// ledger. Amounts stay integer minor units exactly as delivered; nothing at
// this layer converts to display units.
type InvoiceSyncService interface {
	// PersistFromPayload upserts the invoice and returns it together with
	// the owning subscription row. An invoice whose customer matches no
	// subscription row is a data-integrity failure (ErrOrphanedInvoice).
	PersistFromPayload(ctx context.Context, raw json.RawMessage) (*invoice.Invoice, *subscription.Subscription, error)

	// ListInvoices returns the caller's stored invoices, newest first.
	ListInvoices(ctx context.Context) ([]*invoice.Invoice, error)
}

type invoiceSyncService struct {
	ServiceParams
}

func NewInvoiceSyncService(params ServiceParams) InvoiceSyncService {
	return &invoiceSyncService{ServiceParams: params}
}

// invoicePayload covers the invoice fields the ledger stores. The
// subscription linkage moved under parent.subscription_details in newer API
// versions; both shapes are accepted.
type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Status               string `json:"status"`
	Currency             string `json:"currency"`
	Total                int64  `json:"total"`
	Subtotal             int64  `json:"subtotal"`
	Tax                  int64  `json:"tax"`
	TotalExcludingTax    int64  `json:"total_excluding_tax"`
	PeriodStart          int64  `json:"period_start"`
	PeriodEnd            int64  `json:"period_end"`
	TotalDiscountAmounts []struct {
		Amount int64 `json:"amount"`
	} `json:"total_discount_amounts"`
	Lines struct {
		Data []struct {
			Period *struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (p *invoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return p.Subscription
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		return p.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

func (s *invoiceSyncService) PersistFromPayload(ctx context.Context, raw json.RawMessage) (*invoice.Invoice, *subscription.Subscription, error) {
	var payload invoicePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, ierr.WithError(err).
			WithHint("Invoice payload is not valid JSON").
			Mark(ierr.ErrValidation)
	}
	if payload.ID == "" || payload.Customer == "" {
		return nil, nil, ierr.NewError("invoice payload missing id or customer").
			WithHint("Invoice payload is incomplete").
			Mark(ierr.ErrValidation)
	}

	owner, err := s.SubscriptionRepo.GetByStripeCustomerID(ctx, payload.Customer)
	if err != nil {
		if ierr.Is(err, ierr.ErrNotFound) {
			s.Logger.Errorw("invoice references a customer with no subscription row",
				"stripe_invoice_id", payload.ID,
				"stripe_customer_id", payload.Customer,
			)
			return nil, nil, ierr.NewError("invoice references no known customer").
				WithHint("No subscription row references this billing customer").
				WithReportableDetails(map[string]interface{}{
					"stripe_invoice_id":  payload.ID,
					"stripe_customer_id": payload.Customer,
				}).
				Mark(ierr.ErrOrphanedInvoice)
		}
		return nil, nil, err
	}

	now := s.now()
	inv := &invoice.Invoice{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		UserID:           owner.UserID,
		StripeInvoiceID:  payload.ID,
		StripeCustomerID: payload.Customer,
		Status:           payload.Status,
		Currency:         payload.Currency,
		Total:            payload.Total,
		Subtotal:         payload.Subtotal,
		Tax:              payload.Tax,
		Raw:              raw,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if subID := payload.subscriptionID(); subID != "" {
		inv.StripeSubscriptionID = lo.ToPtr(subID)
	}
	if inv.Tax == 0 && payload.TotalExcludingTax > 0 && payload.Total > payload.TotalExcludingTax {
		inv.Tax = payload.Total - payload.TotalExcludingTax
	}
	for _, discount := range payload.TotalDiscountAmounts {
		inv.Discount += discount.Amount
	}

	// The first billed line item's service period beats the invoice's
	// nominal period when present.
	start, end := payload.PeriodStart, payload.PeriodEnd
	if len(payload.Lines.Data) > 0 && payload.Lines.Data[0].Period != nil && payload.Lines.Data[0].Period.End > 0 {
		start = payload.Lines.Data[0].Period.Start
		end = payload.Lines.Data[0].Period.End
	}
	if start > 0 {
		inv.PeriodStart = lo.ToPtr(time.Unix(start, 0).UTC())
	}
	if end > 0 {
		inv.PeriodEnd = lo.ToPtr(time.Unix(end, 0).UTC())
	}

	if err := s.InvoiceRepo.Upsert(ctx, inv); err != nil {
		return nil, nil, err
	}

	s.Logger.Infow("invoice persisted",
		"stripe_invoice_id", inv.StripeInvoiceID,
		"user_id", inv.UserID,
		"status", inv.Status,
		"total", inv.Total,
	)
	return inv, owner, nil
}

func (s *invoiceSyncService) ListInvoices(ctx context.Context) ([]*invoice.Invoice, error) {
	userID := types.GetUserID(ctx)
	if userID == "" {
		return nil, ierr.NewError("missing caller identity").
			WithHint("Authentication is required").
			Mark(ierr.ErrPermissionDenied)
	}
	return s.InvoiceRepo.ListByUserID(ctx, userID)
}
