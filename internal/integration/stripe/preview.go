package stripe

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// PreviewPlanChange asks Stripe for the upcoming invoice as if the
// subscription's item were swapped to the new price. Nothing is persisted on
// either side.
func (g *stripeGateway) PreviewPlanChange(ctx context.Context, params PreviewParams) (*InvoicePreview, error) {
	itemID, err := g.currentItemID(ctx, params.SubscriptionID)
	if err != nil {
		return nil, err
	}

	previewParams := &stripe.InvoiceCreatePreviewParams{
		Customer:     stripe.String(params.CustomerID),
		Subscription: stripe.String(params.SubscriptionID),
		SubscriptionDetails: &stripe.InvoiceCreatePreviewSubscriptionDetailsParams{
			Items: []*stripe.InvoiceCreatePreviewSubscriptionDetailsItemParams{
				{
					ID:    stripe.String(itemID),
					Price: stripe.String(params.NewPriceID),
				},
			},
		},
	}
	if params.ProrationBehavior != "" {
		previewParams.SubscriptionDetails.ProrationBehavior = stripe.String(string(params.ProrationBehavior))
	}

	invoice, err := g.client.V1Invoices.CreatePreview(ctx, previewParams)
	if err != nil {
		return nil, wrapProviderErr(err, "Could not preview plan change", map[string]interface{}{
			"subscription_id": params.SubscriptionID,
			"new_price_id":    params.NewPriceID,
		})
	}

	preview := &InvoicePreview{
		Currency:  string(invoice.Currency),
		AmountDue: invoice.AmountDue,
		Subtotal:  invoice.Subtotal,
		Tax:       invoice.Total - invoice.TotalExcludingTax,
		Total:     invoice.Total,
	}
	if invoice.NextPaymentAttempt > 0 {
		next := time.Unix(invoice.NextPaymentAttempt, 0).UTC()
		preview.NextPaymentAttempt = &next
	}
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			previewLine := PreviewLine{
				Description: line.Description,
				Amount:      line.Amount,
			}
			if line.Parent != nil && line.Parent.SubscriptionItemDetails != nil {
				previewLine.Proration = line.Parent.SubscriptionItemDetails.Proration
			}
			if line.Period != nil {
				previewLine.PeriodStart = time.Unix(line.Period.Start, 0).UTC()
				previewLine.PeriodEnd = time.Unix(line.Period.End, 0).UTC()
			}
			preview.Lines = append(preview.Lines, previewLine)
		}
	}
	return preview, nil
}

func (g *stripeGateway) RetrieveInvoice(ctx context.Context, invoiceID string) (*stripe.Invoice, error) {
	invoice, err := g.client.V1Invoices.Retrieve(ctx, invoiceID, nil)
	if err != nil {
		return nil, wrapProviderErr(err, "Could not retrieve invoice", map[string]interface{}{
			"invoice_id": invoiceID,
		})
	}
	return invoice, nil
}

func (g *stripeGateway) RetrievePrice(ctx context.Context, priceID string) (*stripe.Price, error) {
	price, err := g.client.V1Prices.Retrieve(ctx, priceID, nil)
	if err != nil {
		return nil, wrapProviderErr(err, "Could not retrieve price", map[string]interface{}{
			"price_id": priceID,
		})
	}
	return price, nil
}
