package dto

import (
	"github.com/dineloop/dineloop/internal/domain/invoice"
	"github.com/shopspring/decimal"
)

// InvoiceResponse is the stored invoice plus a major-unit rendering of the
// total for UI convenience.
type InvoiceResponse struct {
	*invoice.Invoice
	DisplayTotal string `json:"display_total"`
}

type ListInvoicesResponse struct {
	Items []*InvoiceResponse `json:"items"`
	Total int                `json:"total"`
}

func NewListInvoicesResponse(invoices []*invoice.Invoice) *ListInvoicesResponse {
	items := make([]*InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		items = append(items, &InvoiceResponse{
			Invoice: inv,
			DisplayTotal: decimal.NewFromInt(inv.Total).
				Div(decimal.NewFromInt(100)).
				StringFixed(2),
		})
	}
	return &ListInvoicesResponse{Items: items, Total: len(items)}
}
