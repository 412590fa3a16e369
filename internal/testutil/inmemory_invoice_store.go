package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/dineloop/dineloop/internal/domain/invoice"
	ierr "github.com/dineloop/dineloop/internal/errors"
)

// InMemoryInvoiceStore implements invoice.Repository keyed by the remote
// invoice id, like the table's unique constraint.
type InMemoryInvoiceStore struct {
	mu          sync.RWMutex
	byInvoiceID map[string]*invoice.Invoice
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		byInvoiceID: make(map[string]*invoice.Invoice),
	}
}

func (s *InMemoryInvoiceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byInvoiceID = make(map[string]*invoice.Invoice)
}

// Count reports the number of stored invoices, for idempotency assertions.
func (s *InMemoryInvoiceStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byInvoiceID)
}

func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	cp := *inv
	return &cp
}

func (s *InMemoryInvoiceStore) Upsert(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byInvoiceID[inv.StripeInvoiceID]; ok {
		// Keep the original row identity on replays, as the SQL upsert does.
		cp := copyInvoice(inv)
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
		s.byInvoiceID[inv.StripeInvoiceID] = cp
		return nil
	}
	s.byInvoiceID[inv.StripeInvoiceID] = copyInvoice(inv)
	return nil
}

func (s *InMemoryInvoiceStore) GetByStripeInvoiceID(ctx context.Context, stripeInvoiceID string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.byInvoiceID[stripeInvoiceID]
	if !ok {
		return nil, ierr.NewError("invoice not found").
			WithHint("No invoice row matches").
			Mark(ierr.ErrNotFound)
	}
	return copyInvoice(inv), nil
}

func (s *InMemoryInvoiceStore) ListByUserID(ctx context.Context, userID string) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var invoices []*invoice.Invoice
	for _, inv := range s.byInvoiceID {
		if inv.UserID == userID {
			invoices = append(invoices, copyInvoice(inv))
		}
	}
	sort.Slice(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})
	return invoices, nil
}
