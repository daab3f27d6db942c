// Package memory provides in-memory implementations of the client's store
// interfaces. They are safe for concurrent use and suitable for tests, CLIs
// and single-process wallets without persistent storage requirements.
package memory

import (
	"context"
	"sort"
	"sync"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
)

// PaymentStore is an in-memory implementation of stellarconnect.PaymentStore.
// Records are keyed by anchor domain and transaction id and stored as copies,
// so callers cannot mutate stored state through a returned pointer.
type PaymentStore struct {
	records map[string]*stellarconnect.PaymentRecord
	mu      sync.RWMutex
}

// NewPaymentStore creates a new in-memory payment store.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		records: make(map[string]*stellarconnect.PaymentRecord),
	}
}

func paymentKey(domain, id string) string {
	return domain + "|" + id
}

// Save persists a new payment record.
// Returns an error if a record with the same domain and id already exists.
func (s *PaymentStore) Save(ctx context.Context, record *stellarconnect.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := paymentKey(record.Domain, record.TransactionID)
	if _, exists := s.records[key]; exists {
		return stellarconnect.ErrPaymentExists
	}

	s.records[key] = record.Clone()
	return nil
}

// FindByID retrieves a record by anchor domain and transaction id.
func (s *PaymentStore) FindByID(ctx context.Context, domain, id string) (*stellarconnect.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[paymentKey(domain, id)]
	if !exists {
		return nil, stellarconnect.ErrPaymentNotFound
	}

	return record.Clone(), nil
}

// Update replaces the stored copy of an existing record.
func (s *PaymentStore) Update(ctx context.Context, record *stellarconnect.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := paymentKey(record.Domain, record.TransactionID)
	if _, exists := s.records[key]; !exists {
		return stellarconnect.ErrPaymentNotFound
	}

	s.records[key] = record.Clone()
	return nil
}

// List returns records matching the given filters, newest first.
func (s *PaymentStore) List(ctx context.Context, filters stellarconnect.PaymentFilters) ([]*stellarconnect.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*stellarconnect.PaymentRecord
	for _, record := range s.records {
		if filters.Domain != "" && record.Domain != filters.Domain {
			continue
		}
		if filters.Account != "" && record.Account != filters.Account {
			continue
		}
		if filters.Status != nil && record.Status != *filters.Status {
			continue
		}
		result = append(result, record.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filters.Limit > 0 && len(result) > filters.Limit {
		result = result[:filters.Limit]
	}

	return result, nil
}

// Verify that PaymentStore implements stellarconnect.PaymentStore
var _ stellarconnect.PaymentStore = (*PaymentStore)(nil)
