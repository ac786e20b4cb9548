package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openbilling/payment-core/internal/interfaces"
	"github.com/openbilling/payment-core/internal/models"
)

// MemoryStore keeps payments and transactions in process memory with the same
// semantics as PostgresStore: per-account payment numbering, idempotency-key
// uniqueness within a payment, atomic completion update.
type MemoryStore struct {
	mu           sync.RWMutex
	payments     map[uuid.UUID]*models.Payment
	byKey        map[string]uuid.UUID
	transactions map[uuid.UUID][]*models.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:     make(map[uuid.UUID]*models.Payment),
		byKey:        make(map[string]uuid.UUID),
		transactions: make(map[uuid.UUID][]*models.Transaction),
	}
}

func (s *MemoryStore) InsertPaymentWithTransaction(_ context.Context, payment *models.Payment, transaction *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byKey[payment.ExternalKey]; dup {
		return fmt.Errorf("payment external key %q already exists", payment.ExternalKey)
	}

	var number int64
	for _, p := range s.payments {
		if p.AccountID == payment.AccountID && p.PaymentNumber > number {
			number = p.PaymentNumber
		}
	}
	payment.PaymentNumber = number + 1
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	cp := *payment
	s.payments[payment.ID] = &cp
	s.byKey[payment.ExternalKey] = payment.ID
	return s.appendTransaction(transaction)
}

func (s *MemoryStore) UpdatePaymentWithNewTransaction(_ context.Context, paymentID uuid.UUID, transaction *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return interfaces.ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	return s.appendTransaction(transaction)
}

func (s *MemoryStore) appendTransaction(t *models.Transaction) error {
	for _, existing := range s.transactions[t.PaymentID] {
		if existing.ExternalKey == t.ExternalKey {
			return fmt.Errorf("transaction external key %q already exists for payment %s", t.ExternalKey, t.PaymentID)
		}
	}
	cp := *t
	s.transactions[t.PaymentID] = append(s.transactions[t.PaymentID], &cp)
	return nil
}

func (s *MemoryStore) UpdateOnCompletion(_ context.Context, u interfaces.CompletionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[u.PaymentID]
	if !ok {
		return interfaces.ErrNotFound
	}

	for _, t := range s.transactions[u.PaymentID] {
		if t.ID != u.TransactionID {
			continue
		}
		p.StateName = u.StateName
		p.UpdatedAt = time.Now().UTC()
		t.Status = u.Status
		t.ProcessedAmount = u.ProcessedAmount
		t.ProcessedCurrency = u.ProcessedCurrency
		t.GatewayErrorCode = u.GatewayErrorCode
		t.GatewayErrorMsg = u.GatewayErrorMsg
		return nil
	}
	return interfaces.ErrNotFound
}

func (s *MemoryStore) GetPayment(_ context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPaymentByExternalKey(ctx context.Context, externalKey string) (*models.Payment, error) {
	s.mu.RLock()
	id, ok := s.byKey[externalKey]
	s.mu.RUnlock()
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return s.GetPayment(ctx, id)
}

func (s *MemoryStore) GetTransactionByExternalKey(_ context.Context, paymentID uuid.UUID, externalKey string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transactions[paymentID] {
		if t.ExternalKey == externalKey {
			cp := *t
			return &cp, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (s *MemoryStore) GetTransactionsForPayment(_ context.Context, paymentID uuid.UUID) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts := s.transactions[paymentID]
	out := make([]*models.Transaction, len(ts))
	for i, t := range ts {
		cp := *t
		out[i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EffectiveDate.Before(out[j].EffectiveDate) })
	return out, nil
}

var _ interfaces.PaymentStore = (*MemoryStore)(nil)
