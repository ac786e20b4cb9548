package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openbilling/payment-core/internal/interfaces"
	"github.com/openbilling/payment-core/internal/models"
)

func newPayment(accountID uuid.UUID, externalKey string) *models.Payment {
	return &models.Payment{
		ID:              uuid.New(),
		AccountID:       accountID,
		PaymentMethodID: uuid.New(),
		ExternalKey:     externalKey,
		StateName:       "AUTH_INIT",
	}
}

func newTransaction(paymentID uuid.UUID, externalKey string) *models.Transaction {
	return &models.Transaction{
		ID:            uuid.New(),
		PaymentID:     paymentID,
		ExternalKey:   externalKey,
		Type:          models.TransactionAuthorize,
		Amount:        decimal.NewFromInt(10),
		Currency:      "USD",
		Status:        models.StatusUnknown,
		EffectiveDate: time.Now().UTC(),
	}
}

func TestMemoryStore_PaymentNumberingPerAccount(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	accountA := uuid.New()
	accountB := uuid.New()

	pa1 := newPayment(accountA, "a-1")
	require.NoError(t, store.InsertPaymentWithTransaction(ctx, pa1, newTransaction(pa1.ID, "t-1")))
	pa2 := newPayment(accountA, "a-2")
	require.NoError(t, store.InsertPaymentWithTransaction(ctx, pa2, newTransaction(pa2.ID, "t-2")))
	pb1 := newPayment(accountB, "b-1")
	require.NoError(t, store.InsertPaymentWithTransaction(ctx, pb1, newTransaction(pb1.ID, "t-3")))

	got1, err := store.GetPayment(ctx, pa1.ID)
	require.NoError(t, err)
	got2, err := store.GetPayment(ctx, pa2.ID)
	require.NoError(t, err)
	got3, err := store.GetPayment(ctx, pb1.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got1.PaymentNumber)
	require.Equal(t, int64(2), got2.PaymentNumber)
	require.Equal(t, int64(1), got3.PaymentNumber)
}

func TestMemoryStore_DuplicateKeysRejected(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	account := uuid.New()

	p := newPayment(account, "dup-payment")
	require.NoError(t, store.InsertPaymentWithTransaction(ctx, p, newTransaction(p.ID, "txn-1")))

	other := newPayment(account, "dup-payment")
	err := store.InsertPaymentWithTransaction(ctx, other, newTransaction(other.ID, "txn-2"))
	require.Error(t, err)

	// Transaction keys are unique within one payment only.
	err = store.UpdatePaymentWithNewTransaction(ctx, p.ID, newTransaction(p.ID, "txn-1"))
	require.Error(t, err)
	require.NoError(t, store.UpdatePaymentWithNewTransaction(ctx, p.ID, newTransaction(p.ID, "txn-3")))
}

func TestMemoryStore_UpdateOnCompletion(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	p := newPayment(uuid.New(), "pay-1")
	txn := newTransaction(p.ID, "txn-1")
	require.NoError(t, store.InsertPaymentWithTransaction(ctx, p, txn))

	update := interfaces.CompletionUpdate{
		PaymentID:         p.ID,
		TransactionID:     txn.ID,
		StateName:         "AUTH_SUCCESS",
		Status:            models.StatusSuccess,
		ProcessedAmount:   decimal.NewFromInt(10),
		ProcessedCurrency: "USD",
	}
	require.NoError(t, store.UpdateOnCompletion(ctx, update))

	gotPayment, err := store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "AUTH_SUCCESS", gotPayment.StateName)

	gotTxn, err := store.GetTransactionByExternalKey(ctx, p.ID, "txn-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, gotTxn.Status)
	require.True(t, gotTxn.ProcessedAmount.Equal(decimal.NewFromInt(10)))
	require.Equal(t, "USD", gotTxn.ProcessedCurrency)

	update.TransactionID = uuid.New()
	require.ErrorIs(t, store.UpdateOnCompletion(ctx, update), interfaces.ErrNotFound)
}

func TestMemoryStore_NotFound(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetPayment(ctx, uuid.New())
	require.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = store.GetPaymentByExternalKey(ctx, "missing")
	require.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = store.GetTransactionByExternalKey(ctx, uuid.New(), "missing")
	require.ErrorIs(t, err, interfaces.ErrNotFound)
	err = store.UpdatePaymentWithNewTransaction(ctx, uuid.New(), newTransaction(uuid.New(), "t"))
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestMemoryStore_TransactionsSortedByEffectiveDate(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	p := newPayment(uuid.New(), "pay-1")
	first := newTransaction(p.ID, "txn-1")
	first.EffectiveDate = time.Now().Add(-time.Hour)
	second := newTransaction(p.ID, "txn-2")

	require.NoError(t, store.InsertPaymentWithTransaction(ctx, p, second))
	require.NoError(t, store.UpdatePaymentWithNewTransaction(ctx, p.ID, first))

	ts, err := store.GetTransactionsForPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, ts, 2)
	require.Equal(t, "txn-1", ts[0].ExternalKey)
	require.Equal(t, "txn-2", ts[1].ExternalKey)

	// Mutating the returned copy must not leak into the store.
	ts[0].Status = models.StatusSuccess
	again, err := store.GetTransactionByExternalKey(ctx, p.ID, "txn-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusUnknown, again.Status)
}
