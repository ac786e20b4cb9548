// Package repository implements the payment store over Postgres, plus an
// in-memory variant for tests and demo mode.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openbilling/payment-core/internal/interfaces"
	"github.com/openbilling/payment-core/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id UUID PRIMARY KEY,
			account_id UUID NOT NULL,
			payment_method_id UUID NOT NULL,
			external_key VARCHAR(255) NOT NULL UNIQUE,
			payment_number BIGINT NOT NULL,
			state_name VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_account ON payments(account_id)`,
		`CREATE TABLE IF NOT EXISTS payment_transactions (
			id UUID PRIMARY KEY,
			payment_id UUID NOT NULL REFERENCES payments(id),
			external_key VARCHAR(255) NOT NULL,
			transaction_type VARCHAR(16) NOT NULL,
			amount NUMERIC(18,9) NOT NULL,
			currency VARCHAR(8) NOT NULL,
			processed_amount NUMERIC(18,9) NOT NULL DEFAULT 0,
			processed_currency VARCHAR(8) NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL,
			gateway_error_code VARCHAR(64) NOT NULL DEFAULT '',
			gateway_error_msg TEXT NOT NULL DEFAULT '',
			effective_date TIMESTAMPTZ NOT NULL,
			UNIQUE (payment_id, external_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_transactions_payment ON payment_transactions(payment_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) InsertPaymentWithTransaction(ctx context.Context, payment *models.Payment, transaction *models.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// First-come sequence per account.
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(payment_number), 0) + 1 FROM payments WHERE account_id = $1
	`, payment.AccountID).Scan(&payment.PaymentNumber)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, account_id, payment_method_id, external_key, payment_number, state_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, payment.ID, payment.AccountID, payment.PaymentMethodID, payment.ExternalKey,
		payment.PaymentNumber, payment.StateName, payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		return err
	}

	if err := insertTransaction(ctx, tx, transaction); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) UpdatePaymentWithNewTransaction(ctx context.Context, paymentID uuid.UUID, transaction *models.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertTransaction(ctx, tx, transaction); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE payments SET updated_at = NOW() WHERE id = $1`, paymentID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_transactions
			(id, payment_id, external_key, transaction_type, amount, currency,
			 processed_amount, processed_currency, status, gateway_error_code, gateway_error_msg, effective_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.ID, t.PaymentID, t.ExternalKey, t.Type, t.Amount.String(), t.Currency,
		t.ProcessedAmount.String(), t.ProcessedCurrency, t.Status, t.GatewayErrorCode, t.GatewayErrorMsg, t.EffectiveDate)
	return err
}

func (s *PostgresStore) UpdateOnCompletion(ctx context.Context, u interfaces.CompletionUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE payments SET state_name = $1, updated_at = NOW() WHERE id = $2
	`, u.StateName, u.PaymentID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("payment %s: %w", u.PaymentID, interfaces.ErrNotFound)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $1, processed_amount = $2, processed_currency = $3,
		    gateway_error_code = $4, gateway_error_msg = $5
		WHERE id = $6
	`, u.Status, u.ProcessedAmount.String(), u.ProcessedCurrency, u.GatewayErrorCode, u.GatewayErrorMsg, u.TransactionID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("transaction %s: %w", u.TransactionID, interfaces.ErrNotFound)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return s.scanPayment(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, payment_method_id, external_key, payment_number, state_name, created_at, updated_at
		FROM payments WHERE id = $1
	`, paymentID))
}

func (s *PostgresStore) GetPaymentByExternalKey(ctx context.Context, externalKey string) (*models.Payment, error) {
	return s.scanPayment(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, payment_method_id, external_key, payment_number, state_name, created_at, updated_at
		FROM payments WHERE external_key = $1
	`, externalKey))
}

func (s *PostgresStore) scanPayment(row *sql.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.AccountID, &p.PaymentMethodID, &p.ExternalKey,
		&p.PaymentNumber, &p.StateName, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetTransactionByExternalKey(ctx context.Context, paymentID uuid.UUID, externalKey string) (*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, transactionSelect+` WHERE payment_id = $1 AND external_key = $2`, paymentID, externalKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, interfaces.ErrNotFound
	}
	return scanTransaction(rows)
}

func (s *PostgresStore) GetTransactionsForPayment(ctx context.Context, paymentID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, transactionSelect+` WHERE payment_id = $1 ORDER BY effective_date`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const transactionSelect = `
	SELECT id, payment_id, external_key, transaction_type, amount, currency,
	       processed_amount, processed_currency, status, gateway_error_code, gateway_error_msg, effective_date
	FROM payment_transactions`

func scanTransaction(rows *sql.Rows) (*models.Transaction, error) {
	var (
		t                 models.Transaction
		amount, processed string
	)
	err := rows.Scan(&t.ID, &t.PaymentID, &t.ExternalKey, &t.Type, &amount, &t.Currency,
		&processed, &t.ProcessedCurrency, &t.Status, &t.GatewayErrorCode, &t.GatewayErrorMsg, &t.EffectiveDate)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if t.ProcessedAmount, err = decimal.NewFromString(processed); err != nil {
		return nil, err
	}
	return &t, nil
}

var _ interfaces.PaymentStore = (*PostgresStore)(nil)
