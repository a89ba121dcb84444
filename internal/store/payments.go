package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const transactionColumns = `id, order_id, provider_ref, amount, status, checkout_url, provider_link_id, expires_at, created_at, updated_at`

// GetActiveTransaction returns the order's PENDING transaction, or nil.
func (c *conn) GetActiveTransaction(ctx context.Context, orderID int64) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := sqlx.GetContext(ctx, c.q, &txn,
		"SELECT "+transactionColumns+" FROM payment_transactions WHERE order_id = $1 AND status = $2",
		orderID, models.TransactionStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetTransactionByID retrieves a payment transaction by ID
func (c *conn) GetTransactionByID(ctx context.Context, id int64) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := sqlx.GetContext(ctx, c.q, &txn,
		"SELECT "+transactionColumns+" FROM payment_transactions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetTransactionOrderID resolves the order a provider reference belongs to
// without taking a row lock.
func (c *conn) GetTransactionOrderID(ctx context.Context, ref int64) (int64, error) {
	var orderID int64
	err := sqlx.GetContext(ctx, c.q, &orderID,
		"SELECT order_id FROM payment_transactions WHERE provider_ref = $1", ref)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("payment transaction ref %d: %w", ref, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return orderID, nil
}

// LockTransactionByProviderRef retrieves a transaction by the reference sent
// to the provider and locks its row.
func (c *conn) LockTransactionByProviderRef(ctx context.Context, ref int64) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := sqlx.GetContext(ctx, c.q, &txn,
		"SELECT "+transactionColumns+" FROM payment_transactions WHERE provider_ref = $1 FOR UPDATE", ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment transaction ref %d: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// CreatePaymentTransaction inserts a PENDING transaction. A second PENDING
// transaction for the same order violates uq_payment_transactions_active.
func (c *conn) CreatePaymentTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (order_id, amount, status)
		VALUES ($1, $2, $3)
		RETURNING id, provider_ref, created_at, updated_at`

	return sqlx.GetContext(ctx, c.q, txn, query, txn.OrderID, txn.Amount, txn.Status)
}

// AttachCheckoutLink stores the provider's link on a PENDING transaction.
func (c *conn) AttachCheckoutLink(ctx context.Context, id int64, checkoutURL, linkID string, expiresAt time.Time) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE payment_transactions
		SET checkout_url = $1, provider_link_id = $2, expires_at = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		checkoutURL, linkID, expiresAt, id, models.TransactionStatusPending)
	if err != nil {
		return fmt.Errorf("failed to attach checkout link: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pending payment transaction %d: %w", id, ErrNotFound)
	}
	return nil
}

// TransitionTransaction moves a transaction from one status to another. It
// reports false when the transaction was not in the expected status.
func (c *conn) TransitionTransaction(ctx context.Context, id int64, from, to models.TransactionStatus) (bool, error) {
	res, err := c.q.ExecContext(ctx,
		"UPDATE payment_transactions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update payment transaction: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CancelPendingTransactions cancels every PENDING transaction of an order and
// returns the cancelled rows.
func (c *conn) CancelPendingTransactions(ctx context.Context, orderID int64) ([]models.PaymentTransaction, error) {
	txns := []models.PaymentTransaction{}
	err := sqlx.SelectContext(ctx, c.q, &txns, `
		UPDATE payment_transactions SET status = $1, updated_at = NOW()
		WHERE order_id = $2 AND status = $3
		RETURNING `+transactionColumns,
		models.TransactionStatusCancelled, orderID, models.TransactionStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel payment transactions: %w", err)
	}
	return txns, nil
}
