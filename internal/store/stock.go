package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DecrementStock takes quantity units from (productID, size) only if that
// many are available at the moment of the update. It reports false, without
// error, when the guard rejects the decrement.
func (c *conn) DecrementStock(ctx context.Context, productID int64, size string, quantity int) (bool, error) {
	res, err := c.q.ExecContext(ctx,
		`UPDATE product_stocks SET quantity = quantity - $1
		 WHERE product_id = $2 AND size = $3 AND quantity >= $1`,
		quantity, productID, size)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IncrementStock returns quantity units to (productID, size). It reports
// false when the stock row no longer exists.
func (c *conn) IncrementStock(ctx context.Context, productID int64, size string, quantity int) (bool, error) {
	res, err := c.q.ExecContext(ctx,
		"UPDATE product_stocks SET quantity = quantity + $1 WHERE product_id = $2 AND size = $3",
		quantity, productID, size)
	if err != nil {
		return false, fmt.Errorf("failed to increment stock: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetStockQuantity reads the current quantity for (productID, size).
func (c *conn) GetStockQuantity(ctx context.Context, productID int64, size string) (int, error) {
	var quantity int
	err := sqlx.GetContext(ctx, c.q, &quantity,
		"SELECT quantity FROM product_stocks WHERE product_id = $1 AND size = $2", productID, size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("stock for product %d size %q: %w", productID, size, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return quantity, nil
}
