package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const cartItemSelect = `
	SELECT ci.id, ci.cart_id, ci.product_id, ci.size, ci.quantity,
	       p.slug AS product_slug, p.name AS product_name, p.price_current AS price,
	       p.has_sizes, p.published
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id`

// GetOrCreateCart returns the user's cart, creating it on first use
func (c *conn) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := sqlx.GetContext(ctx, c.q, &cart, `
		INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, user_id, created_at, updated_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create cart: %w", err)
	}
	return &cart, nil
}

// LockCart locks the user's cart row for the rest of the transaction.
func (c *conn) LockCart(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := sqlx.GetContext(ctx, c.q, &cart,
		"SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1 FOR UPDATE", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cart for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// ListCartItems retrieves cart lines joined with live product data
func (c *conn) ListCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	err := sqlx.SelectContext(ctx, c.q, &items,
		cartItemSelect+" WHERE ci.cart_id = $1 ORDER BY ci.id", cartID)
	return items, err
}

// GetCartItem retrieves one line of a cart
func (c *conn) GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := sqlx.GetContext(ctx, c.q, &item,
		cartItemSelect+" WHERE ci.cart_id = $1 AND ci.id = $2", cartID, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// AddCartItem inserts a line or adds quantity to the existing
// (product, size) line. It returns the line id and resulting quantity.
func (c *conn) AddCartItem(ctx context.Context, cartID, productID int64, size string, quantity int) (int64, int, error) {
	var row struct {
		ID       int64 `db:"id"`
		Quantity int   `db:"quantity"`
	}
	err := sqlx.GetContext(ctx, c.q, &row, `
		INSERT INTO cart_items (cart_id, product_id, size, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id, size)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING id, quantity`,
		cartID, productID, size, quantity)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to add cart item: %w", err)
	}
	return row.ID, row.Quantity, nil
}

// UpdateCartItemQuantity sets the quantity of a cart line
func (c *conn) UpdateCartItemQuantity(ctx context.Context, cartID, itemID int64, quantity int) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1, updated_at = NOW() WHERE cart_id = $2 AND id = $3",
		quantity, cartID, itemID)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

// DeleteCartItem removes a cart line
func (c *conn) DeleteCartItem(ctx context.Context, cartID, itemID int64) error {
	res, err := c.q.ExecContext(ctx,
		"DELETE FROM cart_items WHERE cart_id = $1 AND id = $2", cartID, itemID)
	if err != nil {
		return fmt.Errorf("failed to delete cart item: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

// ClearCart removes every line from a cart
func (c *conn) ClearCart(ctx context.Context, cartID int64) error {
	_, err := c.q.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
