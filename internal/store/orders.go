package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, code, user_id, status, payment_status, subtotal, shipping_fee, discount_value,
	total_amount, shipping_address_id, order_type, voucher_code, idempotency_key, created_at, updated_at`

// NextOrderID reserves the next order id so the code can be derived before insert.
func (c *conn) NextOrderID(ctx context.Context) (int64, error) {
	var id int64
	if err := sqlx.GetContext(ctx, c.q, &id, "SELECT nextval('orders_id_seq')"); err != nil {
		return 0, fmt.Errorf("failed to allocate order id: %w", err)
	}
	return id, nil
}

// CreateShippingAddress stores a frozen address copy
func (c *conn) CreateShippingAddress(ctx context.Context, addr *models.ShippingAddress) error {
	query := `
		INSERT INTO shipping_addresses (full_name, phone, address_line1, address_line2, city, district, ward, postal_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	return sqlx.GetContext(ctx, c.q, addr, query,
		addr.FullName, addr.Phone, addr.AddressLine1, addr.AddressLine2,
		addr.City, addr.District, addr.Ward, addr.PostalCode)
}

// CreateOrder creates a new order; order.ID and order.Code must be set
func (c *conn) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, code, user_id, status, payment_status, subtotal, shipping_fee, discount_value,
			total_amount, shipping_address_id, order_type, voucher_code, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	return sqlx.GetContext(ctx, c.q, order, query,
		order.ID, order.Code, order.UserID, order.Status, order.PaymentStatus,
		order.Subtotal, order.ShippingFee, order.DiscountValue, order.TotalAmount,
		order.ShippingAddressID, order.OrderType, order.VoucherCode, order.IdempotencyKey)
}

// CreateOrderItem creates a new order item
func (c *conn) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, product_slug, product_name, size, price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return sqlx.GetContext(ctx, c.q, &item.ID, query,
		item.OrderID, item.ProductID, item.ProductSlug, item.ProductName, item.Size, item.Price, item.Quantity)
}

// GetOrderByID retrieves an order by ID
func (c *conn) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return c.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

// GetOrderForUser retrieves an order only if it belongs to userID
func (c *conn) GetOrderForUser(ctx context.Context, id, userID int64) (*models.Order, error) {
	return c.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 AND user_id = $2", id, userID)
}

// LockOrder retrieves an order and locks its row for the rest of the transaction.
func (c *conn) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return c.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

// GetOrderByIdempotencyKey retrieves a user's order by idempotency key
func (c *conn) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	order, err := c.getOrder(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 AND idempotency_key = $2", userID, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return order, err
}

func (c *conn) getOrder(ctx context.Context, query string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, c.q, &order, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByUser retrieves orders for a user, newest first
func (c *conn) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := sqlx.SelectContext(ctx, c.q, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	return orders, err
}

// ListOrders retrieves orders across users, optionally filtered by status
func (c *conn) ListOrders(ctx context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error) {
	orders := []models.Order{}
	err := sqlx.SelectContext(ctx, c.q, &orders, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		string(status), limit, offset)
	return orders, err
}

// UpdateOrderStatus updates order status
func (c *conn) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	_, err := c.q.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// UpdateOrderPaymentStatus updates order payment status
func (c *conn) UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) error {
	_, err := c.q.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// GetOrderItemsByOrderID retrieves all items for an order
func (c *conn) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := sqlx.SelectContext(ctx, c.q, &items, `
		SELECT id, order_id, product_id, product_slug, product_name, size, price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	return items, err
}

// GetShippingAddress retrieves a frozen address by ID
func (c *conn) GetShippingAddress(ctx context.Context, id int64) (*models.ShippingAddress, error) {
	var addr models.ShippingAddress
	err := sqlx.GetContext(ctx, c.q, &addr, `
		SELECT id, full_name, phone, address_line1, address_line2, city, district, ward, postal_code, created_at
		FROM shipping_addresses WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("shipping address %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// IsEventProcessed checks if an event has been processed
func (c *conn) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, c.q, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed records an event; it reports false when the event was
// already recorded.
func (c *conn) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := c.q.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
