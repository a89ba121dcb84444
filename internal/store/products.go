package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const productColumns = `id, slug, name, description, price_current, price_original, has_sizes, published, created_at, updated_at`

// GetProductByID retrieves a product by ID with its availability
func (c *conn) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, c.q, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := c.loadAvailability(ctx, []*models.Product{&product}); err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductBySlug retrieves a product by slug with its availability
func (c *conn) GetProductBySlug(ctx context.Context, slug string) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, c.q, &product,
		"SELECT "+productColumns+" FROM products WHERE slug = $1", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := c.loadAvailability(ctx, []*models.Product{&product}); err != nil {
		return nil, err
	}
	return &product, nil
}

// ListPublishedProducts retrieves all published products
func (c *conn) ListPublishedProducts(ctx context.Context) ([]models.Product, error) {
	products := []models.Product{}
	err := sqlx.SelectContext(ctx, c.q, &products,
		"SELECT "+productColumns+" FROM products WHERE published = TRUE ORDER BY id")
	if err != nil {
		return nil, err
	}

	ptrs := make([]*models.Product, len(products))
	for i := range products {
		ptrs[i] = &products[i]
	}
	if err := c.loadAvailability(ctx, ptrs); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *conn) loadAvailability(ctx context.Context, products []*models.Product) error {
	if len(products) == 0 {
		return nil
	}

	byID := make(map[int64]*models.Product, len(products))
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		p.Availability = map[string]int{}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	var stocks []models.ProductStock
	err := sqlx.SelectContext(ctx, c.q, &stocks,
		"SELECT product_id, size, quantity FROM product_stocks WHERE product_id = ANY($1) ORDER BY product_id, size",
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load availability: %w", err)
	}

	for _, s := range stocks {
		if p, ok := byID[s.ProductID]; ok {
			p.Availability[s.Size] = s.Quantity
		}
	}
	return nil
}

// GetVoucher retrieves a voucher by code
func (c *conn) GetVoucher(ctx context.Context, code string) (*models.Voucher, error) {
	var voucher models.Voucher
	err := sqlx.GetContext(ctx, c.q, &voucher,
		"SELECT code, discount_value, active, expires_at FROM vouchers WHERE code = $1", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("voucher %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}
