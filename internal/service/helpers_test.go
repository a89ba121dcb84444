package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/paymentgateway"
	"storefront-service/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

var (
	orderCols       = []string{"id", "code", "user_id", "status", "payment_status", "subtotal", "shipping_fee", "discount_value", "total_amount", "shipping_address_id", "order_type", "voucher_code", "idempotency_key", "created_at", "updated_at"}
	orderItemCols   = []string{"id", "order_id", "product_id", "product_slug", "product_name", "size", "price", "quantity"}
	productCols     = []string{"id", "slug", "name", "description", "price_current", "price_original", "has_sizes", "published", "created_at", "updated_at"}
	cartItemCols    = []string{"id", "cart_id", "product_id", "size", "quantity", "product_slug", "product_name", "price", "has_sizes", "published"}
	addressCols     = []string{"id", "full_name", "phone", "address_line1", "address_line2", "city", "district", "ward", "postal_code", "created_at"}
	transactionCols = []string{"id", "order_id", "provider_ref", "amount", "status", "checkout_url", "provider_link_id", "expires_at", "created_at", "updated_at"}
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewFromDB(sqlx.NewDb(db, "postgres")), mock
}

func orderRows(o models.Order) *sqlmock.Rows {
	return sqlmock.NewRows(orderCols).AddRow(
		o.ID, o.Code, o.UserID, string(o.Status), string(o.PaymentStatus),
		o.Subtotal, o.ShippingFee, o.DiscountValue, o.TotalAmount, o.ShippingAddressID,
		string(o.OrderType), nil, nil, testNow, testNow)
}

func pendingOrder(id, userID, total int64) models.Order {
	return models.Order{
		ID:                id,
		Code:              FormatOrderCode(id),
		UserID:            userID,
		Status:            models.OrderStatusPending,
		PaymentStatus:     models.PaymentStatusPending,
		Subtotal:          total,
		TotalAmount:       total,
		ShippingAddressID: 21,
		OrderType:         models.OrderTypeFromCart,
	}
}

func addressRows(id int64) *sqlmock.Rows {
	return sqlmock.NewRows(addressCols).
		AddRow(id, "Nguyễn Văn A", "0912345678", "268 Lý Thường Kiệt", "", "TP.HCM", "Quận 10", "Phường 14", "700000", testNow)
}

func validAddress() ShippingAddressInput {
	return ShippingAddressInput{
		FullName:     "Nguyễn Văn A",
		Phone:        "0912345678",
		AddressLine1: "268 Lý Thường Kiệt",
		City:         "TP.HCM",
		District:     "Quận 10",
		Ward:         "Phường 14",
		PostalCode:   "700000",
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []interface{}
}

func (p *fakePublisher) record(e interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	return p.record(e)
}

func (p *fakePublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	return p.record(e)
}

func (p *fakePublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e)
}

func (p *fakePublisher) PublishPaymentLinkIssued(_ context.Context, e *models.PaymentLinkIssuedEvent) error {
	return p.record(e)
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fakeCache struct {
	mu      sync.Mutex
	links   map[int64]string
	ttls    map[int64]time.Duration
	locks   map[string]string
	deleted []int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		links: map[int64]string{},
		ttls:  map[int64]time.Duration{},
		locks: map[string]string{},
	}
}

func (c *fakeCache) GetPaymentLink(_ context.Context, orderID int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.links[orderID], nil
}

func (c *fakeCache) SetPaymentLink(_ context.Context, orderID int64, url string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		return nil
	}
	c.links[orderID] = url
	c.ttls[orderID] = ttl
	return nil
}

func (c *fakeCache) DeletePaymentLink(_ context.Context, orderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.links, orderID)
	c.deleted = append(c.deleted, orderID)
	return nil
}

func (c *fakeCache) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[key]; held {
		return "", false, nil
	}
	c.locks[key] = "token-" + key
	return c.locks[key], true, nil
}

func (c *fakeCache) ReleaseLock(_ context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] == token {
		delete(c.locks, key)
	}
	return nil
}

type fakeProvider struct {
	mu        sync.Mutex
	created   []paymentgateway.LinkRequest
	cancelled []int64
	err       error
}

func (p *fakeProvider) CreatePaymentLink(_ context.Context, req paymentgateway.LinkRequest) (*paymentgateway.Link, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.created = append(p.created, req)
	return &paymentgateway.Link{
		LinkID:      fmt.Sprintf("pl_%d", req.Ref),
		CheckoutURL: fmt.Sprintf("https://pay.example/web/%d", req.Ref),
		ExpiresAt:   req.ExpiresAt,
	}, nil
}

func (p *fakeProvider) CancelPaymentLink(_ context.Context, ref int64, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, ref)
	return nil
}

type fakeRevoker struct {
	orderID int64
	txns    []models.PaymentTransaction
}

func (r *fakeRevoker) RevokeLinks(_ context.Context, orderID int64, txns []models.PaymentTransaction, _ string) {
	r.orderID = orderID
	r.txns = txns
}
