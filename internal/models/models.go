package models

import "time"

// NoSize is the availability key used by products without size variants.
const NoSize = ""

// Product represents a product in the catalog
type Product struct {
	ID            int64     `db:"id" json:"id"`
	Slug          string    `db:"slug" json:"slug"`
	Name          string    `db:"name" json:"name"`
	Description   string    `db:"description" json:"description"`
	PriceCurrent  int64     `db:"price_current" json:"priceCurrent"`
	PriceOriginal *int64    `db:"price_original" json:"priceOriginal,omitempty"`
	HasSizes      bool      `db:"has_sizes" json:"hasSizes"`
	Published     bool      `db:"published" json:"published"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`

	// Availability maps a size to its quantity. Unsized products carry a
	// single entry under NoSize.
	Availability map[string]int `db:"-" json:"availability"`
}

// HasSize reports whether size is one of the product's defined sizes.
func (p *Product) HasSize(size string) bool {
	if !p.HasSizes || size == NoSize {
		return false
	}
	_, ok := p.Availability[size]
	return ok
}

// ProductStock is one row of per-size inventory
type ProductStock struct {
	ProductID int64  `db:"product_id" json:"productId"`
	Size      string `db:"size" json:"size"`
	Quantity  int    `db:"quantity" json:"quantity"`
}

// Cart belongs to exactly one user
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"userId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// CartItem is a line in a cart joined with the live product data.
type CartItem struct {
	ID          int64  `db:"id" json:"id"`
	CartID      int64  `db:"cart_id" json:"cartId"`
	ProductID   int64  `db:"product_id" json:"productId"`
	Size        string `db:"size" json:"size,omitempty"`
	Quantity    int    `db:"quantity" json:"quantity"`
	ProductSlug string `db:"product_slug" json:"productSlug"`
	ProductName string `db:"product_name" json:"productName"`
	Price       int64  `db:"price" json:"price"`
	HasSizes    bool   `db:"has_sizes" json:"hasSizes"`
	Published   bool   `db:"published" json:"published"`
}

// Order represents a customer order
type Order struct {
	ID                int64         `db:"id" json:"id"`
	Code              string        `db:"code" json:"code"`
	UserID            int64         `db:"user_id" json:"userId"`
	Status            OrderStatus   `db:"status" json:"status"`
	PaymentStatus     PaymentStatus `db:"payment_status" json:"paymentStatus"`
	Subtotal          int64         `db:"subtotal" json:"subtotal"`
	ShippingFee       int64         `db:"shipping_fee" json:"shippingFee"`
	DiscountValue     int64         `db:"discount_value" json:"discountValue"`
	TotalAmount       int64         `db:"total_amount" json:"totalAmount"`
	ShippingAddressID int64         `db:"shipping_address_id" json:"shippingAddressId"`
	OrderType         OrderType     `db:"order_type" json:"orderType"`
	VoucherCode       *string       `db:"voucher_code" json:"voucherCode,omitempty"`
	IdempotencyKey    *string       `db:"idempotency_key" json:"-"`
	CreatedAt         time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updatedAt"`

	Items           []OrderItem      `db:"-" json:"items,omitempty"`
	ShippingAddress *ShippingAddress `db:"-" json:"shippingAddress,omitempty"`
}

// OwnerCancellable reports whether the order owner may still cancel it.
func (o *Order) OwnerCancellable() bool {
	return o.Status == OrderStatusPending && o.PaymentStatus != PaymentStatusPaid
}

// OrderItem is a frozen snapshot of a purchased product line
type OrderItem struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     int64  `db:"order_id" json:"orderId"`
	ProductID   int64  `db:"product_id" json:"productId"`
	ProductSlug string `db:"product_slug" json:"productSlug"`
	ProductName string `db:"product_name" json:"productName"`
	Size        string `db:"size" json:"size,omitempty"`
	Price       int64  `db:"price" json:"price"`
	Quantity    int    `db:"quantity" json:"quantity"`
}

// LineTotal returns price × quantity.
func (i OrderItem) LineTotal() int64 {
	return i.Price * int64(i.Quantity)
}

// ShippingAddress is a point-in-time copy owned by a single order
type ShippingAddress struct {
	ID           int64     `db:"id" json:"id"`
	FullName     string    `db:"full_name" json:"fullName"`
	Phone        string    `db:"phone" json:"phone"`
	AddressLine1 string    `db:"address_line1" json:"addressLine1"`
	AddressLine2 string    `db:"address_line2" json:"addressLine2,omitempty"`
	City         string    `db:"city" json:"city"`
	District     string    `db:"district" json:"district"`
	Ward         string    `db:"ward" json:"ward"`
	PostalCode   string    `db:"postal_code" json:"postalCode"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// PaymentTransaction tracks one hosted checkout link at the provider
type PaymentTransaction struct {
	ID             int64             `db:"id" json:"id"`
	OrderID        int64             `db:"order_id" json:"orderId"`
	ProviderRef    int64             `db:"provider_ref" json:"providerRef"`
	Amount         int64             `db:"amount" json:"amount"`
	Status         TransactionStatus `db:"status" json:"status"`
	CheckoutURL    *string           `db:"checkout_url" json:"checkoutUrl,omitempty"`
	ProviderLinkID *string           `db:"provider_link_id" json:"providerLinkId,omitempty"`
	ExpiresAt      *time.Time        `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updatedAt"`
}

// Usable reports whether the transaction already carries a link that has not expired.
func (t *PaymentTransaction) Usable(now time.Time) bool {
	if t.Status != TransactionStatusPending || t.CheckoutURL == nil || *t.CheckoutURL == "" {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// Expired reports whether the transaction carries a link past its expiry.
func (t *PaymentTransaction) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Voucher grants a flat discount at checkout
type Voucher struct {
	Code          string     `db:"code" json:"code"`
	DiscountValue int64      `db:"discount_value" json:"discountValue"`
	Active        bool       `db:"active" json:"active"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
