package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentLinkIssued  = "PAYMENT_LINK_ISSUED"
	EventTypePaymentSuccess     = "PAYMENT_SUCCESS"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
	EventTypePaymentCancelled   = "PAYMENT_CANCELLED"
	EventTypePaymentExpired     = "PAYMENT_EXPIRED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderCode   string          `json:"order_code"`
	UserID      int64           `json:"user_id"`
	OrderType   OrderType       `json:"order_type"`
	TotalAmount int64           `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderCancelledEvent published when an order is cancelled and restocked
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	Reason  string `json:"reason"`
}

// OrderStatusChangedEvent published on every status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64       `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

// PaymentLinkIssuedEvent published when a new provider link is created
type PaymentLinkIssuedEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	ProviderRef int64  `json:"provider_ref"`
	Amount      int64  `json:"amount"`
	CheckoutURL string `json:"checkout_url"`
}

// PaymentResultEvent is published by the webhook receiver for the provider.
// EventType is one of the PAYMENT_* result types.
type PaymentResultEvent struct {
	BaseEvent
	ProviderRef int64  `json:"provider_ref"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}
