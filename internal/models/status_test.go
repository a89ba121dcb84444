package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipping,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
}

func TestOrderStatusTransitions(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
		OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
		OrderStatusProcessing: {OrderStatusShipping},
		OrderStatusShipping:   {OrderStatusDelivered, OrderStatusReturned},
		OrderStatusDelivered:  {OrderStatusReturned},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestShippingScenario(t *testing.T) {
	assert.False(t, OrderStatusShipping.CanTransitionTo(OrderStatusConfirmed))
	assert.True(t, OrderStatusShipping.CanTransitionTo(OrderStatusDelivered))

	for _, to := range allStatuses {
		if to == OrderStatusReturned {
			assert.True(t, OrderStatusDelivered.CanTransitionTo(to))
			continue
		}
		assert.Falsef(t, OrderStatusDelivered.CanTransitionTo(to), "DELIVERED -> %s", to)
	}
}

func TestOrderStatusValidity(t *testing.T) {
	for _, s := range allStatuses {
		assert.True(t, s.IsValid())
	}
	assert.False(t, OrderStatus("LOST").IsValid())
	assert.False(t, OrderStatus("LOST").CanTransitionTo(OrderStatusPending))

	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusReturned.IsTerminal())
	assert.False(t, OrderStatusDelivered.IsTerminal())
}

func TestPaymentStatusTransitions(t *testing.T) {
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusPaid))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusFailed))
	assert.True(t, PaymentStatusPaid.CanTransitionTo(PaymentStatusRefunded))
	assert.False(t, PaymentStatusPaid.CanTransitionTo(PaymentStatusPending))
	assert.False(t, PaymentStatusFailed.CanTransitionTo(PaymentStatusPaid))
	assert.False(t, PaymentStatusRefunded.CanTransitionTo(PaymentStatusPaid))
}

func TestOwnerCancellable(t *testing.T) {
	cases := []struct {
		status  OrderStatus
		payment PaymentStatus
		want    bool
	}{
		{OrderStatusPending, PaymentStatusPending, true},
		{OrderStatusPending, PaymentStatusFailed, true},
		{OrderStatusPending, PaymentStatusPaid, false},
		{OrderStatusConfirmed, PaymentStatusPending, false},
		{OrderStatusConfirmed, PaymentStatusPaid, false},
	}
	for _, tc := range cases {
		o := &Order{Status: tc.status, PaymentStatus: tc.payment}
		assert.Equalf(t, tc.want, o.OwnerCancellable(), "%s/%s", tc.status, tc.payment)
	}
}

func TestPaymentTransactionUsable(t *testing.T) {
	now := time.Now()
	url := "https://pay.example/abc"
	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)

	assert.True(t, (&PaymentTransaction{Status: TransactionStatusPending, CheckoutURL: &url, ExpiresAt: &later}).Usable(now))
	assert.False(t, (&PaymentTransaction{Status: TransactionStatusPending, CheckoutURL: &url, ExpiresAt: &earlier}).Usable(now))
	assert.False(t, (&PaymentTransaction{Status: TransactionStatusPending}).Usable(now))
	assert.False(t, (&PaymentTransaction{Status: TransactionStatusCancelled, CheckoutURL: &url}).Usable(now))
	assert.True(t, (&PaymentTransaction{ExpiresAt: &earlier}).Expired(now))
}

func TestProductHasSize(t *testing.T) {
	p := &Product{HasSizes: true, Availability: map[string]int{"M": 2, "L": 0}}
	assert.True(t, p.HasSize("M"))
	assert.True(t, p.HasSize("L"))
	assert.False(t, p.HasSize("XL"))
	assert.False(t, p.HasSize(NoSize))

	unsized := &Product{Availability: map[string]int{NoSize: 3}}
	assert.False(t, unsized.HasSize(NoSize))
}
