package service

import (
	"context"
	"regexp"
	"testing"

	"storefront-service/internal/apperrors"
	"storefront-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrderService(t *testing.T, pricing Pricing) (*OrderService, sqlmock.Sqlmock, *fakePublisher, *fakeRevoker) {
	t.Helper()
	st, mock := newMockStore(t)
	pub := &fakePublisher{}
	revoker := &fakeRevoker{}
	svc := NewOrderService(st, NewStockReservation(), pricing, pub, revoker)
	return svc, mock, pub, revoker
}

var defaultPricing = Pricing{FreeShippingThreshold: 500000, FlatShippingFee: 30000}

func expectOrderInserts(mock sqlmock.Sqlmock, orderID int64, items int) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nextval('orders_id_seq')")).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(orderID))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO shipping_addresses")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(21, testNow))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(testNow, testNow))
	for i := 0; i < items; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_items")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100 + i))
	}
}

func TestCreateOrderFromCart(t *testing.T) {
	svc, mock, pub, _ := newTestOrderService(t, defaultPricing)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM carts WHERE user_id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "created_at", "updated_at"}).AddRow(3, 5, testNow, testNow))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ci.cart_id = $1 ORDER BY ci.id")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(cartItemCols).
			AddRow(11, 3, 2, "M", 1, "ao-thun", "Áo Thun", 250000, true, true).
			AddRow(12, 3, 1, "", 1, "pad-chuot", "Pad Chuột", 150000, false, true))
	mock.ExpectExec(regexp.QuoteMeta(decrementSQL)).WithArgs(1, int64(1), "").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(decrementSQL)).WithArgs(1, int64(2), "M").WillReturnResult(sqlmock.NewResult(0, 1))
	expectOrderInserts(mock, 7, 2)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cart_items WHERE cart_id = $1")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	order, err := svc.CreateOrder(context.Background(), 5, &CreateOrderRequest{
		ShippingAddress: validAddress(),
		OrderType:       models.OrderTypeFromCart,
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "#ORD-0007", order.Code)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, int64(400000), order.Subtotal)
	assert.Equal(t, int64(30000), order.ShippingFee)
	assert.Equal(t, int64(0), order.DiscountValue)
	assert.Equal(t, int64(430000), order.TotalAmount)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Áo Thun", order.Items[0].ProductName)
	assert.Equal(t, "M", order.Items[0].Size)

	var sum int64
	for _, item := range order.Items {
		sum += item.LineTotal()
	}
	assert.Equal(t, sum+order.ShippingFee-order.DiscountValue, order.TotalAmount)

	assert.Equal(t, 1, pub.count())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderEmptyCart(t *testing.T) {
	svc, mock, _, _ := newTestOrderService(t, defaultPricing)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM carts WHERE user_id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "created_at", "updated_at"}).AddRow(3, 5, testNow, testNow))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ci.cart_id = $1")).
		WillReturnRows(sqlmock.NewRows(cartItemCols))
	mock.ExpectRollback()

	_, err := svc.CreateOrder(context.Background(), 5, &CreateOrderRequest{
		ShippingAddress: validAddress(),
		OrderType:       models.OrderTypeFromCart,
	}, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectDirectProduct(mock sqlmock.Sqlmock, stock int) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(productCols).
			AddRow(9, "moc-khoa", "Móc Khóa", "", 25000, nil, false, true, testNow, testNow))
	mock.ExpectQuery(regexp.QuoteMeta("FROM product_stocks WHERE product_id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "size", "quantity"}).AddRow(9, "", stock))
}

func TestCreateOrderDirectPurchaseWithVoucher(t *testing.T) {
	svc, mock, _, _ := newTestOrderService(t, Pricing{FreeShippingThreshold: 20000, FlatShippingFee: 30000})

	mock.ExpectBegin()
	expectDirectProduct(mock, 5)
	mock.ExpectExec(regexp.QuoteMeta(decrementSQL)).WithArgs(1, int64(9), "").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM vouchers WHERE code = $1")).
		WithArgs("GIAM10K").
		WillReturnRows(sqlmock.NewRows([]string{"code", "discount_value", "active", "expires_at"}).AddRow("GIAM10K", 10000, true, nil))
	expectOrderInserts(mock, 8, 1)
	mock.ExpectCommit()

	order, err := svc.CreateOrder(context.Background(), 5, &CreateOrderRequest{
		ShippingAddress: validAddress(),
		OrderType:       models.OrderTypeDirectPurchase,
		ProductID:       9,
		ProductSlug:     "moc-khoa",
		Quantity:        1,
		VoucherCode:     "giam10k",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, int64(25000), order.Subtotal)
	assert.Equal(t, int64(0), order.ShippingFee)
	assert.Equal(t, int64(10000), order.DiscountValue)
	assert.Equal(t, int64(15000), order.TotalAmount)
	require.NotNil(t, order.VoucherCode)
	assert.Equal(t, "GIAM10K", *order.VoucherCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderInsufficientStockRollsBack(t *testing.T) {
	svc, mock, pub, _ := newTestOrderService(t, defaultPricing)

	mock.ExpectBegin()
	expectDirectProduct(mock, 1)
	mock.ExpectExec(regexp.QuoteMeta(decrementSQL)).WithArgs(2, int64(9), "").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT quantity FROM product_stocks")).
		WithArgs(int64(9), "").
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(1))
	mock.ExpectRollback()

	_, err := svc.CreateOrder(context.Background(), 5, &CreateOrderRequest{
		ShippingAddress: validAddress(),
		OrderType:       models.OrderTypeDirectPurchase,
		ProductID:       9,
		Quantity:        2,
	}, "")
	require.Error(t, err)

	typed := apperrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, apperrors.CodeInsufficientStock, typed.Code())
	shortage := typed.Details().(apperrors.StockShortage)
	assert.Equal(t, "Móc Khóa", shortage.ProductName)
	assert.Equal(t, 1, shortage.Available)
	assert.Equal(t, 2, shortage.Requested)

	assert.Equal(t, 0, pub.count())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderRejectsSlugMismatch(t *testing.T) {
	svc, mock, _, _ := newTestOrderService(t, defaultPricing)

	mock.ExpectBegin()
	expectDirectProduct(mock, 5)
	mock.ExpectRollback()

	_, err := svc.CreateOrder(context.Background(), 5, &CreateOrderRequest{
		ShippingAddress: validAddress(),
		OrderType:       models.OrderTypeDirectPurchase,
		ProductID:       9,
		ProductSlug:     "ao-thun",
		Quantity:        1,
	}, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderValidatesInput(t *testing.T) {
	svc, mock, _, _ := newTestOrderService(t, defaultPricing)

	addr := validAddress()
	addr.Phone = "12345"
	_, err := svc.CreateOrder(context.Background(), 5, &CreateOrderRequest{
		ShippingAddress: addr,
		OrderType:       models.OrderTypeDirectPurchase,
	}, "")
	require.Error(t, err)

	typed := apperrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, apperrors.CodeValidation, typed.Code())
	details := typed.Details().(map[string]string)
	assert.Contains(t, details, "shippingAddress.phone")
	assert.Contains(t, details, "productId")
	assert.Contains(t, details, "quantity")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderRejectsBlankAddressFields(t *testing.T) {
	svc, mock, _, _ := newTestOrderService(t, defaultPricing)

	addr := validAddress()
	addr.FullName = "   "
	addr.AddressLine1 = " "
	addr.City = "\t"
	addr.District = " "
	addr.Ward = "  "
	_, err := svc.CreateOrder(context.Background(), 5, &CreateOrderRequest{
		ShippingAddress: addr,
		OrderType:       models.OrderTypeFromCart,
	}, "")

	typed := apperrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, apperrors.CodeValidation, typed.Code())
	assert.Equal(t, map[string]string{
		"shippingAddress.fullName":     "is required",
		"shippingAddress.addressLine1": "is required",
		"shippingAddress.city":         "is required",
		"shippingAddress.district":     "is required",
		"shippingAddress.ward":         "is required",
	}, typed.Details())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderReplaysIdempotencyKey(t *testing.T) {
	svc, mock, pub, _ := newTestOrderService(t, defaultPricing)

	existing := pendingOrder(7, 5, 430000)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND idempotency_key = $2")).
		WithArgs(int64(5), "checkout-1").
		WillReturnRows(orderRows(existing))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE order_id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(orderItemCols).AddRow(100, 7, 2, "ao-thun", "Áo Thun", "M", 250000, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM shipping_addresses WHERE id = $1")).
		WithArgs(int64(21)).
		WillReturnRows(addressRows(21))

	order, err := svc.CreateOrder(context.Background(), 5, &CreateOrderRequest{
		ShippingAddress: validAddress(),
		OrderType:       models.OrderTypeFromCart,
	}, "checkout-1")
	require.NoError(t, err)

	assert.Equal(t, int64(7), order.ID)
	assert.Len(t, order.Items, 1)
	assert.NotNil(t, order.ShippingAddress)
	assert.Equal(t, 0, pub.count())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOrderRestocksAndRevokesLinks(t *testing.T) {
	svc, mock, pub, revoker := newTestOrderService(t, defaultPricing)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(orderRows(pendingOrder(7, 5, 430000)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE order_id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(orderItemCols).
			AddRow(100, 7, 2, "ao-thun", "Áo Thun", "M", 250000, 1).
			AddRow(101, 7, 1, "pad-chuot", "Pad Chuột", "", 150000, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE product_stocks SET quantity = quantity + $1")).
		WithArgs(1, int64(1), "").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE product_stocks SET quantity = quantity + $1")).
		WithArgs(1, int64(2), "M").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE payment_transactions SET status = $1")).
		WithArgs(models.TransactionStatusCancelled, int64(7), models.TransactionStatusPending).
		WillReturnRows(sqlmock.NewRows(transactionCols).
			AddRow(1, 7, 100001, 430000, "CANCELLED", "https://pay.example/web/100001", "pl_1", testNow, testNow, testNow))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = $1")).
		WithArgs(models.OrderStatusCancelled, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := svc.CancelOrder(context.Background(), 5, 7)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, int64(7), revoker.orderID)
	require.Len(t, revoker.txns, 1)
	assert.Equal(t, int64(100001), revoker.txns[0].ProviderRef)
	assert.Equal(t, 2, pub.count())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOrderRequiresPendingUnpaid(t *testing.T) {
	cases := []struct {
		name    string
		status  models.OrderStatus
		payment models.PaymentStatus
	}{
		{"confirmed", models.OrderStatusConfirmed, models.PaymentStatusPending},
		{"paid", models.OrderStatusPending, models.PaymentStatusPaid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mock, _, _ := newTestOrderService(t, defaultPricing)

			o := pendingOrder(7, 5, 430000)
			o.Status = tc.status
			o.PaymentStatus = tc.payment

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1 FOR UPDATE")).
				WithArgs(int64(7)).
				WillReturnRows(orderRows(o))
			mock.ExpectRollback()

			_, err := svc.CancelOrder(context.Background(), 5, 7)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidStatusTransition))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCancelOrderHidesOtherUsersOrders(t *testing.T) {
	svc, mock, _, _ := newTestOrderService(t, defaultPricing)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(orderRows(pendingOrder(7, 99, 430000)))
	mock.ExpectRollback()

	_, err := svc.CancelOrder(context.Background(), 5, 7)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusFollowsTransitionTable(t *testing.T) {
	svc, mock, pub, _ := newTestOrderService(t, defaultPricing)

	shipping := pendingOrder(7, 5, 430000)
	shipping.Status = models.OrderStatusShipping
	shipping.PaymentStatus = models.PaymentStatusPaid

	// SHIPPING -> CONFIRMED is rejected
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(orderRows(shipping))
	mock.ExpectRollback()

	_, err := svc.UpdateStatus(context.Background(), 7, &UpdateStatusRequest{Status: models.OrderStatusConfirmed})
	require.Error(t, err)
	typed := apperrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, apperrors.CodeInvalidStatusTransition, typed.Code())
	assert.Equal(t, apperrors.StatusTransition{Current: "SHIPPING", Requested: "CONFIRMED"}, typed.Details())

	// SHIPPING -> DELIVERED succeeds
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(orderRows(shipping))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = $1")).
		WithArgs(models.OrderStatusDelivered, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE order_id = $1")).
		WillReturnRows(sqlmock.NewRows(orderItemCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM shipping_addresses WHERE id = $1")).
		WillReturnRows(addressRows(21))

	order, err := svc.UpdateStatus(context.Background(), 7, &UpdateStatusRequest{Status: models.OrderStatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, order.Status)
	assert.Equal(t, 1, pub.count())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	svc, mock, _, _ := newTestOrderService(t, defaultPricing)

	_, err := svc.UpdateStatus(context.Background(), 7, &UpdateStatusRequest{Status: "LOST"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAllOrdersRejectsUnknownStatus(t *testing.T) {
	svc, _, _, _ := newTestOrderService(t, defaultPricing)

	_, err := svc.ListAllOrders(context.Background(), "LOST", 0, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestFormatOrderCode(t *testing.T) {
	assert.Equal(t, "#ORD-0001", FormatOrderCode(1))
	assert.Equal(t, "#ORD-12345", FormatOrderCode(12345))
}
