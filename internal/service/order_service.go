package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-service/internal/apperrors"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"
	"storefront-service/internal/validation"

	"go.uber.org/zap"
)

const (
	maxIdempotencyKeyLen = 100
	defaultListLimit     = 50
	maxListLimit         = 200
)

// linkRevoker invalidates the payment links of a cancelled order.
type linkRevoker interface {
	RevokeLinks(ctx context.Context, orderID int64, txns []models.PaymentTransaction, reason string)
}

// OrderService handles order business logic
type OrderService struct {
	store          *store.Store
	reservation    *StockReservation
	pricing        Pricing
	eventPublisher EventPublisher
	links          linkRevoker
	now            func() time.Time
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	store *store.Store,
	reservation *StockReservation,
	pricing Pricing,
	eventPublisher EventPublisher,
	links linkRevoker,
) *OrderService {
	return &OrderService{
		store:          store,
		reservation:    reservation,
		pricing:        pricing,
		eventPublisher: eventPublisher,
		links:          links,
		now:            time.Now,
		logger:         util.GetLogger(),
	}
}

// ShippingAddressInput is the address snapshot submitted at checkout
type ShippingAddressInput struct {
	FullName     string `json:"fullName" validate:"required,notblank,max=100"`
	Phone        string `json:"phone" validate:"required,vnphone"`
	AddressLine1 string `json:"addressLine1" validate:"required,notblank,max=255"`
	AddressLine2 string `json:"addressLine2" validate:"max=255"`
	City         string `json:"city" validate:"required,notblank,max=100"`
	District     string `json:"district" validate:"required,notblank,max=100"`
	Ward         string `json:"ward" validate:"required,notblank,max=100"`
	PostalCode   string `json:"postalCode" validate:"required,postalcode"`
}

// CreateOrderRequest represents a checkout request
type CreateOrderRequest struct {
	ShippingAddress ShippingAddressInput `json:"shippingAddress"`
	OrderType       models.OrderType     `json:"orderType" validate:"required,oneof=FROM_CART DIRECT_PURCHASE"`
	ProductID       int64                `json:"productId" validate:"required_if=OrderType DIRECT_PURCHASE,omitempty,min=1"`
	ProductSlug     string               `json:"productSlug" validate:"max=255"`
	Quantity        int                  `json:"quantity" validate:"required_if=OrderType DIRECT_PURCHASE,omitempty,min=1,max=99"`
	Size            string               `json:"size" validate:"max=20"`
	VoucherCode     string               `json:"voucherCode" validate:"max=50"`
}

// UpdateStatusRequest is an administrative status change
type UpdateStatusRequest struct {
	Status models.OrderStatus `json:"status" validate:"required,oneof=PENDING CONFIRMED PROCESSING SHIPPING DELIVERED CANCELLED RETURNED"`
}

// FormatOrderCode renders the human-readable code of an order id.
func FormatOrderCode(id int64) string {
	return fmt.Sprintf("#ORD-%04d", id)
}

// CreateOrder validates the request, reserves stock and persists the order,
// its items and its address in one transaction. A repeated idempotency key
// returns the order created by the first request.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, req *CreateOrderRequest, idempotencyKey string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := validation.Struct(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	var key *string
	if k := strings.TrimSpace(idempotencyKey); k != "" {
		if len(k) > maxIdempotencyKeyLen {
			return nil, apperrors.New(apperrors.CodeValidation, "validation failed").
				WithDetails(map[string]string{"Idempotency-Key": fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLen)})
		}
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, userID, k)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", k),
				zap.Int64("order_id", existing.ID))
			return s.withDetails(ctx, existing)
		}
		key = &k
	}

	var order *models.Order
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var (
			lines  []models.OrderItem
			cartID int64
			err    error
		)
		switch req.OrderType {
		case models.OrderTypeFromCart:
			lines, cartID, err = s.cartLines(ctx, tx, userID)
		case models.OrderTypeDirectPurchase:
			lines, err = s.directLine(ctx, tx, req)
		}
		if err != nil {
			return err
		}

		if err := s.reservation.Reserve(ctx, tx, lines); err != nil {
			return err
		}

		var subtotal int64
		for _, line := range lines {
			subtotal += line.LineTotal()
		}

		discount, voucherCode, err := s.resolveVoucher(ctx, tx, req.VoucherCode)
		if err != nil {
			return err
		}
		totals := s.pricing.Quote(subtotal, discount)

		id, err := tx.NextOrderID(ctx)
		if err != nil {
			return err
		}

		addr := shippingAddressFromInput(req.ShippingAddress)
		if err := tx.CreateShippingAddress(ctx, addr); err != nil {
			return fmt.Errorf("failed to create shipping address: %w", err)
		}

		order = &models.Order{
			ID:                id,
			Code:              FormatOrderCode(id),
			UserID:            userID,
			Status:            models.OrderStatusPending,
			PaymentStatus:     models.PaymentStatusPending,
			Subtotal:          totals.Subtotal,
			ShippingFee:       totals.ShippingFee,
			DiscountValue:     totals.DiscountValue,
			TotalAmount:       totals.TotalAmount,
			ShippingAddressID: addr.ID,
			OrderType:         req.OrderType,
			VoucherCode:       voucherCode,
			IdempotencyKey:    key,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for i := range lines {
			lines[i].OrderID = order.ID
			if err := tx.CreateOrderItem(ctx, &lines[i]); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
		}
		order.Items = lines
		order.ShippingAddress = addr

		if cartID != 0 {
			return tx.ClearCart(ctx, cartID)
		}
		return nil
	})
	if err != nil {
		if key != nil && store.IsUniqueViolation(err) {
			if existing, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, userID, *key); lookupErr == nil && existing != nil {
				return s.withDetails(ctx, existing)
			}
		}
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.OrderType)).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("code", order.Code),
		zap.Int64("total_amount", order.TotalAmount))

	publish(ctx, s.logger, models.EventTypeOrderCreated, func(ctx context.Context) error {
		return s.eventPublisher.PublishOrderCreated(ctx, orderCreatedEvent(order))
	})

	return order, nil
}

// cartLines snapshots the caller's cart under a row lock.
func (s *OrderService) cartLines(ctx context.Context, tx *store.Tx, userID int64) ([]models.OrderItem, int64, error) {
	cart, err := tx.LockCart(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, emptyCartError()
	}
	if err != nil {
		return nil, 0, err
	}

	items, err := tx.ListCartItems(ctx, cart.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cart items: %w", err)
	}
	if len(items) == 0 {
		return nil, 0, emptyCartError()
	}

	lines := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		if !item.Published {
			return nil, 0, apperrors.NotFound(fmt.Sprintf("product %s", item.ProductSlug))
		}
		if item.HasSizes == (item.Size == models.NoSize) {
			return nil, 0, apperrors.New(apperrors.CodeValidation, "validation failed").
				WithDetails(map[string]string{"size": fmt.Sprintf("cart line for %s has an invalid size", item.ProductName)})
		}
		lines = append(lines, models.OrderItem{
			ProductID:   item.ProductID,
			ProductSlug: item.ProductSlug,
			ProductName: item.ProductName,
			Size:        item.Size,
			Price:       item.Price,
			Quantity:    item.Quantity,
		})
	}
	return lines, cart.ID, nil
}

func (s *OrderService) directLine(ctx context.Context, tx *store.Tx, req *CreateOrderRequest) ([]models.OrderItem, error) {
	product, err := tx.GetProductByID(ctx, req.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("product")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if !product.Published {
		return nil, apperrors.NotFound("product")
	}
	if req.ProductSlug != "" && req.ProductSlug != product.Slug {
		return nil, apperrors.New(apperrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"productSlug": "does not match productId"})
	}

	size, err := resolveSize(product, req.Size)
	if err != nil {
		return nil, err
	}

	return []models.OrderItem{{
		ProductID:   product.ID,
		ProductSlug: product.Slug,
		ProductName: product.Name,
		Size:        size,
		Price:       product.PriceCurrent,
		Quantity:    req.Quantity,
	}}, nil
}

func (s *OrderService) resolveVoucher(ctx context.Context, tx *store.Tx, code string) (int64, *string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, nil, nil
	}

	voucher, err := tx.GetVoucher(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil, voucherError("is invalid")
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	if !voucher.Active || (voucher.ExpiresAt != nil && !s.now().Before(*voucher.ExpiresAt)) {
		return 0, nil, voucherError("has expired")
	}
	return voucher.DiscountValue, &voucher.Code, nil
}

// GetOrder returns one of the caller's orders with its items and address
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrderForUser(ctx, orderID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("order")
	}
	if err != nil {
		return nil, err
	}
	return s.withDetails(ctx, order)
}

// ListOrders returns the caller's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	return s.store.ListOrdersByUser(ctx, userID)
}

// ListAllOrders returns orders across users, optionally filtered by status
func (s *OrderService) ListAllOrders(ctx context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListAllOrders")
	defer span.End()

	if status != "" && !status.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"status": "is not a known order status"})
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListOrders(ctx, status, limit, offset)
}

// CancelOrder cancels one of the caller's orders while it is still PENDING
// and unpaid, returning its items to stock.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	var (
		order     *models.Order
		cancelled []models.PaymentTransaction
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("order")
		}
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return apperrors.NotFound("order")
		}
		if !order.OwnerCancellable() {
			return apperrors.InvalidStatusTransition(string(order.Status), string(models.OrderStatusCancelled))
		}

		cancelled, err = s.cancelInTx(ctx, tx, order)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.afterCancel(ctx, order, models.OrderStatusPending, cancelled, "owner")
	return order, nil
}

// UpdateStatus applies an administrative status change. It obeys the
// transition table but not the owner cancellation rule.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, req *UpdateStatusRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	var (
		order     *models.Order
		from      models.OrderStatus
		cancelled []models.PaymentTransaction
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("order")
		}
		if err != nil {
			return err
		}

		from = order.Status
		if !from.CanTransitionTo(req.Status) {
			return apperrors.InvalidStatusTransition(string(from), string(req.Status))
		}

		if req.Status == models.OrderStatusCancelled {
			cancelled, err = s.cancelInTx(ctx, tx, order)
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, req.Status); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		order.Status = req.Status
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if order.Status == models.OrderStatusCancelled {
		s.afterCancel(ctx, order, from, cancelled, "admin")
	} else {
		util.OrderStatusTransitionsTotal.WithLabelValues(string(from), string(order.Status)).Inc()
		s.logger.Info("Order status updated",
			zap.Int64("order_id", order.ID),
			zap.String("from", string(from)),
			zap.String("to", string(order.Status)))
		publish(ctx, s.logger, models.EventTypeOrderStatusChanged, func(ctx context.Context) error {
			return s.eventPublisher.PublishOrderStatusChanged(ctx, statusChangedEvent(order.ID, from, order.Status))
		})
	}

	return s.withDetails(ctx, order)
}

// cancelInTx restocks the order's items, cancels its pending payment
// transactions and moves it to CANCELLED. The order row must be locked.
func (s *OrderService) cancelInTx(ctx context.Context, tx *store.Tx, order *models.Order) ([]models.PaymentTransaction, error) {
	items, err := tx.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	if err := s.reservation.Release(ctx, tx, items); err != nil {
		return nil, err
	}

	txns, err := tx.CancelPendingTransactions(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCancelled); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	order.Status = models.OrderStatusCancelled
	order.Items = items
	return txns, nil
}

func (s *OrderService) afterCancel(ctx context.Context, order *models.Order, from models.OrderStatus, txns []models.PaymentTransaction, actor string) {
	reason := fmt.Sprintf("cancelled by %s", actor)
	util.OrdersCancelledTotal.WithLabelValues(actor).Inc()
	util.OrderStatusTransitionsTotal.WithLabelValues(string(from), string(models.OrderStatusCancelled)).Inc()
	s.logger.Info("Order cancelled and restocked",
		zap.Int64("order_id", order.ID),
		zap.String("actor", actor),
		zap.Int("revoked_links", len(txns)))

	if s.links != nil {
		s.links.RevokeLinks(ctx, order.ID, txns, reason)
	}

	publish(ctx, s.logger, models.EventTypeOrderCancelled, func(ctx context.Context) error {
		return s.eventPublisher.PublishOrderCancelled(ctx, &models.OrderCancelledEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
			OrderID:   order.ID,
			UserID:    order.UserID,
			Reason:    reason,
		})
	})
	publish(ctx, s.logger, models.EventTypeOrderStatusChanged, func(ctx context.Context) error {
		return s.eventPublisher.PublishOrderStatusChanged(ctx, statusChangedEvent(order.ID, from, models.OrderStatusCancelled))
	})
}

func (s *OrderService) withDetails(ctx context.Context, order *models.Order) (*models.Order, error) {
	items, err := s.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	addr, err := s.store.GetShippingAddress(ctx, order.ShippingAddressID)
	if err != nil {
		return nil, fmt.Errorf("failed to get shipping address: %w", err)
	}
	order.Items = items
	order.ShippingAddress = addr
	return order, nil
}

func shippingAddressFromInput(in ShippingAddressInput) *models.ShippingAddress {
	return &models.ShippingAddress{
		FullName:     strings.TrimSpace(in.FullName),
		Phone:        strings.TrimSpace(in.Phone),
		AddressLine1: strings.TrimSpace(in.AddressLine1),
		AddressLine2: strings.TrimSpace(in.AddressLine2),
		City:         strings.TrimSpace(in.City),
		District:     strings.TrimSpace(in.District),
		Ward:         strings.TrimSpace(in.Ward),
		PostalCode:   strings.TrimSpace(in.PostalCode),
	}
}

func orderCreatedEvent(order *models.Order) *models.OrderCreatedEvent {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}
	return &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		OrderCode:   order.Code,
		UserID:      order.UserID,
		OrderType:   order.OrderType,
		TotalAmount: order.TotalAmount,
		Items:       items,
	}
}

func statusChangedEvent(orderID int64, from, to models.OrderStatus) *models.OrderStatusChangedEvent {
	return &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   orderID,
		From:      from,
		To:        to,
	}
}

func emptyCartError() error {
	return apperrors.New(apperrors.CodeValidation, "cart is empty").
		WithDetails(map[string]string{"cart": "must contain at least one item"})
}

func voucherError(msg string) error {
	return apperrors.New(apperrors.CodeValidation, "validation failed").
		WithDetails(map[string]string{"voucherCode": msg})
}

func failureReason(err error) string {
	if typed := apperrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "db_error"
}
