package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-service/internal/apperrors"
	"storefront-service/internal/models"
	"storefront-service/internal/paymentgateway"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

const (
	lockGrace           = 5 * time.Second
	defaultPollInterval = 250 * time.Millisecond
	revokeTimeout       = 5 * time.Second
)

// PaymentLink is what the client redirects to.
type PaymentLink struct {
	PaymentURL string `json:"paymentUrl"`
}

// PaymentService issues hosted checkout links for pending orders. It never
// marks an order paid; that only happens when the provider reports a result.
type PaymentService struct {
	store           *store.Store
	provider        paymentgateway.Provider
	cache           LinkCache
	eventPublisher  EventPublisher
	linkTTL         time.Duration
	providerTimeout time.Duration
	pollInterval    time.Duration
	now             func() time.Time
	logger          *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	store *store.Store,
	provider paymentgateway.Provider,
	cache LinkCache,
	eventPublisher EventPublisher,
	linkTTL, providerTimeout time.Duration,
) *PaymentService {
	return &PaymentService{
		store:           store,
		provider:        provider,
		cache:           cache,
		eventPublisher:  eventPublisher,
		linkTTL:         linkTTL,
		providerTimeout: providerTimeout,
		pollInterval:    defaultPollInterval,
		now:             time.Now,
		logger:          util.GetLogger(),
	}
}

// inFlightWindow bounds how long another request's provider call may run.
func (ps *PaymentService) inFlightWindow() time.Duration {
	return ps.providerTimeout + lockGrace
}

func lockKey(orderID int64) string {
	return fmt.Sprintf("payment-link:%d", orderID)
}

// IssuePaymentLink returns the order's active checkout link, creating one at
// the provider only when none is usable. Concurrent calls for the same order
// converge on a single provider transaction.
func (ps *PaymentService) IssuePaymentLink(ctx context.Context, userID, orderID int64) (*PaymentLink, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.IssuePaymentLink")
	defer span.End()

	order, err := ps.store.GetOrderForUser(ctx, orderID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("order")
	}
	if err != nil {
		return nil, err
	}
	if err := checkPayable(order); err != nil {
		return nil, err
	}

	if url := ps.cachedLink(ctx, orderID); url != "" {
		util.PaymentLinksReusedTotal.WithLabelValues("cache").Inc()
		return &PaymentLink{PaymentURL: url}, nil
	}

	held, contended := ps.acquire(ctx, orderID)
	if contended {
		return ps.awaitLink(ctx, orderID)
	}
	if held != "" {
		defer ps.release(orderID, held)
	}

	txn, url, err := ps.prepareTransaction(ctx, orderID, held != "")
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ps.awaitLink(ctx, orderID)
		}
		util.RecordError(span, err)
		return nil, err
	}
	if url != "" {
		util.PaymentLinksReusedTotal.WithLabelValues("db").Inc()
		ps.cacheLink(ctx, orderID, url, txnTTL(txnExpiry(txn), ps.now()))
		return &PaymentLink{PaymentURL: url}, nil
	}
	if txn == nil {
		return ps.awaitLink(ctx, orderID)
	}

	link, err := ps.requestLink(ctx, order, txn)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return link, nil
}

// prepareTransaction decides, under the order row lock, whether an existing
// transaction can serve the request. It returns the URL to reuse, a new
// PENDING transaction to fill, or neither when another request's provider
// call is still in flight.
func (ps *PaymentService) prepareTransaction(ctx context.Context, orderID int64, lockHeld bool) (*models.PaymentTransaction, string, error) {
	var (
		txn *models.PaymentTransaction
		url string
	)
	err := ps.store.WithTx(ctx, func(tx *store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := checkPayable(order); err != nil {
			return err
		}

		active, err := tx.GetActiveTransaction(ctx, orderID)
		if err != nil {
			return err
		}

		now := ps.now()
		if active != nil {
			switch {
			case active.Usable(now):
				txn, url = active, *active.CheckoutURL
				return nil
			case active.Expired(now):
				if _, err := tx.TransitionTransaction(ctx, active.ID, models.TransactionStatusPending, models.TransactionStatusExpired); err != nil {
					return err
				}
			case !lockHeld && now.Sub(active.CreatedAt) < ps.inFlightWindow():
				return nil
			default:
				ps.logger.Warn("Abandoning stale payment attempt",
					zap.Int64("order_id", orderID),
					zap.Int64("provider_ref", active.ProviderRef))
				if _, err := tx.TransitionTransaction(ctx, active.ID, models.TransactionStatusPending, models.TransactionStatusFailed); err != nil {
					return err
				}
			}
		}

		txn = &models.PaymentTransaction{
			OrderID: orderID,
			Amount:  order.TotalAmount,
			Status:  models.TransactionStatusPending,
		}
		return tx.CreatePaymentTransaction(ctx, txn)
	})
	if err != nil {
		return nil, "", err
	}
	return txn, url, nil
}

// requestLink calls the provider outside any database transaction.
func (ps *PaymentService) requestLink(ctx context.Context, order *models.Order, txn *models.PaymentTransaction) (*PaymentLink, error) {
	items, err := ps.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		ps.failTransaction(ctx, txn)
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	addr, err := ps.store.GetShippingAddress(ctx, order.ShippingAddressID)
	if err != nil {
		ps.failTransaction(ctx, txn)
		return nil, fmt.Errorf("failed to get shipping address: %w", err)
	}

	req := paymentgateway.LinkRequest{
		Ref:         txn.ProviderRef,
		Amount:      txn.Amount,
		Description: "Thanh toan " + strings.TrimPrefix(order.Code, "#"),
		BuyerName:   addr.FullName,
		BuyerPhone:  addr.Phone,
		Items:       make([]paymentgateway.Item, 0, len(items)),
		ExpiresAt:   ps.now().Add(ps.linkTTL),
	}
	for _, item := range items {
		name := item.ProductName
		if item.Size != models.NoSize {
			name = fmt.Sprintf("%s (%s)", name, item.Size)
		}
		req.Items = append(req.Items, paymentgateway.Item{Name: name, Quantity: item.Quantity, Price: item.Price})
	}

	providerCtx, cancel := context.WithTimeout(ctx, ps.providerTimeout)
	defer cancel()

	link, err := ps.provider.CreatePaymentLink(providerCtx, req)
	if err != nil {
		util.PaymentLinksFailedTotal.WithLabelValues("provider").Inc()
		ps.failTransaction(ctx, txn)
		ps.logger.Warn("Payment link creation failed",
			zap.Int64("order_id", order.ID),
			zap.Int64("provider_ref", txn.ProviderRef),
			zap.Error(err))
		return nil, apperrors.Wrap(apperrors.CodePaymentLinkFailed, err, "could not create payment link, please retry")
	}

	expiresAt := link.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = req.ExpiresAt
	}

	if err := ps.store.AttachCheckoutLink(ctx, txn.ID, link.CheckoutURL, link.LinkID, expiresAt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The order was cancelled while the provider call was running.
			ps.cancelAtProvider(ctx, txn.ProviderRef, "order no longer payable")
			util.PaymentLinksFailedTotal.WithLabelValues("superseded").Inc()
			return nil, apperrors.New(apperrors.CodeOrderNotPayable, "order changed while the payment link was being created")
		}
		return nil, fmt.Errorf("failed to store payment link: %w", err)
	}

	ps.cacheLink(ctx, order.ID, link.CheckoutURL, txnTTL(&expiresAt, ps.now()))
	util.PaymentLinksIssuedTotal.Inc()
	ps.logger.Info("Payment link issued",
		zap.Int64("order_id", order.ID),
		zap.Int64("provider_ref", txn.ProviderRef))

	publish(ctx, ps.logger, models.EventTypePaymentLinkIssued, func(ctx context.Context) error {
		return ps.eventPublisher.PublishPaymentLinkIssued(ctx, &models.PaymentLinkIssuedEvent{
			BaseEvent:   newBaseEvent(models.EventTypePaymentLinkIssued),
			OrderID:     order.ID,
			ProviderRef: txn.ProviderRef,
			Amount:      txn.Amount,
			CheckoutURL: link.CheckoutURL,
		})
	})

	return &PaymentLink{PaymentURL: link.CheckoutURL}, nil
}

// awaitLink polls for the link another request is creating. It fails once
// that attempt disappears or the in-flight window passes.
func (ps *PaymentService) awaitLink(ctx context.Context, orderID int64) (*PaymentLink, error) {
	ctx, cancel := context.WithTimeout(ctx, ps.inFlightWindow())
	defer cancel()

	ticker := time.NewTicker(ps.pollInterval)
	defer ticker.Stop()

	seen := false
	for {
		active, err := ps.store.GetActiveTransaction(ctx, orderID)
		if err != nil && ctx.Err() == nil {
			return nil, err
		}
		if active != nil && active.Usable(ps.now()) {
			util.PaymentLinksReusedTotal.WithLabelValues("wait").Inc()
			return &PaymentLink{PaymentURL: *active.CheckoutURL}, nil
		}
		if active != nil {
			seen = true
		} else if seen {
			util.PaymentLinksFailedTotal.WithLabelValues("concurrent_attempt").Inc()
			return nil, apperrors.New(apperrors.CodePaymentLinkFailed, "payment link creation failed, please retry")
		}

		select {
		case <-ctx.Done():
			util.PaymentLinksFailedTotal.WithLabelValues("timeout").Inc()
			return nil, apperrors.Wrap(apperrors.CodePaymentLinkFailed, ctx.Err(), "payment link is still being created, please retry")
		case <-ticker.C:
		}
	}
}

// RevokeLinks cancels the provider side of cancelled transactions and drops
// the cached link. Failures are logged; the local state is already final.
func (ps *PaymentService) RevokeLinks(ctx context.Context, orderID int64, txns []models.PaymentTransaction, reason string) {
	for _, txn := range txns {
		if txn.CheckoutURL == nil {
			continue
		}
		ps.cancelAtProvider(ctx, txn.ProviderRef, reason)
	}
	ps.dropCachedLink(ctx, orderID)
}

func (ps *PaymentService) cancelAtProvider(ctx context.Context, ref int64, reason string) {
	ctx, cancel := context.WithTimeout(ctx, revokeTimeout)
	defer cancel()

	if err := ps.provider.CancelPaymentLink(ctx, ref, reason); err != nil {
		ps.logger.Warn("Failed to cancel payment link at provider",
			zap.Int64("provider_ref", ref),
			zap.Error(err))
	}
}

// failTransaction marks an attempt FAILED so the next request starts over.
func (ps *PaymentService) failTransaction(ctx context.Context, txn *models.PaymentTransaction) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), revokeTimeout)
		defer cancel()
	}
	if _, err := ps.store.TransitionTransaction(ctx, txn.ID, models.TransactionStatusPending, models.TransactionStatusFailed); err != nil {
		ps.logger.Error("Failed to mark payment transaction failed",
			zap.Int64("transaction_id", txn.ID),
			zap.Error(err))
	}
}

func (ps *PaymentService) acquire(ctx context.Context, orderID int64) (token string, contended bool) {
	if ps.cache == nil {
		return "", false
	}
	token, ok, err := ps.cache.AcquireLock(ctx, lockKey(orderID), ps.inFlightWindow())
	if err != nil {
		ps.logger.Warn("Payment link lock unavailable, relying on database", zap.Error(err))
		return "", false
	}
	if !ok {
		return "", true
	}
	return token, false
}

func (ps *PaymentService) release(orderID int64, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ps.cache.ReleaseLock(ctx, lockKey(orderID), token); err != nil {
		ps.logger.Warn("Failed to release payment link lock", zap.Error(err))
	}
}

func (ps *PaymentService) cachedLink(ctx context.Context, orderID int64) string {
	if ps.cache == nil {
		return ""
	}
	url, err := ps.cache.GetPaymentLink(ctx, orderID)
	if err != nil {
		ps.logger.Warn("Payment link cache read failed", zap.Error(err))
		return ""
	}
	return url
}

func (ps *PaymentService) cacheLink(ctx context.Context, orderID int64, url string, ttl time.Duration) {
	if ps.cache == nil {
		return
	}
	if err := ps.cache.SetPaymentLink(ctx, orderID, url, ttl); err != nil {
		ps.logger.Warn("Payment link cache write failed", zap.Error(err))
	}
}

func (ps *PaymentService) dropCachedLink(ctx context.Context, orderID int64) {
	if ps.cache == nil {
		return
	}
	if err := ps.cache.DeletePaymentLink(ctx, orderID); err != nil {
		ps.logger.Warn("Payment link cache delete failed", zap.Error(err))
	}
}

func checkPayable(order *models.Order) error {
	if order.Status == models.OrderStatusPending && order.PaymentStatus == models.PaymentStatusPending {
		return nil
	}
	return apperrors.New(apperrors.CodeOrderNotPayable,
		fmt.Sprintf("order is %s with payment %s", order.Status, order.PaymentStatus))
}

func txnExpiry(txn *models.PaymentTransaction) *time.Time {
	if txn == nil {
		return nil
	}
	return txn.ExpiresAt
}

// txnTTL is how long a link may stay cached. Links without an expiry are not
// cached.
func txnTTL(expiresAt *time.Time, now time.Time) time.Duration {
	if expiresAt == nil {
		return 0
	}
	return expiresAt.Sub(now)
}
