package service

import (
	"context"
	"errors"
	"fmt"

	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

var terminalTransactionStatus = map[string]models.TransactionStatus{
	models.EventTypePaymentFailed:    models.TransactionStatusFailed,
	models.EventTypePaymentCancelled: models.TransactionStatusCancelled,
	models.EventTypePaymentExpired:   models.TransactionStatusExpired,
}

// PaymentReconciler applies payment results reported by the provider
type PaymentReconciler struct {
	store          *store.Store
	cache          LinkCache
	eventPublisher EventPublisher
	links          linkRevoker
	logger         *zap.Logger
}

// NewPaymentReconciler creates a new payment reconciler
func NewPaymentReconciler(store *store.Store, cache LinkCache, eventPublisher EventPublisher, links linkRevoker) *PaymentReconciler {
	return &PaymentReconciler{
		store:          store,
		cache:          cache,
		eventPublisher: eventPublisher,
		links:          links,
		logger:         util.GetLogger(),
	}
}

type reconcileResult struct {
	outcome    string
	orderID    int64
	advance    *models.OrderStatusChangedEvent
	superseded []models.PaymentTransaction
}

// HandlePaymentResult applies one PAYMENT_* event. Each event id is applied
// at most once; the ledger row is written in the same transaction as the
// state change. The order row is locked before the transaction row, the same
// order CancelOrder and link issuance use.
func (r *PaymentReconciler) HandlePaymentResult(ctx context.Context, event *models.PaymentResultEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.HandlePaymentResult")
	defer span.End()

	var res reconcileResult
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		first, err := tx.MarkEventProcessed(ctx, event.EventID, event.EventType)
		if err != nil {
			return fmt.Errorf("failed to record event: %w", err)
		}
		if !first {
			res.outcome = "duplicate"
			return nil
		}

		orderID, err := tx.GetTransactionOrderID(ctx, event.ProviderRef)
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("Payment event for unknown transaction",
				zap.String("event_id", event.EventID),
				zap.Int64("provider_ref", event.ProviderRef))
			res.outcome = "unknown_ref"
			return nil
		}
		if err != nil {
			return err
		}

		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		txn, err := tx.LockTransactionByProviderRef(ctx, event.ProviderRef)
		if err != nil {
			return err
		}
		res.orderID = txn.OrderID

		if event.EventType == models.EventTypePaymentSuccess {
			return r.applySuccess(ctx, tx, event, order, txn, &res)
		}
		return r.applyTerminal(ctx, tx, event, txn, &res)
	})
	if err != nil {
		util.PaymentEventsProcessedTotal.WithLabelValues(event.EventType, "error").Inc()
		util.RecordError(span, err)
		return err
	}

	util.PaymentEventsProcessedTotal.WithLabelValues(event.EventType, res.outcome).Inc()
	if res.orderID != 0 && res.outcome != "duplicate" && r.cache != nil {
		if err := r.cache.DeletePaymentLink(ctx, res.orderID); err != nil {
			r.logger.Warn("Payment link cache delete failed", zap.Error(err))
		}
	}
	if len(res.superseded) > 0 && r.links != nil {
		r.links.RevokeLinks(ctx, res.orderID, res.superseded, "superseded by completed payment")
	}
	if res.advance != nil {
		util.OrderStatusTransitionsTotal.WithLabelValues(string(res.advance.From), string(res.advance.To)).Inc()
		publish(ctx, r.logger, models.EventTypeOrderStatusChanged, func(ctx context.Context) error {
			return r.eventPublisher.PublishOrderStatusChanged(ctx, res.advance)
		})
	}
	return nil
}

// applySuccess marks the transaction and the order PAID and confirms a
// PENDING order. Any other PENDING attempt of the order is cancelled and its
// link revoked once the transaction commits.
func (r *PaymentReconciler) applySuccess(ctx context.Context, tx *store.Tx, event *models.PaymentResultEvent, order *models.Order, txn *models.PaymentTransaction, res *reconcileResult) error {
	if txn.Status == models.TransactionStatusPaid {
		res.outcome = "noop"
		return nil
	}
	if event.Amount != 0 && event.Amount != txn.Amount {
		r.logger.Error("Payment amount mismatch, leaving transaction untouched",
			zap.Int64("provider_ref", txn.ProviderRef),
			zap.Int64("expected", txn.Amount),
			zap.Int64("received", event.Amount))
		res.outcome = "amount_mismatch"
		return nil
	}

	if _, err := tx.TransitionTransaction(ctx, txn.ID, txn.Status, models.TransactionStatusPaid); err != nil {
		return err
	}
	superseded, err := tx.CancelPendingTransactions(ctx, txn.OrderID)
	if err != nil {
		return err
	}
	res.superseded = superseded

	if order.PaymentStatus.CanTransitionTo(models.PaymentStatusPaid) {
		if err := tx.UpdateOrderPaymentStatus(ctx, order.ID, models.PaymentStatusPaid); err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}
	}

	switch order.Status {
	case models.OrderStatusPending:
		if err := tx.UpdateOrderStatus(ctx, order.ID, models.OrderStatusConfirmed); err != nil {
			return fmt.Errorf("failed to confirm order: %w", err)
		}
		res.advance = statusChangedEvent(order.ID, models.OrderStatusPending, models.OrderStatusConfirmed)
		r.logger.Info("Order paid and confirmed", zap.Int64("order_id", order.ID))
	case models.OrderStatusCancelled:
		r.logger.Warn("Payment received for cancelled order, refund required",
			zap.Int64("order_id", order.ID),
			zap.Int64("provider_ref", txn.ProviderRef))
	}

	res.outcome = "paid"
	return nil
}

// applyTerminal closes a PENDING transaction. The order stays PENDING so
// the customer can request a new link.
func (r *PaymentReconciler) applyTerminal(ctx context.Context, tx *store.Tx, event *models.PaymentResultEvent, txn *models.PaymentTransaction, res *reconcileResult) error {
	next, ok := terminalTransactionStatus[event.EventType]
	if !ok {
		res.outcome = "ignored"
		return nil
	}

	moved, err := tx.TransitionTransaction(ctx, txn.ID, models.TransactionStatusPending, next)
	if err != nil {
		return err
	}
	if !moved {
		res.outcome = "noop"
		return nil
	}

	r.logger.Info("Payment attempt closed",
		zap.Int64("order_id", txn.OrderID),
		zap.Int64("provider_ref", txn.ProviderRef),
		zap.String("status", string(next)),
		zap.String("reason", event.Reason))
	res.outcome = "closed"
	return nil
}
