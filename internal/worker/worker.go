package worker

import (
	"context"
	"errors"

	"storefront-service/internal/broker"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// messageSource is satisfied by *broker.Consumer.
type messageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// PaymentEventWorker feeds payment results from the provider's event topic
// into the reconciler.
type PaymentEventWorker struct {
	consumer     messageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentEventWorker creates a new payment event worker
func NewPaymentEventWorker(consumer messageSource, onResult broker.PaymentResultHandler) *PaymentEventWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentResult(onResult)

	return &PaymentEventWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled. Cancellation is a clean stop.
func (w *PaymentEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment event worker")
	err := w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop stops the worker
func (w *PaymentEventWorker) Stop() error {
	w.logger.Info("Stopping payment event worker")
	return w.consumer.Close()
}
