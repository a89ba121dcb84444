package service

import (
	"context"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const publishTimeout = 3 * time.Second

// EventPublisher is implemented by broker.EventPublisher.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentLinkIssued(ctx context.Context, event *models.PaymentLinkIssuedEvent) error
}

// LinkCache is implemented by redisclient.Client.
type LinkCache interface {
	GetPaymentLink(ctx context.Context, orderID int64) (string, error)
	SetPaymentLink(ctx context.Context, orderID int64, url string, ttl time.Duration) error
	DeletePaymentLink(ctx context.Context, orderID int64) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// publish runs fn with a bounded context and only logs failures; events are
// emitted after the database commit and never undo it.
func publish(ctx context.Context, logger *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		util.WithTraceID(ctx, logger).Error("Failed to publish event",
			zap.String("event", name),
			zap.Error(err))
	}
}
