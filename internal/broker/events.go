package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedEvent marks messages that can never be handled; they are not retried.
var ErrMalformedEvent = errors.New("malformed event")

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderCancelled publishes OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentLinkIssued publishes PaymentLinkIssued event
func (ep *EventPublisher) PublishPaymentLinkIssued(ctx context.Context, event *models.PaymentLinkIssuedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PaymentResultHandler consumes one provider result.
type PaymentResultHandler func(context.Context, *models.PaymentResultEvent) error

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentResult PaymentResultHandler
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentResult registers the handler for every PAYMENT_* event
func (eh *EventHandler) OnPaymentResult(handler PaymentResultHandler) {
	eh.onPaymentResult = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentSuccess,
		models.EventTypePaymentFailed,
		models.EventTypePaymentCancelled,
		models.EventTypePaymentExpired:
		if eh.onPaymentResult == nil {
			return nil
		}
		var event models.PaymentResultEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, baseEvent.EventType, err)
		}
		if event.EventID == "" || event.ProviderRef == 0 {
			return fmt.Errorf("%w: %s without event id or provider ref", ErrMalformedEvent, baseEvent.EventType)
		}
		return eh.onPaymentResult(ctx, &event)

	default:
		eh.logger.Debug("Ignoring event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
