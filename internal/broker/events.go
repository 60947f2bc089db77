package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"soilify/internal/models"
	"soilify/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
	now      func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer, now: time.Now}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: ep.now().UTC(),
	}
}

// PublishOrderEvent publishes ORDER_PLACED or ORDER_STATUS_CHANGED for an order
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, eventType string, order *models.Order, action string) error {
	event := &models.OrderEvent{
		BaseEvent:     ep.base(eventType),
		OrderID:       order.ID,
		UserID:        order.UserID,
		Action:        action,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		TotalPrice:    order.TotalPrice,
		Channel:       order.Channel,
	}
	return ep.producer.PublishEvent(ctx, "order-"+order.ID, event)
}

// PublishTableChanged notifies subscribers that a table must be re-fetched
func (ep *EventPublisher) PublishTableChanged(ctx context.Context, table string) error {
	event := &models.TableChangedEvent{
		BaseEvent: ep.base(models.EventTypeTableChanged),
		Table:     table,
	}
	return ep.producer.PublishEvent(ctx, "table-"+table, event)
}

// PublishPaymentEvent publishes PAYMENT_SUCCESS or PAYMENT_FAILED for a gateway reference
func (ep *EventPublisher) PublishPaymentEvent(ctx context.Context, eventType, reference string, amount decimal.Decimal, reason string) error {
	event := &models.PaymentEvent{
		BaseEvent: ep.base(eventType),
		Reference: reference,
		Amount:    amount,
		Reason:    reason,
	}
	return ep.producer.PublishEvent(ctx, "payment-"+reference, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPayment      func(context.Context, *models.PaymentEvent) error
	onTableChanged func(context.Context, *models.TableChangedEvent) error
	onOrder        func(context.Context, *models.OrderEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentEvent registers a handler for PAYMENT_SUCCESS and PAYMENT_FAILED events
func (eh *EventHandler) OnPaymentEvent(handler func(context.Context, *models.PaymentEvent) error) {
	eh.onPayment = handler
}

// OnTableChanged registers a handler for TABLE_CHANGED events
func (eh *EventHandler) OnTableChanged(handler func(context.Context, *models.TableChangedEvent) error) {
	eh.onTableChanged = handler
}

// OnOrderEvent registers a handler for ORDER_PLACED and ORDER_STATUS_CHANGED events
func (eh *EventHandler) OnOrderEvent(handler func(context.Context, *models.OrderEvent) error) {
	eh.onOrder = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	util.GetLogger().Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentSuccess, models.EventTypePaymentFailed:
		if eh.onPayment != nil {
			var event models.PaymentEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal payment event: %w", err)
			}
			return eh.onPayment(ctx, &event)
		}

	case models.EventTypeTableChanged:
		if eh.onTableChanged != nil {
			var event models.TableChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal table changed event: %w", err)
			}
			return eh.onTableChanged(ctx, &event)
		}

	case models.EventTypeOrderPlaced, models.EventTypeOrderStatusChanged:
		if eh.onOrder != nil {
			var event models.OrderEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal order event: %w", err)
			}
			return eh.onOrder(ctx, &event)
		}

	default:
		util.GetLogger().Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
