package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"drop-service/internal/models"
	"drop-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes purchase events keyed by transaction, so every
// event of one transaction lands on the same partition
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func transactionKey(txnID string) string {
	return fmt.Sprintf("txn-%s", txnID)
}

// PublishPurchaseCompleted publishes PurchaseCompleted event
func (ep *EventPublisher) PublishPurchaseCompleted(ctx context.Context, event *models.PurchaseCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, transactionKey(event.TransactionID), event)
}

// PublishPurchaseFailed publishes PurchaseFailed event
func (ep *EventPublisher) PublishPurchaseFailed(ctx context.Context, event *models.PurchaseFailedEvent) error {
	return ep.producer.PublishEvent(ctx, transactionKey(event.TransactionID), event)
}

// NopPublisher drops events. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishPurchaseCompleted(ctx context.Context, event *models.PurchaseCompletedEvent) error {
	return nil
}

func (NopPublisher) PublishPurchaseFailed(ctx context.Context, event *models.PurchaseFailedEvent) error {
	return nil
}

// EventHandler handles incoming events
type EventHandler struct {
	onPurchaseCompleted func(context.Context, *models.PurchaseCompletedEvent) error
	onPurchaseFailed    func(context.Context, *models.PurchaseFailedEvent) error
	logger              *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPurchaseCompleted registers a handler for PurchaseCompleted events
func (eh *EventHandler) OnPurchaseCompleted(handler func(context.Context, *models.PurchaseCompletedEvent) error) {
	eh.onPurchaseCompleted = handler
}

// OnPurchaseFailed registers a handler for PurchaseFailed events
func (eh *EventHandler) OnPurchaseFailed(handler func(context.Context, *models.PurchaseFailedEvent) error) {
	eh.onPurchaseFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Info("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePurchaseCompleted:
		if eh.onPurchaseCompleted != nil {
			var event models.PurchaseCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PurchaseCompleted event: %w", err)
			}
			return eh.onPurchaseCompleted(ctx, &event)
		}

	case models.EventTypePurchaseFailed:
		if eh.onPurchaseFailed != nil {
			var event models.PurchaseFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PurchaseFailed event: %w", err)
			}
			return eh.onPurchaseFailed(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
