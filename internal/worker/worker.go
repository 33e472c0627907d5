package worker

import (
	"context"

	"drop-service/internal/broker"
	"drop-service/internal/models"
	"drop-service/internal/service"
	"drop-service/internal/util"

	"go.uber.org/zap"
)

// FulfillmentWorker consumes purchase events and hands completed purchases
// to the fulfillment service
type FulfillmentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(
	consumer *broker.Consumer,
	fulfillmentService *service.FulfillmentService,
) *FulfillmentWorker {
	logger := util.GetLogger()
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPurchaseCompleted(fulfillmentService.HandlePurchaseCompleted)
	eventHandler.OnPurchaseFailed(func(ctx context.Context, event *models.PurchaseFailedEvent) error {
		logger.Info("Purchase failed, nothing to fulfill",
			zap.String("transaction_id", event.TransactionID),
			zap.String("reason", event.Reason))
		return nil
	})

	return &FulfillmentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// Start starts the worker
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting fulfillment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *FulfillmentWorker) Stop() error {
	w.logger.Info("Stopping fulfillment worker")
	return w.consumer.Close()
}
