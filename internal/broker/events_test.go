package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"drop-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestEventPublisher_KeysByTransaction(t *testing.T) {
	writer := &recordingWriter{}
	publisher := NewEventPublisher(NewProducerWithWriter(writer))

	event := &models.PurchaseCompletedEvent{
		BaseEvent:       models.BaseEvent{EventID: "e1", EventType: models.EventTypePurchaseCompleted},
		TransactionID:   "t1",
		UniqueBarcodeID: "ABC123DEF456",
		PurchaseNumber:  7,
	}
	require.NoError(t, publisher.PublishPurchaseCompleted(context.Background(), event))
	require.NoError(t, publisher.PublishPurchaseFailed(context.Background(), &models.PurchaseFailedEvent{
		BaseEvent:     models.BaseEvent{EventID: "e2", EventType: models.EventTypePurchaseFailed},
		TransactionID: "t1",
		Reason:        "mint rejected",
	}))

	require.Len(t, writer.messages, 2)
	assert.Equal(t, "txn-t1", string(writer.messages[0].Key))
	assert.Equal(t, "txn-t1", string(writer.messages[1].Key))

	var decoded models.PurchaseCompletedEvent
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	assert.Equal(t, "ABC123DEF456", decoded.UniqueBarcodeID)
	assert.Equal(t, 7, decoded.PurchaseNumber)
}

func TestEventPublisher_WriteError(t *testing.T) {
	publisher := NewEventPublisher(NewProducerWithWriter(&recordingWriter{err: errors.New("broker down")}))

	err := publisher.PublishPurchaseFailed(context.Background(), &models.PurchaseFailedEvent{TransactionID: "t1"})
	assert.ErrorContains(t, err, "broker down")
}

func TestEventHandler_Routing(t *testing.T) {
	handler := NewEventHandler()

	var completed *models.PurchaseCompletedEvent
	var failed *models.PurchaseFailedEvent
	handler.OnPurchaseCompleted(func(ctx context.Context, e *models.PurchaseCompletedEvent) error {
		completed = e
		return nil
	})
	handler.OnPurchaseFailed(func(ctx context.Context, e *models.PurchaseFailedEvent) error {
		failed = e
		return nil
	})

	completedBytes, _ := json.Marshal(models.PurchaseCompletedEvent{
		BaseEvent:     models.BaseEvent{EventID: "e1", EventType: models.EventTypePurchaseCompleted},
		TransactionID: "t1",
	})
	require.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: completedBytes}))
	require.NotNil(t, completed)
	assert.Equal(t, "t1", completed.TransactionID)

	failedBytes, _ := json.Marshal(models.PurchaseFailedEvent{
		BaseEvent:     models.BaseEvent{EventID: "e2", EventType: models.EventTypePurchaseFailed},
		TransactionID: "t2",
		Reason:        "sold out",
	})
	require.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: failedBytes}))
	require.NotNil(t, failed)
	assert.Equal(t, "sold out", failed.Reason)

	unknown := []byte(`{"event_id":"e3","event_type":"SOMETHING_ELSE"}`)
	assert.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: unknown}))

	assert.Error(t, handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
}

func TestEventHandler_PropagatesHandlerError(t *testing.T) {
	handler := NewEventHandler()
	handler.OnPurchaseCompleted(func(ctx context.Context, e *models.PurchaseCompletedEvent) error {
		return errors.New("print partner unavailable")
	})

	value, _ := json.Marshal(models.PurchaseCompletedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypePurchaseCompleted},
	})
	assert.Error(t, handler.HandleMessage(context.Background(), kafka.Message{Value: value}))
}
