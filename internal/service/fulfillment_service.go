package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"drop-service/internal/models"
	"drop-service/internal/store"
	"drop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PrintOrder is what the print-on-demand partner needs to produce one garment
type PrintOrder struct {
	TransactionID   string
	ProductID       string
	UniqueBarcodeID string
	PurchaseNumber  int
	QRPayload       string
}

// PrintPartner submits garments for printing and returns the partner's order id
type PrintPartner interface {
	SubmitPrintOrder(ctx context.Context, order PrintOrder) (string, error)
}

// Mailer sends the purchase confirmation
type Mailer interface {
	SendPurchaseConfirmation(ctx context.Context, txn *models.Transaction, qrPayload string) error
}

// FulfillmentService hands completed purchases to the print partner and
// notifies the buyer. It only writes the auxiliary Transaction fields.
type FulfillmentService struct {
	store         store.RecordStore
	partner       PrintPartner
	mailer        Mailer
	verifyBaseURL string
	logger        *zap.Logger
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(store store.RecordStore, partner PrintPartner, mailer Mailer, verifyBaseURL string) *FulfillmentService {
	return &FulfillmentService{
		store:         store,
		partner:       partner,
		mailer:        mailer,
		verifyBaseURL: strings.TrimRight(verifyBaseURL, "/"),
		logger:        util.GetLogger(),
	}
}

// VerificationURL is the payload encoded into the QR code printed on the garment
func (fs *FulfillmentService) VerificationURL(uniqueBarcodeID string) string {
	return fmt.Sprintf("%s/api/verify/%s", fs.verifyBaseURL, uniqueBarcodeID)
}

// HandlePurchaseCompleted fulfills a completed purchase once per event
func (fs *FulfillmentService) HandlePurchaseCompleted(ctx context.Context, event *models.PurchaseCompletedEvent) error {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.HandlePurchaseCompleted")
	defer span.End()

	processed, err := fs.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		fs.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	txn, err := fs.store.GetTransactionByID(ctx, event.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to get transaction: %w", err)
	}

	if txn.Status != models.TransactionStatusCompleted || (txn.FulfillmentOrderID != "" && txn.EmailSentAt != nil) {
		fs.logger.Info("Skipping fulfillment",
			zap.String("transaction_id", txn.ID),
			zap.String("status", txn.Status),
			zap.String("fulfillment_order_id", txn.FulfillmentOrderID))
		return fs.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
	}

	qrPayload := fs.VerificationURL(txn.UniqueBarcodeID)

	// Each step is recorded as soon as it succeeds. A redelivery resumes at
	// the first unrecorded step.
	if txn.FulfillmentOrderID == "" {
		orderID, err := fs.partner.SubmitPrintOrder(ctx, PrintOrder{
			TransactionID:   txn.ID,
			ProductID:       txn.ProductID,
			UniqueBarcodeID: txn.UniqueBarcodeID,
			PurchaseNumber:  txn.PurchaseNumber,
			QRPayload:       qrPayload,
		})
		if err != nil {
			util.FulfillmentsTotal.WithLabelValues("print_failed").Inc()
			util.RecordError(span, err)
			return fmt.Errorf("failed to submit print order: %w", err)
		}

		if err := fs.store.SetPrintOrder(ctx, txn.ID, orderID); err != nil {
			fs.logger.Error("Print order submitted but not recorded",
				zap.String("transaction_id", txn.ID),
				zap.String("fulfillment_order_id", orderID),
				zap.Error(err))
			util.RecordError(span, err)
			return fmt.Errorf("failed to record print order: %w", err)
		}
		txn.FulfillmentOrderID = orderID
	}

	if txn.EmailSentAt == nil {
		if err := fs.mailer.SendPurchaseConfirmation(ctx, txn, qrPayload); err != nil {
			util.FulfillmentsTotal.WithLabelValues("email_failed").Inc()
			util.RecordError(span, err)
			return fmt.Errorf("failed to send confirmation: %w", err)
		}

		if err := fs.store.SetEmailSent(ctx, txn.ID, time.Now().UTC()); err != nil {
			util.RecordError(span, err)
			return fmt.Errorf("failed to record confirmation: %w", err)
		}
	}

	util.FulfillmentsTotal.WithLabelValues("ok").Inc()

	if err := fs.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		fs.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	fs.logger.Info("Purchase fulfilled",
		zap.String("transaction_id", txn.ID),
		zap.String("fulfillment_order_id", txn.FulfillmentOrderID))
	return nil
}

// LoggingPrintPartner stands in for the print-on-demand API
type LoggingPrintPartner struct {
	logger *zap.Logger
}

func NewLoggingPrintPartner() *LoggingPrintPartner {
	return &LoggingPrintPartner{logger: util.GetLogger()}
}

func (p *LoggingPrintPartner) SubmitPrintOrder(ctx context.Context, order PrintOrder) (string, error) {
	orderID := fmt.Sprintf("PRINT-%s", strings.ToUpper(uuid.New().String()[:8]))
	p.logger.Info("Print order submitted",
		zap.String("print_order_id", orderID),
		zap.String("transaction_id", order.TransactionID),
		zap.String("qr_payload", order.QRPayload))
	return orderID, nil
}

// LoggingMailer stands in for the email provider
type LoggingMailer struct {
	logger *zap.Logger
}

func NewLoggingMailer() *LoggingMailer {
	return &LoggingMailer{logger: util.GetLogger()}
}

func (m *LoggingMailer) SendPurchaseConfirmation(ctx context.Context, txn *models.Transaction, qrPayload string) error {
	m.logger.Info("Purchase confirmation sent",
		zap.String("transaction_id", txn.ID),
		zap.String("buyer_wallet", txn.BuyerWallet),
		zap.String("qr_payload", qrPayload))
	return nil
}
