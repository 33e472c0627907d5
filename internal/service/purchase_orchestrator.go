package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"drop-service/internal/minting"
	"drop-service/internal/models"
	"drop-service/internal/store"
	"drop-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Minter mints one NFT per purchased unit
type Minter interface {
	Mint(ctx context.Context, req minting.MintRequest) (*minting.MintResult, error)
}

// EventPublisher publishes purchase outcomes
type EventPublisher interface {
	PublishPurchaseCompleted(ctx context.Context, event *models.PurchaseCompletedEvent) error
	PublishPurchaseFailed(ctx context.Context, event *models.PurchaseFailedEvent) error
}

// PurchaseState is the step a purchase attempt has reached
type PurchaseState string

const (
	StateValidating PurchaseState = "validating"
	StateReserving  PurchaseState = "reserving"
	StateRecording  PurchaseState = "recording"
	StateMinting    PurchaseState = "minting"
	StateFinalizing PurchaseState = "finalizing"
	StateCompleted  PurchaseState = "completed"
	StateFailed     PurchaseState = "failed"
)

// PurchaseResult is returned for a completed purchase
type PurchaseResult struct {
	Transaction     *models.Transaction `json:"transaction"`
	NFT             *models.NFT         `json:"nft"`
	UniqueBarcodeID string              `json:"uniqueBarcodeId"`
	PurchaseNumber  int                 `json:"purchaseNumber"`
}

// PurchaseOrchestrator runs the purchase-to-mint saga. It is the only writer
// of Transaction and NFT status.
type PurchaseOrchestrator struct {
	store     store.RecordStore
	ledger    *InventoryLedger
	barcodes  BarcodeGenerator
	minter    Minter
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewPurchaseOrchestrator creates a new purchase orchestrator
func NewPurchaseOrchestrator(
	store store.RecordStore,
	ledger *InventoryLedger,
	barcodes BarcodeGenerator,
	minter Minter,
	publisher EventPublisher,
) *PurchaseOrchestrator {
	return &PurchaseOrchestrator{
		store:     store,
		ledger:    ledger,
		barcodes:  barcodes,
		minter:    minter,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// purchase carries the state of one attempt between steps
type purchase struct {
	state          PurchaseState
	product        *models.Product
	buyerWallet    string
	purchaseNumber int
	barcode        string
	txn            *models.Transaction
	nft            *models.NFT
}

// Purchase sells one unit of the product to buyerWallet and mints its NFT.
//
// Validation and sold-out errors leave no trace. Once a unit is reserved the
// attempt always ends with the Transaction/NFT pair in a terminal status, and
// any failure releases the unit before returning.
func (o *PurchaseOrchestrator) Purchase(ctx context.Context, productID, buyerWallet string) (result *PurchaseResult, err error) {
	ctx, span := util.StartSpan(ctx, "PurchaseOrchestrator.Purchase",
		trace.WithAttributes(attribute.String("product.id", productID)))
	defer func() {
		util.RecordError(span, err)
		span.End()
	}()

	util.PurchasesStartedTotal.Inc()
	p := &purchase{state: StateValidating, buyerWallet: strings.TrimSpace(buyerWallet)}

	if p.buyerWallet == "" {
		util.PurchasesFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%w: buyer wallet is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(productID) == "" {
		util.PurchasesFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%w: product id is required", ErrInvalidRequest)
	}

	product, err := o.store.GetProductByID(ctx, productID)
	if err != nil {
		err = mapStoreError(err)
		if errors.Is(err, ErrNotFound) {
			util.PurchasesFailedTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}
	p.product = product

	p.state = StateReserving
	available, err := o.ledger.IsAvailable(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !available {
		util.PurchasesFailedTotal.WithLabelValues("sold_out").Inc()
		return nil, fmt.Errorf("%w: product %s", ErrSoldOut, productID)
	}

	p.purchaseNumber, err = o.ledger.ReserveOne(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrSoldOut) {
			util.PurchasesFailedTotal.WithLabelValues("sold_out").Inc()
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("purchase.number", p.purchaseNumber))

	// A reserved unit must reach a terminal state even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			o.compensate(ctx, p, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
		if err != nil {
			o.compensate(ctx, p, failureReason(err))
		}
	}()

	p.state = StateRecording
	if err := o.record(ctx, p); err != nil {
		return nil, err
	}

	p.state = StateMinting
	minted, err := o.mint(ctx, p)
	if err != nil {
		return nil, err
	}

	p.state = StateFinalizing
	if err := o.finalize(ctx, p, minted); err != nil {
		return nil, err
	}
	p.state = StateCompleted

	util.PurchasesCompletedTotal.Inc()
	o.logger.Info("Purchase completed",
		zap.String("transaction_id", p.txn.ID),
		zap.String("product_id", productID),
		zap.String("unique_barcode_id", p.barcode),
		zap.Int("purchase_number", p.purchaseNumber),
		zap.String("token_id", p.nft.TokenID))

	o.publishCompleted(ctx, p)

	return &PurchaseResult{
		Transaction:     p.txn,
		NFT:             p.nft,
		UniqueBarcodeID: p.barcode,
		PurchaseNumber:  p.purchaseNumber,
	}, nil
}

// record creates the pending Transaction and NFT before anything external runs
func (o *PurchaseOrchestrator) record(ctx context.Context, p *purchase) error {
	barcode, err := o.barcodes.Generate(ctx)
	if err != nil {
		return fmt.Errorf("failed to generate barcode: %w", err)
	}
	p.barcode = barcode

	txn := &models.Transaction{
		ID:              uuid.New().String(),
		ProductID:       p.product.ID,
		BuyerWallet:     p.buyerWallet,
		Amount:          p.product.Price,
		Status:          models.TransactionStatusPending,
		UniqueBarcodeID: barcode,
		PurchaseNumber:  p.purchaseNumber,
	}
	if err := o.store.CreateTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	p.txn = txn

	nft := &models.NFT{
		ID:        uuid.New().String(),
		ProductID: p.product.ID,
		Status:    models.NFTStatusPending,
	}
	if err := o.store.CreateNFT(ctx, nft); err != nil {
		return fmt.Errorf("failed to create nft: %w", err)
	}
	p.nft = nft

	return nil
}

func (o *PurchaseOrchestrator) mint(ctx context.Context, p *purchase) (*minting.MintResult, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseOrchestrator.Mint")
	defer span.End()

	util.MintAttemptsTotal.Inc()
	start := time.Now()
	res, err := o.minter.Mint(ctx, minting.MintRequest{
		BarcodeID:      p.barcode,
		ProductName:    p.product.Name,
		ProductID:      p.product.ID,
		PurchaseNumber: p.purchaseNumber,
	})
	util.MintLatency.Observe(time.Since(start).Seconds())

	if err == nil && res == nil {
		err = errors.New("minting collaborator returned no result")
	}
	if err != nil {
		util.MintFailedTotal.Inc()
		util.RecordError(span, err)
		return nil, &MintFailedError{Reason: err.Error(), Err: err}
	}
	return res, nil
}

func (o *PurchaseOrchestrator) finalize(ctx context.Context, p *purchase, minted *minting.MintResult) error {
	mintedAt := o.now().UTC()

	p.nft.TokenID = minted.TokenID
	p.nft.OwnerWallet = p.buyerWallet
	p.nft.TransactionHash = minted.TransactionHash
	p.nft.Status = models.NFTStatusMinted
	p.nft.MintedAt = &mintedAt
	if err := o.store.UpdateNFT(ctx, p.nft); err != nil {
		o.logger.Error("Minted token could not be recorded",
			zap.String("nft_id", p.nft.ID),
			zap.String("token_id", minted.TokenID),
			zap.String("mint_tx_hash", minted.TransactionHash),
			zap.Error(err))
		return fmt.Errorf("failed to update nft: %w", err)
	}

	p.txn.NFTID = p.nft.ID
	p.txn.TxHash = minted.TransactionHash
	p.txn.Status = models.TransactionStatusCompleted
	if err := o.store.UpdateTransaction(ctx, p.txn); err != nil {
		o.logger.Error("Completed transaction could not be recorded",
			zap.String("transaction_id", p.txn.ID),
			zap.String("token_id", minted.TokenID),
			zap.Error(err))
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	if err := o.store.SetProductNFTStatus(ctx, p.product.ID, models.ProductNFTStatusMinted); err != nil {
		o.logger.Warn("Failed to update product nft status",
			zap.String("product_id", p.product.ID),
			zap.Error(err))
	}
	return nil
}

// compensate moves any created records to failed and releases the reserved
// unit. It runs for every failure after ReserveOne succeeded.
func (o *PurchaseOrchestrator) compensate(ctx context.Context, p *purchase, reason string) {
	failedAt := p.state
	p.state = StateFailed
	util.PurchasesFailedTotal.WithLabelValues(string(failedAt)).Inc()

	o.logger.Warn("Purchase failed - starting compensation",
		zap.String("product_id", p.product.ID),
		zap.String("failed_at", string(failedAt)),
		zap.Int("purchase_number", p.purchaseNumber),
		zap.String("reason", reason))

	if p.nft != nil {
		p.nft.Status = models.NFTStatusFailed
		if err := o.store.UpdateNFT(ctx, p.nft); err != nil {
			o.logger.Error("Failed to mark nft failed",
				zap.String("nft_id", p.nft.ID),
				zap.Error(err))
		}
	}

	if p.txn != nil {
		p.txn.Status = models.TransactionStatusFailed
		p.txn.Error = reason
		if p.nft != nil {
			p.txn.NFTID = p.nft.ID
		}
		if err := o.store.UpdateTransaction(ctx, p.txn); err != nil {
			o.logger.Error("Failed to mark transaction failed",
				zap.String("transaction_id", p.txn.ID),
				zap.Error(err))
		}
	}

	if _, err := o.ledger.ReleaseOne(ctx, p.product.ID); err != nil {
		o.logger.Error("Failed to release reserved unit during compensation",
			zap.String("product_id", p.product.ID),
			zap.Int("purchase_number", p.purchaseNumber),
			zap.Error(err))
	}

	if p.txn != nil {
		o.publishFailed(ctx, p, reason)
	}
}

func (o *PurchaseOrchestrator) publishCompleted(ctx context.Context, p *purchase) {
	if o.publisher == nil {
		return
	}

	event := &models.PurchaseCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePurchaseCompleted,
			Timestamp: o.now().UTC(),
		},
		TransactionID:   p.txn.ID,
		ProductID:       p.product.ID,
		NFTID:           p.nft.ID,
		TokenID:         p.nft.TokenID,
		BuyerWallet:     p.buyerWallet,
		UniqueBarcodeID: p.barcode,
		PurchaseNumber:  p.purchaseNumber,
		Amount:          p.txn.Amount,
	}

	if err := o.publisher.PublishPurchaseCompleted(ctx, event); err != nil {
		o.logger.Error("Failed to publish PurchaseCompleted event", zap.Error(err))
	}
}

func (o *PurchaseOrchestrator) publishFailed(ctx context.Context, p *purchase, reason string) {
	if o.publisher == nil {
		return
	}

	event := &models.PurchaseFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePurchaseFailed,
			Timestamp: o.now().UTC(),
		},
		TransactionID: p.txn.ID,
		ProductID:     p.product.ID,
		Reason:        reason,
	}

	if err := o.publisher.PublishPurchaseFailed(ctx, event); err != nil {
		o.logger.Error("Failed to publish PurchaseFailed event", zap.Error(err))
	}
}

func failureReason(err error) string {
	var mintErr *MintFailedError
	if errors.As(err, &mintErr) {
		return mintErr.Reason
	}
	return err.Error()
}
