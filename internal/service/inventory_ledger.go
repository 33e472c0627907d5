package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drop-service/internal/store"
	"drop-service/internal/util"

	"go.uber.org/zap"
)

// InventoryLedger is the only writer of Product.SalesCount
type InventoryLedger struct {
	store  store.RecordStore
	logger *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(store store.RecordStore) *InventoryLedger {
	return &InventoryLedger{
		store:  store,
		logger: util.GetLogger(),
	}
}

// IsAvailable reports whether the product has an unsold unit. The answer is
// advisory; ReserveOne re-checks under the store's lock.
func (l *InventoryLedger) IsAvailable(ctx context.Context, productID string) (bool, error) {
	product, err := l.store.GetProductByID(ctx, productID)
	if err != nil {
		return false, mapStoreError(err)
	}
	return product.Available(), nil
}

// ReserveOne claims one unit and returns the purchase number (1-indexed)
func (l *InventoryLedger) ReserveOne(ctx context.Context, productID string) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ReserveOne")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	salesCount, err := l.store.IncrementSalesCount(ctx, productID)
	if err != nil {
		err = mapStoreError(err)
		util.RecordError(span, err)
		return 0, err
	}

	l.logger.Debug("Unit reserved",
		zap.String("product_id", productID),
		zap.Int("sales_count", salesCount))
	return salesCount, nil
}

// ReleaseOne gives back a unit reserved by a purchase that did not complete
func (l *InventoryLedger) ReleaseOne(ctx context.Context, productID string) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ReleaseOne")
	defer span.End()

	salesCount, err := l.store.DecrementSalesCount(ctx, productID)
	if err != nil {
		util.InventoryReleasesTotal.WithLabelValues("error").Inc()
		err = mapStoreError(err)
		util.RecordError(span, err)
		return 0, err
	}

	util.InventoryReleasesTotal.WithLabelValues("ok").Inc()
	l.logger.Info("Unit released",
		zap.String("product_id", productID),
		zap.Int("sales_count", salesCount))
	return salesCount, nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrSoldOut):
		return fmt.Errorf("%w: %v", ErrSoldOut, err)
	default:
		return err
	}
}
