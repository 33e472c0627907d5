package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"drop-service/internal/minting"
	"drop-service/internal/models"
	"drop-service/internal/store"
	"drop-service/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = util.InitLogger("test")
	os.Exit(m.Run())
}

type MockMinter struct {
	mock.Mock
}

func (m *MockMinter) Mint(ctx context.Context, req minting.MintRequest) (*minting.MintResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*minting.MintResult)
	return res, args.Error(1)
}

type recordingPublisher struct {
	mu        sync.Mutex
	completed []*models.PurchaseCompletedEvent
	failed    []*models.PurchaseFailedEvent
}

func (p *recordingPublisher) PublishPurchaseCompleted(ctx context.Context, event *models.PurchaseCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, event)
	return nil
}

func (p *recordingPublisher) PublishPurchaseFailed(ctx context.Context, event *models.PurchaseFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, event)
	return nil
}

func newProduct(id string, salesCount, limit int) *models.Product {
	return &models.Product{
		ID:             id,
		Name:           "Drop " + id,
		Price:          15000,
		Barcode:        "BASE-" + id,
		SalesCount:     salesCount,
		InventoryLimit: limit,
	}
}

func newTestOrchestrator(t *testing.T, minter Minter, products ...*models.Product) (*PurchaseOrchestrator, *store.MemoryStore, *recordingPublisher) {
	t.Helper()

	s := store.NewMemoryStore()
	for _, p := range products {
		require.NoError(t, s.CreateProduct(context.Background(), p))
	}

	publisher := &recordingPublisher{}
	barcodes := NewUniqueBarcodeGenerator(NewRandomBarcodeGenerator(DefaultBarcodeLength), s, 5)
	o := NewPurchaseOrchestrator(s, NewInventoryLedger(s), barcodes, minter, publisher)
	return o, s, publisher
}

func salesCount(t *testing.T, s store.RecordStore, productID string) int {
	t.Helper()
	p, err := s.GetProductByID(context.Background(), productID)
	require.NoError(t, err)
	return p.SalesCount
}

func TestPurchase_Success(t *testing.T) {
	minter := new(MockMinter)
	minter.On("Mint", mock.Anything, mock.MatchedBy(func(req minting.MintRequest) bool {
		return req.ProductID == "p1" && req.ProductName == "Drop p1" && req.PurchaseNumber == 1 && len(req.BarcodeID) == DefaultBarcodeLength
	})).Return(&minting.MintResult{TokenID: "101", TransactionHash: "0xabc"}, nil).Once()

	o, s, publisher := newTestOrchestrator(t, minter, newProduct("p1", 0, 5))

	res, err := o.Purchase(context.Background(), "p1", "0xBuyer")
	require.NoError(t, err)

	assert.Equal(t, 1, res.PurchaseNumber)
	assert.Equal(t, res.UniqueBarcodeID, res.Transaction.UniqueBarcodeID)
	assert.NotEqual(t, "BASE-p1", res.UniqueBarcodeID)
	assert.Equal(t, models.TransactionStatusCompleted, res.Transaction.Status)
	assert.Equal(t, models.NFTStatusMinted, res.NFT.Status)
	assert.Equal(t, res.NFT.ID, res.Transaction.NFTID)
	assert.Equal(t, "0xabc", res.Transaction.TxHash)
	assert.Equal(t, int64(15000), res.Transaction.Amount)
	assert.Equal(t, "101", res.NFT.TokenID)
	assert.Equal(t, "0xBuyer", res.NFT.OwnerWallet)
	require.NotNil(t, res.NFT.MintedAt)

	// persisted state matches the returned result
	txn, err := s.GetTransactionByID(context.Background(), res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, res.NFT.ID, txn.NFTID)

	nft, err := s.GetNFTByID(context.Background(), res.NFT.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NFTStatusMinted, nft.Status)

	product, err := s.GetProductByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, product.SalesCount)
	assert.Equal(t, models.ProductNFTStatusMinted, product.NFTStatus)

	require.Len(t, publisher.completed, 1)
	assert.Equal(t, res.Transaction.ID, publisher.completed[0].TransactionID)
	assert.Empty(t, publisher.failed)
	minter.AssertExpectations(t)
}

func TestPurchase_SoldOutAfterLastUnit(t *testing.T) {
	minter := new(MockMinter)
	minter.On("Mint", mock.Anything, mock.Anything).
		Return(&minting.MintResult{TokenID: "1", TransactionHash: "0x1"}, nil).Once()

	o, s, _ := newTestOrchestrator(t, minter, newProduct("p1", 0, 1))

	_, err := o.Purchase(context.Background(), "p1", "0xA")
	require.NoError(t, err)
	assert.Equal(t, 1, salesCount(t, s, "p1"))

	_, err = o.Purchase(context.Background(), "p1", "0xB")
	assert.ErrorIs(t, err, ErrSoldOut)
	assert.Equal(t, 1, salesCount(t, s, "p1"))
	minter.AssertNumberOfCalls(t, "Mint", 1)
}

func TestPurchase_MintFailureCompensates(t *testing.T) {
	minter := new(MockMinter)
	minter.On("Mint", mock.Anything, mock.Anything).
		Return(nil, errors.New("ledger rejected transaction")).Once()

	o, s, publisher := newTestOrchestrator(t, minter, newProduct("p1", 3, 10))

	res, err := o.Purchase(context.Background(), "p1", "0xBuyer")
	require.Error(t, err)
	assert.Nil(t, res)

	var mintErr *MintFailedError
	require.True(t, errors.As(err, &mintErr))
	assert.Equal(t, "ledger rejected transaction", mintErr.Reason)

	assert.Equal(t, 3, salesCount(t, s, "p1"))

	require.Len(t, publisher.failed, 1)
	txn, err := s.GetTransactionByID(context.Background(), publisher.failed[0].TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, txn.Status)
	assert.Equal(t, "ledger rejected transaction", txn.Error)
	assert.Equal(t, 4, txn.PurchaseNumber)

	nft, err := s.GetNFTByID(context.Background(), txn.NFTID)
	require.NoError(t, err)
	assert.Equal(t, models.NFTStatusFailed, nft.Status)
	assert.Empty(t, nft.TokenID)
	assert.Empty(t, publisher.completed)
}

func TestPurchase_NilResultIsFailure(t *testing.T) {
	minter := new(MockMinter)
	minter.On("Mint", mock.Anything, mock.Anything).Return(nil, nil).Once()

	o, s, _ := newTestOrchestrator(t, minter, newProduct("p1", 0, 2))

	_, err := o.Purchase(context.Background(), "p1", "0xBuyer")
	var mintErr *MintFailedError
	assert.True(t, errors.As(err, &mintErr))
	assert.Equal(t, 0, salesCount(t, s, "p1"))
}

func TestPurchase_DistinctBarcodesAndSequentialNumbers(t *testing.T) {
	minter := new(MockMinter)
	minter.On("Mint", mock.Anything, mock.Anything).
		Return(&minting.MintResult{TokenID: "1", TransactionHash: "0x1"}, nil)

	o, _, _ := newTestOrchestrator(t, minter, newProduct("p1", 0, 10))

	first, err := o.Purchase(context.Background(), "p1", "0xA")
	require.NoError(t, err)
	second, err := o.Purchase(context.Background(), "p1", "0xB")
	require.NoError(t, err)

	assert.NotEqual(t, first.UniqueBarcodeID, second.UniqueBarcodeID)
	assert.Equal(t, 1, first.PurchaseNumber)
	assert.Equal(t, 2, second.PurchaseNumber)
}

func TestPurchase_Validation(t *testing.T) {
	minter := new(MockMinter)
	o, s, publisher := newTestOrchestrator(t, minter, newProduct("p1", 2, 5))

	_, err := o.Purchase(context.Background(), "p1", "   ")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = o.Purchase(context.Background(), "", "0xA")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = o.Purchase(context.Background(), "missing", "0xA")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 2, salesCount(t, s, "p1"))
	assert.Empty(t, publisher.failed)
	minter.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything)
}

func TestPurchase_ConcurrentNoOversell(t *testing.T) {
	const limit = 10
	const buyers = 60

	minter := new(MockMinter)
	minter.On("Mint", mock.Anything, mock.Anything).
		Return(&minting.MintResult{TokenID: "1", TransactionHash: "0x1"}, nil)

	o, s, _ := newTestOrchestrator(t, minter, newProduct("p1", 0, limit))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		numbers  = make(map[int]bool)
		barcodes = make(map[string]bool)
		soldOut  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Purchase(context.Background(), "p1", "0xBuyer")

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrSoldOut)
				soldOut++
				return
			}
			numbers[res.PurchaseNumber] = true
			barcodes[res.UniqueBarcodeID] = true
		}()
	}
	wg.Wait()

	assert.Len(t, numbers, limit)
	assert.Len(t, barcodes, limit)
	assert.Equal(t, buyers-limit, soldOut)
	for n := 1; n <= limit; n++ {
		assert.True(t, numbers[n], "missing purchase number %d", n)
	}
	assert.Equal(t, limit, salesCount(t, s, "p1"))
}

func TestPurchase_ConcurrentFailuresReleaseEveryUnit(t *testing.T) {
	minter := new(MockMinter)
	minter.On("Mint", mock.Anything, mock.Anything).Return(nil, errors.New("network down"))

	o, s, _ := newTestOrchestrator(t, minter, newProduct("p1", 0, 3))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Purchase(context.Background(), "p1", "0xBuyer")
			var mintErr *MintFailedError
			if !errors.As(err, &mintErr) {
				assert.ErrorIs(t, err, ErrSoldOut)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, salesCount(t, s, "p1"))
}

type rejectingRegistry struct{}

func (rejectingRegistry) ClaimBarcode(ctx context.Context, code string) (bool, error) {
	return false, nil
}

func TestPurchase_BarcodeExhaustedReleasesUnit(t *testing.T) {
	minter := new(MockMinter)
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateProduct(context.Background(), newProduct("p1", 1, 5)))

	barcodes := NewUniqueBarcodeGenerator(NewRandomBarcodeGenerator(8), rejectingRegistry{}, 3)
	o := NewPurchaseOrchestrator(s, NewInventoryLedger(s), barcodes, minter, &recordingPublisher{})

	_, err := o.Purchase(context.Background(), "p1", "0xBuyer")
	assert.ErrorIs(t, err, ErrBarcodeExhausted)
	assert.Equal(t, 1, salesCount(t, s, "p1"))
	minter.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything)
}

// failingNFTStore fails NFT creation to exercise compensation during Recording
type failingNFTStore struct {
	*store.MemoryStore
}

func (f failingNFTStore) CreateNFT(ctx context.Context, nft *models.NFT) error {
	return errors.New("disk full")
}

func TestPurchase_RecordingFailureCompensates(t *testing.T) {
	minter := new(MockMinter)
	s := failingNFTStore{store.NewMemoryStore()}
	require.NoError(t, s.CreateProduct(context.Background(), newProduct("p1", 0, 5)))

	publisher := &recordingPublisher{}
	barcodes := NewUniqueBarcodeGenerator(NewRandomBarcodeGenerator(DefaultBarcodeLength), s, 5)
	o := NewPurchaseOrchestrator(s, NewInventoryLedger(s), barcodes, minter, publisher)

	_, err := o.Purchase(context.Background(), "p1", "0xBuyer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, salesCount(t, s, "p1"))

	require.Len(t, publisher.failed, 1)
	txn, err := s.GetTransactionByID(context.Background(), publisher.failed[0].TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, txn.Status)
	minter.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything)
}

func TestPurchase_MintRunsDetachedFromCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	minter := new(MockMinter)
	minter.On("Mint", mock.MatchedBy(func(c context.Context) bool {
		return c.Err() == nil && c.Done() == nil
	}), mock.Anything).
		Run(func(args mock.Arguments) { cancel() }).
		Return(&minting.MintResult{TokenID: "9", TransactionHash: "0x9"}, nil).Once()

	o, s, _ := newTestOrchestrator(t, minter, newProduct("p1", 0, 5))

	res, err := o.Purchase(ctx, "p1", "0xBuyer")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, res.Transaction.Status)
	assert.Equal(t, 1, salesCount(t, s, "p1"))
	minter.AssertExpectations(t)
}

func TestPurchase_MinterPanicCompensatesAndRepanics(t *testing.T) {
	minter := new(MockMinter)
	minter.On("Mint", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { panic("ledger client crashed") })

	o, s, publisher := newTestOrchestrator(t, minter, newProduct("p1", 2, 5))

	assert.PanicsWithValue(t, "ledger client crashed", func() {
		_, _ = o.Purchase(context.Background(), "p1", "0xBuyer")
	})

	assert.Equal(t, 2, salesCount(t, s, "p1"))

	require.Len(t, publisher.failed, 1)
	txn, err := s.GetTransactionByID(context.Background(), publisher.failed[0].TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, txn.Status)
	assert.Contains(t, txn.Error, "ledger client crashed")

	nft, err := s.GetNFTByID(context.Background(), txn.NFTID)
	require.NoError(t, err)
	assert.Equal(t, models.NFTStatusFailed, nft.Status)
}

// failingCompletionStore rejects the completed-transaction write only
type failingCompletionStore struct {
	*store.MemoryStore
}

func (f failingCompletionStore) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.Status == models.TransactionStatusCompleted {
		return errors.New("write timeout")
	}
	return f.MemoryStore.UpdateTransaction(ctx, txn)
}

func TestPurchase_FinalizeFailureAfterMintCompensates(t *testing.T) {
	minter := new(MockMinter)
	minter.On("Mint", mock.Anything, mock.Anything).
		Return(&minting.MintResult{TokenID: "55", TransactionHash: "0x55"}, nil).Once()

	s := failingCompletionStore{store.NewMemoryStore()}
	require.NoError(t, s.CreateProduct(context.Background(), newProduct("p1", 1, 5)))

	publisher := &recordingPublisher{}
	barcodes := NewUniqueBarcodeGenerator(NewRandomBarcodeGenerator(DefaultBarcodeLength), s, 5)
	o := NewPurchaseOrchestrator(s, NewInventoryLedger(s), barcodes, minter, publisher)

	res, err := o.Purchase(context.Background(), "p1", "0xBuyer")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "write timeout")

	assert.Equal(t, 1, salesCount(t, s, "p1"))
	assert.Empty(t, publisher.completed)

	require.Len(t, publisher.failed, 1)
	txn, err := s.GetTransactionByID(context.Background(), publisher.failed[0].TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, txn.Status)

	nft, err := s.GetNFTByID(context.Background(), txn.NFTID)
	require.NoError(t, err)
	assert.Equal(t, models.NFTStatusFailed, nft.Status)
}
