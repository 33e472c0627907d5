package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"drop-service/internal/models"
)

// MemoryStore is an in-process RecordStore. Records are copied on the way in
// and out so callers never share memory with the store.
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[string]*models.Product
	transactions map[string]*models.Transaction
	barcodeIndex map[string]string
	nfts         map[string]*models.NFT
	claims       map[string]struct{}
	processed    map[string]string
}

var _ RecordStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]*models.Product),
		transactions: make(map[string]*models.Transaction),
		barcodeIndex: make(map[string]string),
		nfts:         make(map[string]*models.NFT),
		claims:       make(map[string]struct{}),
		processed:    make(map[string]string),
	}
}

func (m *MemoryStore) CreateProduct(ctx context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[product.ID]; ok {
		return fmt.Errorf("product %s already exists", product.ID)
	}
	for _, p := range m.products {
		if p.Barcode == product.Barcode {
			return fmt.Errorf("product barcode %s already exists", product.Barcode)
		}
	}

	now := time.Now().UTC()
	if product.NFTStatus == "" {
		product.NFTStatus = models.ProductNFTStatusNone
	}
	product.CreatedAt = now
	product.UpdatedAt = now

	cp := *product
	m.products[product.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetProducts(ctx context.Context) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	products := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		products = append(products, *p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].CreatedAt.Equal(products[j].CreatedAt) {
			return products[i].ID < products[j].ID
		}
		return products[i].CreatedAt.Before(products[j].CreatedAt)
	})
	return products, nil
}

func (m *MemoryStore) SetProductNFTStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	p.NFTStatus = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementSalesCount checks the limit and increments under one lock
func (m *MemoryStore) IncrementSalesCount(ctx context.Context, productID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if p.SalesCount >= p.InventoryLimit {
		return p.SalesCount, fmt.Errorf("product %s (%d/%d): %w",
			productID, p.SalesCount, p.InventoryLimit, ErrSoldOut)
	}

	p.SalesCount++
	p.UpdatedAt = time.Now().UTC()
	return p.SalesCount, nil
}

func (m *MemoryStore) DecrementSalesCount(ctx context.Context, productID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if p.SalesCount > 0 {
		p.SalesCount--
	}
	p.UpdatedAt = time.Now().UTC()
	return p.SalesCount, nil
}

func (m *MemoryStore) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[txn.ID]; ok {
		return fmt.Errorf("transaction %s already exists", txn.ID)
	}
	if _, ok := m.barcodeIndex[txn.UniqueBarcodeID]; ok {
		return fmt.Errorf("unique barcode %s already used", txn.UniqueBarcodeID)
	}

	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now

	cp := *txn
	m.transactions[txn.ID] = &cp
	m.barcodeIndex[txn.UniqueBarcodeID] = txn.ID
	return nil
}

func (m *MemoryStore) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.transactions[txn.ID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", txn.ID, ErrNotFound)
	}

	existing.Status = txn.Status
	existing.NFTID = txn.NFTID
	existing.TxHash = txn.TxHash
	existing.Error = txn.Error
	existing.UpdatedAt = time.Now().UTC()
	txn.UpdatedAt = existing.UpdatedAt
	return nil
}

func (m *MemoryStore) GetTransactionByID(ctx context.Context, id string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, ok := m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) GetTransactionByBarcode(ctx context.Context, barcode string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.barcodeIndex[barcode]
	if !ok {
		return nil, fmt.Errorf("barcode %s: %w", barcode, ErrNotFound)
	}
	cp := *m.transactions[id]
	return &cp, nil
}

func (m *MemoryStore) SetPrintOrder(ctx context.Context, txnID, fulfillmentOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[txnID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", txnID, ErrNotFound)
	}
	txn.FulfillmentOrderID = fulfillmentOrderID
	txn.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetEmailSent(ctx context.Context, txnID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[txnID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", txnID, ErrNotFound)
	}
	sent := sentAt
	txn.EmailSentAt = &sent
	txn.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CreateNFT(ctx context.Context, nft *models.NFT) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nfts[nft.ID]; ok {
		return fmt.Errorf("nft %s already exists", nft.ID)
	}

	now := time.Now().UTC()
	nft.CreatedAt = now
	nft.UpdatedAt = now

	cp := *nft
	m.nfts[nft.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateNFT(ctx context.Context, nft *models.NFT) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.nfts[nft.ID]
	if !ok {
		return fmt.Errorf("nft %s: %w", nft.ID, ErrNotFound)
	}

	existing.Status = nft.Status
	existing.TokenID = nft.TokenID
	existing.OwnerWallet = nft.OwnerWallet
	existing.TransactionHash = nft.TransactionHash
	if nft.MintedAt != nil {
		mintedAt := *nft.MintedAt
		existing.MintedAt = &mintedAt
	}
	existing.UpdatedAt = time.Now().UTC()
	nft.UpdatedAt = existing.UpdatedAt
	return nil
}

func (m *MemoryStore) GetNFTByID(ctx context.Context, id string) (*models.NFT, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nft, ok := m.nfts[id]
	if !ok {
		return nil, fmt.Errorf("nft %s: %w", id, ErrNotFound)
	}
	cp := *nft
	return &cp, nil
}

func (m *MemoryStore) ClaimBarcode(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.claims[code]; ok {
		return false, nil
	}
	m.claims[code] = struct{}{}
	return true, nil
}

func (m *MemoryStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processed[eventID]; !ok {
		m.processed[eventID] = eventType
	}
	return nil
}
