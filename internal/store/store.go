package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"drop-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrSoldOut  = errors.New("product sold out")
)

// RecordStore is the persistence contract used by the purchase pipeline.
// IncrementSalesCount must be atomic with respect to the inventory limit check.
type RecordStore interface {
	CreateProduct(ctx context.Context, product *models.Product) error
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	GetProducts(ctx context.Context) ([]models.Product, error)
	SetProductNFTStatus(ctx context.Context, id, status string) error

	// IncrementSalesCount returns the new sales count, or ErrSoldOut when the
	// product has already reached its inventory limit.
	IncrementSalesCount(ctx context.Context, productID string) (int, error)
	// DecrementSalesCount never takes the sales count below zero.
	DecrementSalesCount(ctx context.Context, productID string) (int, error)

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	UpdateTransaction(ctx context.Context, txn *models.Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*models.Transaction, error)
	GetTransactionByBarcode(ctx context.Context, barcode string) (*models.Transaction, error)
	SetPrintOrder(ctx context.Context, txnID, fulfillmentOrderID string) error
	SetEmailSent(ctx context.Context, txnID string, sentAt time.Time) error

	CreateNFT(ctx context.Context, nft *models.NFT) error
	UpdateNFT(ctx context.Context, nft *models.NFT) error
	GetNFTByID(ctx context.Context, id string) (*models.NFT, error)

	// ClaimBarcode records the code and reports whether it was unclaimed.
	ClaimBarcode(ctx context.Context, code string) (bool, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Store is the PostgreSQL-backed RecordStore
type Store struct {
	db *sqlx.DB
}

var _ RecordStore = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	price           BIGINT NOT NULL,
	barcode         TEXT NOT NULL UNIQUE,
	sales_count     INTEGER NOT NULL DEFAULT 0,
	inventory_limit INTEGER NOT NULL,
	nft_status      TEXT NOT NULL DEFAULT 'none',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CHECK (sales_count >= 0 AND sales_count <= inventory_limit)
);

CREATE TABLE IF NOT EXISTS nfts (
	id               TEXT PRIMARY KEY,
	product_id       TEXT NOT NULL REFERENCES products(id),
	status           TEXT NOT NULL,
	token_id         TEXT NOT NULL DEFAULT '',
	owner_wallet     TEXT NOT NULL DEFAULT '',
	transaction_hash TEXT NOT NULL DEFAULT '',
	minted_at        TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transactions (
	id                   TEXT PRIMARY KEY,
	product_id           TEXT NOT NULL REFERENCES products(id),
	buyer_wallet         TEXT NOT NULL,
	amount               BIGINT NOT NULL,
	status               TEXT NOT NULL,
	unique_barcode_id    TEXT NOT NULL UNIQUE,
	purchase_number      INTEGER NOT NULL,
	nft_id               TEXT NOT NULL DEFAULT '',
	tx_hash              TEXT NOT NULL DEFAULT '',
	error                TEXT NOT NULL DEFAULT '',
	fulfillment_order_id TEXT NOT NULL DEFAULT '',
	email_sent_at        TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS barcode_claims (
	code       TEXT PRIMARY KEY,
	claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS processed_events (
	event_id     TEXT PRIMARY KEY,
	event_type   TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateProduct inserts a product
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.NFTStatus == "" {
		product.NFTStatus = models.ProductNFTStatusNone
	}

	query := `
		INSERT INTO products (id, name, price, barcode, sales_count, inventory_limit, nft_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		product.ID, product.Name, product.Price, product.Barcode,
		product.SalesCount, product.InventoryLimit, product.NFTStatus,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProducts retrieves all products
func (s *Store) GetProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY created_at")
	return products, err
}

// SetProductNFTStatus updates the display-only NFT status of a product
func (s *Store) SetProductNFTStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET nft_status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	return err
}

// IncrementSalesCount claims one unit within a transaction (FOR UPDATE lock)
func (s *Store) IncrementSalesCount(ctx context.Context, productID string) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var counts struct {
		SalesCount     int `db:"sales_count"`
		InventoryLimit int `db:"inventory_limit"`
	}
	err = tx.GetContext(ctx, &counts,
		"SELECT sales_count, inventory_limit FROM products WHERE id = $1 FOR UPDATE", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock product: %w", err)
	}

	if counts.SalesCount >= counts.InventoryLimit {
		return counts.SalesCount, fmt.Errorf("product %s (%d/%d): %w",
			productID, counts.SalesCount, counts.InventoryLimit, ErrSoldOut)
	}

	var salesCount int
	err = tx.GetContext(ctx, &salesCount,
		"UPDATE products SET sales_count = sales_count + 1, updated_at = NOW() WHERE id = $1 RETURNING sales_count",
		productID)
	if err != nil {
		return 0, fmt.Errorf("failed to increment sales count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return salesCount, nil
}

// DecrementSalesCount releases one unit (compensation)
func (s *Store) DecrementSalesCount(ctx context.Context, productID string) (int, error) {
	var salesCount int
	err := s.db.GetContext(ctx, &salesCount,
		"UPDATE products SET sales_count = GREATEST(sales_count - 1, 0), updated_at = NOW() WHERE id = $1 RETURNING sales_count",
		productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return salesCount, err
}
