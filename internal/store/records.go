package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"drop-service/internal/models"
)

// CreateTransaction inserts a purchase attempt
func (s *Store) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO transactions (id, product_id, buyer_wallet, amount, status, unique_barcode_id, purchase_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		txn.ID, txn.ProductID, txn.BuyerWallet, txn.Amount, txn.Status, txn.UniqueBarcodeID, txn.PurchaseNumber,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
}

// UpdateTransaction persists status and mint outcome fields
func (s *Store) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $1, nft_id = $2, tx_hash = $3, error = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	err := s.db.GetContext(ctx, &txn.UpdatedAt, query,
		txn.Status, txn.NFTID, txn.TxHash, txn.Error, txn.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %s: %w", txn.ID, ErrNotFound)
	}
	return err
}

// GetTransactionByID retrieves a transaction by ID
func (s *Store) GetTransactionByID(ctx context.Context, id string) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.GetContext(ctx, &txn, "SELECT * FROM transactions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetTransactionByBarcode retrieves a transaction by its per-unit barcode
func (s *Store) GetTransactionByBarcode(ctx context.Context, barcode string) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.GetContext(ctx, &txn, "SELECT * FROM transactions WHERE unique_barcode_id = $1", barcode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("barcode %s: %w", barcode, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// SetPrintOrder records the print partner's order id on a transaction
func (s *Store) SetPrintOrder(ctx context.Context, txnID, fulfillmentOrderID string) error {
	return s.updateTransactionField(ctx, txnID,
		"UPDATE transactions SET fulfillment_order_id = $1, updated_at = NOW() WHERE id = $2",
		fulfillmentOrderID)
}

// SetEmailSent records when the purchase confirmation went out
func (s *Store) SetEmailSent(ctx context.Context, txnID string, sentAt time.Time) error {
	return s.updateTransactionField(ctx, txnID,
		"UPDATE transactions SET email_sent_at = $1, updated_at = NOW() WHERE id = $2",
		sentAt)
}

func (s *Store) updateTransactionField(ctx context.Context, txnID, query string, value interface{}) error {
	res, err := s.db.ExecContext(ctx, query, value, txnID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", txnID, ErrNotFound)
	}
	return nil
}

// CreateNFT inserts an NFT record
func (s *Store) CreateNFT(ctx context.Context, nft *models.NFT) error {
	query := `
		INSERT INTO nfts (id, product_id, status)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query, nft.ID, nft.ProductID, nft.Status).
		Scan(&nft.CreatedAt, &nft.UpdatedAt)
}

// UpdateNFT persists the mint outcome
func (s *Store) UpdateNFT(ctx context.Context, nft *models.NFT) error {
	query := `
		UPDATE nfts
		SET status = $1, token_id = $2, owner_wallet = $3, transaction_hash = $4, minted_at = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`

	err := s.db.GetContext(ctx, &nft.UpdatedAt, query,
		nft.Status, nft.TokenID, nft.OwnerWallet, nft.TransactionHash, nft.MintedAt, nft.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("nft %s: %w", nft.ID, ErrNotFound)
	}
	return err
}

// GetNFTByID retrieves an NFT by ID
func (s *Store) GetNFTByID(ctx context.Context, id string) (*models.NFT, error) {
	var nft models.NFT
	err := s.db.GetContext(ctx, &nft, "SELECT * FROM nfts WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("nft %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &nft, nil
}

// ClaimBarcode inserts the code unless it was claimed before
func (s *Store) ClaimBarcode(ctx context.Context, code string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO barcode_claims (code) VALUES ($1) ON CONFLICT (code) DO NOTHING", code)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
