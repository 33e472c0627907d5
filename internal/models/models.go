package models

import "time"

// Product represents a limited-edition design
type Product struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Price          int64     `db:"price" json:"price"`
	Barcode        string    `db:"barcode" json:"barcode"`
	SalesCount     int       `db:"sales_count" json:"salesCount"`
	InventoryLimit int       `db:"inventory_limit" json:"inventoryLimit"`
	NFTStatus      string    `db:"nft_status" json:"nftStatus"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Available reports whether at least one unit can still be sold
func (p *Product) Available() bool {
	return p.SalesCount < p.InventoryLimit
}

// Remaining returns the number of unsold units
func (p *Product) Remaining() int {
	if p.SalesCount >= p.InventoryLimit {
		return 0
	}
	return p.InventoryLimit - p.SalesCount
}

// Transaction represents one purchase attempt
type Transaction struct {
	ID                 string     `db:"id" json:"id"`
	ProductID          string     `db:"product_id" json:"productId"`
	BuyerWallet        string     `db:"buyer_wallet" json:"buyerWallet"`
	Amount             int64      `db:"amount" json:"amount"`
	Status             string     `db:"status" json:"status"`
	UniqueBarcodeID    string     `db:"unique_barcode_id" json:"uniqueBarcodeId"`
	PurchaseNumber     int        `db:"purchase_number" json:"purchaseNumber"`
	NFTID              string     `db:"nft_id" json:"nftId,omitempty"`
	TxHash             string     `db:"tx_hash" json:"txHash,omitempty"`
	Error              string     `db:"error" json:"error,omitempty"`
	FulfillmentOrderID string     `db:"fulfillment_order_id" json:"fulfillmentOrderId,omitempty"`
	EmailSentAt        *time.Time `db:"email_sent_at" json:"emailSentAt,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
}

// NFT represents the minted asset for one purchased unit
type NFT struct {
	ID              string     `db:"id" json:"id"`
	ProductID       string     `db:"product_id" json:"productId"`
	Status          string     `db:"status" json:"status"`
	TokenID         string     `db:"token_id" json:"tokenId,omitempty"`
	OwnerWallet     string     `db:"owner_wallet" json:"ownerWallet,omitempty"`
	TransactionHash string     `db:"transaction_hash" json:"transactionHash,omitempty"`
	MintedAt        *time.Time `db:"minted_at" json:"mintedAt,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

// Transaction statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// NFT statuses
const (
	NFTStatusPending = "pending"
	NFTStatusMinted  = "minted"
	NFTStatusFailed  = "failed"
)

// Product NFT display statuses
const (
	ProductNFTStatusNone   = "none"
	ProductNFTStatusMinted = "minted"
)
