package models

import "time"

// Event types
const (
	EventTypePurchaseCompleted = "PURCHASE_COMPLETED"
	EventTypePurchaseFailed    = "PURCHASE_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PurchaseCompletedEvent published when a unit is sold and its NFT minted
type PurchaseCompletedEvent struct {
	BaseEvent
	TransactionID   string `json:"transaction_id"`
	ProductID       string `json:"product_id"`
	NFTID           string `json:"nft_id"`
	TokenID         string `json:"token_id"`
	BuyerWallet     string `json:"buyer_wallet"`
	UniqueBarcodeID string `json:"unique_barcode_id"`
	PurchaseNumber  int    `json:"purchase_number"`
	Amount          int64  `json:"amount"`
}

// PurchaseFailedEvent published after a failed purchase has been compensated
type PurchaseFailedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	Reason        string `json:"reason"`
}
