package minting

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	mrand "math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"drop-service/internal/util"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrRejected is returned when the ledger answers but refuses to mint
var ErrRejected = errors.New("mint rejected")

// MintRequest identifies the unit being minted
type MintRequest struct {
	BarcodeID      string `json:"barcodeId"`
	ProductName    string `json:"productName"`
	ProductID      string `json:"productId"`
	PurchaseNumber int    `json:"purchaseNumber"`
}

// MintResult is returned for a successful mint
type MintResult struct {
	TokenID         string `json:"tokenId"`
	TransactionHash string `json:"transactionHash"`
}

type mintResponse struct {
	Success         bool   `json:"success"`
	TokenID         string `json:"tokenId"`
	TransactionHash string `json:"transactionHash"`
	Error           string `json:"error"`
}

// HTTPMinter calls the minting API over HTTP
type HTTPMinter struct {
	client  *resty.Client
	baseURL string
	logger  *zap.Logger
}

// NewHTTPMinter creates a minting API client
func NewHTTPMinter(baseURL, apiKey string, timeout time.Duration) *HTTPMinter {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &HTTPMinter{
		client:  client,
		baseURL: baseURL,
		logger:  util.GetLogger(),
	}
}

// Mint asks the ledger to mint one token. Transport errors, non-2xx answers
// and success=false bodies are all reported as errors.
func (m *HTTPMinter) Mint(ctx context.Context, req MintRequest) (*MintResult, error) {
	var out mintResponse

	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post(m.baseURL + "/mint")
	if err != nil {
		return nil, fmt.Errorf("mint request failed: %w", err)
	}

	if resp.IsError() || !out.Success {
		reason := out.Error
		if reason == "" {
			reason = resp.Status()
		}
		m.logger.Warn("Mint rejected",
			zap.String("barcode_id", req.BarcodeID),
			zap.Int("status", resp.StatusCode()),
			zap.String("reason", reason))
		return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	if out.TokenID == "" {
		return nil, fmt.Errorf("%w: empty token id", ErrRejected)
	}

	return &MintResult{TokenID: out.TokenID, TransactionHash: out.TransactionHash}, nil
}

// SimulatedMinter mints locally with a configurable success rate
type SimulatedMinter struct {
	successRate float64
	latency     time.Duration
	nextToken   int64
	mu          sync.Mutex
	rnd         *mrand.Rand
	logger      *zap.Logger
}

// NewSimulatedMinter creates a simulated minter
func NewSimulatedMinter(successRate float64, latency time.Duration) *SimulatedMinter {
	return &SimulatedMinter{
		successRate: successRate,
		latency:     latency,
		rnd:         mrand.New(mrand.NewSource(time.Now().UnixNano())),
		logger:      util.GetLogger(),
	}
}

func (m *SimulatedMinter) Mint(ctx context.Context, req MintRequest) (*MintResult, error) {
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	success := m.rnd.Float64() < m.successRate
	m.mu.Unlock()

	if !success {
		m.logger.Warn("Simulated mint failed", zap.String("barcode_id", req.BarcodeID))
		return nil, fmt.Errorf("%w: simulated ledger rejection", ErrRejected)
	}

	tokenID := atomic.AddInt64(&m.nextToken, 1)
	hash, err := randomHash()
	if err != nil {
		return nil, err
	}

	return &MintResult{
		TokenID:         strconv.FormatInt(tokenID, 10),
		TransactionHash: hash,
	}, nil
}

func randomHash() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}
