package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"drop-service/internal/util"

	"go.uber.org/zap"
)

const (
	barcodeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultBarcodeLength = 12
	defaultMaxAttempts   = 5
)

// BarcodeGenerator produces per-unit barcodes
type BarcodeGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// BarcodeRegistry records issued barcodes
type BarcodeRegistry interface {
	// ClaimBarcode reports false if the code was claimed before.
	ClaimBarcode(ctx context.Context, code string) (bool, error)
}

// RandomBarcodeGenerator draws uppercase alphanumeric codes from crypto/rand
type RandomBarcodeGenerator struct {
	length int
}

func NewRandomBarcodeGenerator(length int) *RandomBarcodeGenerator {
	if length <= 0 {
		length = DefaultBarcodeLength
	}
	return &RandomBarcodeGenerator{length: length}
}

func (g *RandomBarcodeGenerator) Generate(ctx context.Context) (string, error) {
	max := big.NewInt(int64(len(barcodeAlphabet)))
	code := make([]byte, g.length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		code[i] = barcodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// UniqueBarcodeGenerator claims every candidate in a registry and retries on
// collision, so an issued code is never handed out twice.
type UniqueBarcodeGenerator struct {
	source      BarcodeGenerator
	registry    BarcodeRegistry
	maxAttempts int
	logger      *zap.Logger
}

func NewUniqueBarcodeGenerator(source BarcodeGenerator, registry BarcodeRegistry, maxAttempts int) *UniqueBarcodeGenerator {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &UniqueBarcodeGenerator{
		source:      source,
		registry:    registry,
		maxAttempts: maxAttempts,
		logger:      util.GetLogger(),
	}
}

func (g *UniqueBarcodeGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		code, err := g.source.Generate(ctx)
		if err != nil {
			return "", err
		}

		claimed, err := g.registry.ClaimBarcode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to claim barcode: %w", err)
		}
		if claimed {
			return code, nil
		}

		util.BarcodeCollisionsTotal.Inc()
		g.logger.Warn("Barcode collision, retrying",
			zap.String("barcode", code),
			zap.Int("attempt", attempt))
	}

	return "", fmt.Errorf("%w after %d attempts", ErrBarcodeExhausted, g.maxAttempts)
}
