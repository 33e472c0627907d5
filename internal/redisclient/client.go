package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyBarcode     = "barcode:%s"
	keyIdempotency = "idempotency:%s"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ClaimBarcode atomically claims a per-unit barcode. Claims never expire.
func (c *Client) ClaimBarcode(ctx context.Context, code string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf(keyBarcode, code), time.Now().Unix(), 0).Result()
	if err != nil {
		return false, fmt.Errorf("claim barcode failed: %w", err)
	}
	return ok, nil
}

// SeenIdempotencyKey records the key and reports whether it was already present
func (c *Client) SeenIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf(keyIdempotency, key), "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// ForgetIdempotencyKey removes a key so the request may be retried
func (c *Client) ForgetIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(keyIdempotency, key)).Err()
}
