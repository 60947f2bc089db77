package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"soilify/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

//go:embed scripts/decrement_stock.lua
var decrementStockScript string

//go:embed scripts/release_claim.lua
var releaseClaimScript string

//go:embed scripts/verify_payment.lua
var verifyPaymentScript string

// ErrNotMirrored is returned when a product has no stock entry in Redis.
var ErrNotMirrored = errors.New("redis: product stock not mirrored")

type Client struct {
	rdb             *redis.Client
	decrementScript *redis.Script
	releaseScript   *redis.Script
	verifyScript    *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:             rdb,
		decrementScript: redis.NewScript(decrementStockScript),
		releaseScript:   redis.NewScript(releaseClaimScript),
		verifyScript:    redis.NewScript(verifyPaymentScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func stockKey(productID string) string {
	return "stock:" + productID
}

// SetStock mirrors a product's stock count
func (c *Client) SetStock(ctx context.Context, productID string, stock int) error {
	inStock := 0
	if stock > 0 {
		inStock = 1
	}
	return c.rdb.HSet(ctx, stockKey(productID), "stock_count", stock, "in_stock", inStock).Err()
}

// DeleteStock removes a product's mirror entry
func (c *Client) DeleteStock(ctx context.Context, productID string) error {
	return c.rdb.Del(ctx, stockKey(productID)).Err()
}

// DecrementStock atomically lowers the mirrored stock, clamping at zero
func (c *Client) DecrementStock(ctx context.Context, productID string, amount int) (int, error) {
	result, err := c.decrementScript.Run(ctx, c.rdb, []string{stockKey(productID)}, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("decrement stock script failed: %w", err)
	}

	remaining, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	if remaining < 0 {
		return 0, ErrNotMirrored
	}
	return int(remaining), nil
}

// GetStock returns the mirrored stock count
func (c *Client) GetStock(ctx context.Context, productID string) (int, error) {
	raw, err := c.rdb.HGet(ctx, stockKey(productID), "stock_count").Result()
	if err == redis.Nil {
		return 0, ErrNotMirrored
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}

func submissionKey(key string) string {
	return "submission:" + key
}

// ClaimSubmission marks an idempotency key as in flight. It returns false if
// another submission already holds the claim.
func (c *Client) ClaimSubmission(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, submissionKey(key), token, ttl).Result()
}

// ReleaseSubmission drops a claim held by token
func (c *Client) ReleaseSubmission(ctx context.Context, key, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{submissionKey(key)}, token).Result()
	if err != nil {
		return fmt.Errorf("release claim script failed: %w", err)
	}
	return nil
}

func paymentKey(ref string) string {
	return "payment:" + ref
}

// RecordCheckout stores the amount and owner of a newly issued checkout reference
func (c *Client) RecordCheckout(ctx context.Context, rec models.PaymentRecord, ttl time.Duration) error {
	key := paymentKey(rec.Reference)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "user_id", rec.UserID, "amount", rec.Amount.String(), "verified", "0")
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

// MarkPaymentVerified flags a recorded reference as paid. It reports false when
// the reference was never issued.
func (c *Client) MarkPaymentVerified(ctx context.Context, ref string, ttl time.Duration) (bool, error) {
	n, err := c.verifyScript.Run(ctx, c.rdb, []string{paymentKey(ref)}, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("verify payment script failed: %w", err)
	}
	return n == 1, nil
}

// GetPayment returns the record for ref, or nil when it is unknown or expired
func (c *Client) GetPayment(ctx context.Context, ref string) (*models.PaymentRecord, error) {
	fields, err := c.rdb.HGetAll(ctx, paymentKey(ref)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return nil, fmt.Errorf("corrupt payment record %s: %w", ref, err)
	}
	return &models.PaymentRecord{
		Reference: ref,
		UserID:    fields["user_id"],
		Amount:    amount,
		Verified:  fields["verified"] == "1",
	}, nil
}

func sessionKey(id string) string {
	return "chat:session:" + id
}

// SaveSession stores an encoded chat session with TTL
func (c *Client) SaveSession(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, sessionKey(id), data, ttl).Err()
}

// LoadSession returns the encoded chat session, or nil if none is stored
func (c *Client) LoadSession(ctx context.Context, id string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

// DeleteSession removes a chat session
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, sessionKey(id)).Err()
}
