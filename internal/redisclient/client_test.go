package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"soilify/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires TEST_REDIS_ADDR")
	}
	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDecrementStockClamps(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	id := uuid.NewString()
	t.Cleanup(func() { _ = c.DeleteStock(ctx, id) })

	_, err := c.DecrementStock(ctx, id, 1)
	assert.ErrorIs(t, err, ErrNotMirrored)

	require.NoError(t, c.SetStock(ctx, id, 2))
	remaining, err := c.DecrementStock(ctx, id, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	stock, err := c.GetStock(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, stock)
}

func TestSubmissionClaim(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := uuid.NewString()

	ok, err := c.ClaimSubmission(ctx, key, "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ClaimSubmission(ctx, key, "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseSubmission(ctx, key, "second"))
	ok, err = c.ClaimSubmission(ctx, key, "third", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseSubmission(ctx, key, "first"))
	ok, err = c.ClaimSubmission(ctx, key, "third", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	_ = c.ReleaseSubmission(ctx, key, "third")
}

func TestPaymentLedger(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	ref := "PAY-" + uuid.NewString()
	t.Cleanup(func() { _ = c.rdb.Del(ctx, paymentKey(ref)).Err() })

	ok, err := c.MarkPaymentVerified(ctx, ref, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	missing, err := c.GetPayment(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, c.RecordCheckout(ctx, models.PaymentRecord{
		Reference: ref, UserID: "cust-1", Amount: decimal.RequireFromString("950.50"),
	}, time.Minute))
	rec, err := c.GetPayment(ctx, ref)
	require.NoError(t, err)
	assert.False(t, rec.Verified)
	assert.Equal(t, "cust-1", rec.UserID)
	assert.Equal(t, "950.5", rec.Amount.String())

	ok, err = c.MarkPaymentVerified(ctx, ref, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	rec, err = c.GetPayment(ctx, ref)
	require.NoError(t, err)
	assert.True(t, rec.Verified)
}
