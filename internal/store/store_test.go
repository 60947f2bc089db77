package store

import (
	"context"
	"os"
	"testing"

	"soilify/internal/models"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires TEST_DATABASE_URL")
	}

	s, err := NewStore(url)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := "idem-" + ulid.Make().String()
	order := &models.Order{
		ID:             "ORD-" + ulid.Make().String(),
		UserID:         "user-123",
		CustomerName:   "Test Farmer",
		Phone:          "9000000000",
		ProductDetails: "Urea (x2)",
		Quantity:       2,
		Subtotal:       decimal.NewFromInt(900),
		ShippingFee:    decimal.NewFromInt(50),
		TotalPrice:     decimal.NewFromInt(950),
		Location:       "Shopian",
		PaymentMethod:  models.PaymentMethodCOD,
		Channel:        models.ChannelMarketplace,
		IdempotencyKey: &key,
		Status:         models.OrderStatusPending,
		PaymentStatus:  models.PaymentStatusAwaiting,
	}

	require.NoError(t, s.CreateOrder(ctx, order))

	retrieved, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.UserID, retrieved.UserID)
	assert.True(t, order.TotalPrice.Equal(retrieved.TotalPrice))

	dup := order.Clone()
	dup.ID = "ORD-" + ulid.Make().String()
	err = s.CreateOrder(ctx, dup)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.GetOrder(ctx, "ORD-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecrementStockClamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Product{ID: ulid.Make().String(), Name: "Neem Cake", Price: decimal.NewFromInt(120), StockCount: 1}
	require.NoError(t, s.CreateProduct(ctx, p))
	t.Cleanup(func() { _ = s.DeleteProduct(ctx, p.ID) })

	updated, err := s.DecrementStock(ctx, p.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.StockCount)
	assert.False(t, updated.InStock)
}

func TestShippingFeeCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertShippingRate(ctx, "Pulwama", decimal.NewFromInt(40)))
	t.Cleanup(func() { _ = s.DeleteShippingRate(ctx, "Pulwama") })

	fee, err := s.ShippingFee(ctx, "PULWAMA")
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromInt(40)))

	fee, err = s.ShippingFee(ctx, "Nowhere")
	require.NoError(t, err)
	assert.True(t, fee.IsZero())
}
