package service

import (
	"context"
	"time"

	"soilify/internal/models"

	"github.com/shopspring/decimal"
)

// CatalogStore persists products. Implemented by store.Store and store.MemoryStore.
type CatalogStore interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error)
	ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	DecrementStock(ctx context.Context, id string, amount int) (*models.Product, error)
	CountLowStock(ctx context.Context, threshold int) (int, error)
}

// OrderStore persists orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderByPaymentReference(ctx context.Context, ref string) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	DeleteOrdersWhere(ctx context.Context, statuses []string) (int, error)
	OrderTotals(ctx context.Context) (sales decimal.Decimal, total int, pending int, err error)
}

// ShippingRates maps regions to flat delivery fees.
type ShippingRates interface {
	ShippingFee(ctx context.Context, region string) (decimal.Decimal, error)
	ListShippingRates(ctx context.Context) ([]models.ShippingRate, error)
	UpsertShippingRate(ctx context.Context, region string, fee decimal.Decimal) error
	DeleteShippingRate(ctx context.Context, region string) error
}

// StockMirror is the Redis copy of product stock.
type StockMirror interface {
	SetStock(ctx context.Context, productID string, stock int) error
	DeleteStock(ctx context.Context, productID string) error
	DecrementStock(ctx context.Context, productID string, amount int) (int, error)
	GetStock(ctx context.Context, productID string) (int, error)
}

// SubmissionGuard prevents two in-flight placements with the same idempotency key.
type SubmissionGuard interface {
	ClaimSubmission(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseSubmission(ctx context.Context, key, token string) error
}

// PaymentLedger remembers each issued checkout reference with its owner and amount.
// MarkPaymentVerified reports false for a reference that was never recorded.
// GetPayment returns nil for an unknown reference.
type PaymentLedger interface {
	RecordCheckout(ctx context.Context, rec models.PaymentRecord, ttl time.Duration) error
	MarkPaymentVerified(ctx context.Context, ref string, ttl time.Duration) (bool, error)
	GetPayment(ctx context.Context, ref string) (*models.PaymentRecord, error)
}

// EventPublisher emits domain events. Implemented by broker.EventPublisher.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, eventType string, order *models.Order, action string) error
	PublishTableChanged(ctx context.Context, table string) error
	PublishPaymentEvent(ctx context.Context, eventType, reference string, amount decimal.Decimal, reason string) error
}
