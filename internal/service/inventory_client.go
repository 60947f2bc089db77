package service

import (
	"context"
	"errors"
	"fmt"

	"soilify/internal/models"
	"soilify/internal/redisclient"
	"soilify/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InventoryClient adjusts stock in the catalog store and keeps the Redis mirror in step.
// The catalog store is authoritative; mirror failures are logged and counted only.
type InventoryClient struct {
	catalog CatalogStore
	mirror  StockMirror
	logger  *zap.Logger
}

// NewInventoryClient creates a new inventory client. mirror may be nil.
func NewInventoryClient(catalog CatalogStore, mirror StockMirror) *InventoryClient {
	return &InventoryClient{
		catalog: catalog,
		mirror:  mirror,
		logger:  util.GetLogger(),
	}
}

// DecrementStock lowers a product's stock by amount, clamping at zero
func (ic *InventoryClient) DecrementStock(ctx context.Context, productID string, amount int) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.DecrementStock",
		attribute.String("product_id", productID),
		attribute.Int("amount", amount))
	defer span.End()

	product, err := ic.catalog.DecrementStock(ctx, productID, amount)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if ic.mirror != nil {
		remaining, err := ic.mirror.DecrementStock(ctx, productID, amount)
		switch {
		case errors.Is(err, redisclient.ErrNotMirrored):
			ic.Mirror(ctx, product)
		case err != nil:
			util.StockMirrorErrors.Inc()
			ic.logger.Warn("Failed to decrement stock mirror",
				zap.String("product_id", productID),
				zap.Error(err))
		case remaining != product.StockCount:
			ic.Mirror(ctx, product)
		}
	}

	return product, nil
}

// Stock returns a product's available stock from the mirror. A missing or
// unreachable mirror falls back to the catalog store; a missing entry is repaired.
func (ic *InventoryClient) Stock(ctx context.Context, productID string) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Stock", attribute.String("product_id", productID))
	defer span.End()

	repair := false
	if ic.mirror != nil {
		stock, err := ic.mirror.GetStock(ctx, productID)
		switch {
		case err == nil:
			util.StockReadsTotal.WithLabelValues("mirror").Inc()
			return stock, nil
		case errors.Is(err, redisclient.ErrNotMirrored):
			repair = true
		default:
			util.StockMirrorErrors.Inc()
			ic.logger.Warn("Stock mirror read failed, using database",
				zap.String("product_id", productID),
				zap.Error(err))
		}
	}

	product, err := ic.catalog.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	util.StockReadsTotal.WithLabelValues("database").Inc()
	if repair {
		ic.Mirror(ctx, product)
	}
	return product.StockCount, nil
}

// Mirror writes the product's current stock to Redis
func (ic *InventoryClient) Mirror(ctx context.Context, product *models.Product) {
	if ic.mirror == nil || product == nil {
		return
	}
	if err := ic.mirror.SetStock(ctx, product.ID, product.StockCount); err != nil {
		util.StockMirrorErrors.Inc()
		ic.logger.Warn("Failed to mirror stock",
			zap.String("product_id", product.ID),
			zap.Error(err))
	}
}

// Forget drops a deleted product from the mirror
func (ic *InventoryClient) Forget(ctx context.Context, productID string) {
	if ic.mirror == nil {
		return
	}
	if err := ic.mirror.DeleteStock(ctx, productID); err != nil {
		util.StockMirrorErrors.Inc()
		ic.logger.Warn("Failed to drop stock mirror",
			zap.String("product_id", productID),
			zap.Error(err))
	}
}

// SyncStockToRedis copies every product's stock into the mirror
func (ic *InventoryClient) SyncStockToRedis(ctx context.Context) error {
	if ic.mirror == nil {
		return nil
	}
	ic.logger.Info("Starting stock sync to Redis")

	products, err := ic.catalog.ListProducts(ctx, models.ProductFilter{})
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	for i := range products {
		ic.Mirror(ctx, &products[i])
	}

	ic.logger.Info("Stock sync completed", zap.Int("count", len(products)))
	return nil
}
