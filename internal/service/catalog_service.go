package service

import (
	"context"
	"fmt"
	"strings"

	"soilify/internal/models"
	"soilify/internal/util"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogService validates and applies catalog changes
type CatalogService struct {
	catalog   CatalogStore
	inventory *InventoryClient
	events    EventPublisher
	newID     func() string
	logger    *zap.Logger
}

// NewCatalogService creates a new catalog service. events may be nil.
func NewCatalogService(catalog CatalogStore, inventory *InventoryClient, events EventPublisher) *CatalogService {
	if inventory == nil {
		inventory = NewInventoryClient(catalog, nil)
	}
	return &CatalogService{
		catalog:   catalog,
		inventory: inventory,
		events:    events,
		newID:     func() string { return ulid.Make().String() },
		logger:    util.GetLogger(),
	}
}

// CreateProductRequest is the admin form for a new product. Price is a pointer so
// that a missing price can be told apart from a free product.
type CreateProductRequest struct {
	Name        string           `json:"name"`
	Price       *decimal.Decimal `json:"price"`
	Discount    int              `json:"discount"`
	Category    string           `json:"category"`
	Unit        string           `json:"unit"`
	Description string           `json:"description"`
	ImageURL    string           `json:"imageUrl"`
	StockCount  int              `json:"stockCount"`
	Rating      float64          `json:"rating"`
	Reviews     int              `json:"reviews"`
}

func (s *CatalogService) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	return s.catalog.ListProducts(ctx, filter)
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := s.catalog.GetProduct(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "product "+id)
	}
	return p, nil
}

// Stock returns the available stock of a product
func (s *CatalogService) Stock(ctx context.Context, id string) (int, error) {
	stock, err := s.inventory.Stock(ctx, id)
	if err != nil {
		return 0, mapStoreError(err, "product "+id)
	}
	return stock, nil
}

// CreateProduct adds a product to the catalog
func (s *CatalogService) CreateProduct(ctx context.Context, actor *models.Identity, req CreateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if err := requireAdmin(actor, "managing products"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, validationError("product name is required")
	}
	if req.Price == nil {
		return nil, validationError("product price is required")
	}
	if err := validateProductNumbers(req.Price, &req.Discount, &req.StockCount); err != nil {
		return nil, err
	}

	product := &models.Product{
		ID:          s.newID(),
		Name:        strings.TrimSpace(req.Name),
		Price:       *req.Price,
		Discount:    req.Discount,
		Category:    strings.TrimSpace(req.Category),
		Unit:        strings.TrimSpace(req.Unit),
		Description: req.Description,
		ImageURL:    strings.TrimSpace(req.ImageURL),
		StockCount:  req.StockCount,
		Rating:      req.Rating,
		Reviews:     req.Reviews,
	}
	if err := s.catalog.CreateProduct(ctx, product); err != nil {
		return nil, mapStoreError(err, "product "+product.ID)
	}

	s.logger.Info("Product created", zap.String("product_id", product.ID), zap.String("name", product.Name))
	s.inventory.Mirror(ctx, product)
	s.publishProducts(ctx)
	return product, nil
}

// UpdateProduct applies a partial edit
func (s *CatalogService) UpdateProduct(ctx context.Context, actor *models.Identity, id string, patch models.ProductPatch) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateProduct")
	defer span.End()

	if err := requireAdmin(actor, "managing products"); err != nil {
		return nil, err
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, validationError("product name cannot be blank")
	}
	if err := validateProductNumbers(patch.Price, patch.Discount, patch.StockCount); err != nil {
		return nil, err
	}

	product, err := s.catalog.UpdateProduct(ctx, id, patch)
	if err != nil {
		return nil, mapStoreError(err, "product "+id)
	}

	s.logger.Info("Product updated", zap.String("product_id", id))
	if patch.StockCount != nil {
		s.inventory.Mirror(ctx, product)
	}
	s.publishProducts(ctx)
	return product, nil
}

// DeleteProduct removes a product. Missing products are not an error.
func (s *CatalogService) DeleteProduct(ctx context.Context, actor *models.Identity, id string) error {
	if err := requireAdmin(actor, "managing products"); err != nil {
		return err
	}
	if err := s.catalog.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	s.logger.Info("Product deleted", zap.String("product_id", id))
	s.inventory.Forget(ctx, id)
	s.publishProducts(ctx)
	return nil
}

func validateProductNumbers(price *decimal.Decimal, discount, stock *int) error {
	if price != nil && price.IsNegative() {
		return validationError("price cannot be negative")
	}
	if price != nil && !price.Equal(price.Round(2)) {
		return validationError("price cannot have more than two decimal places")
	}
	if discount != nil && (*discount < 0 || *discount > 100) {
		return validationError("discount must be between 0 and 100")
	}
	if stock != nil && *stock < 0 {
		return validationError("stock cannot be negative")
	}
	return nil
}

func requireAdmin(actor *models.Identity, what string) error {
	if !actor.Authenticated() {
		return ErrAuthRequired
	}
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: %s requires an administrator", ErrForbidden, what)
	}
	return nil
}

func (s *CatalogService) publishProducts(ctx context.Context) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTableChanged(ctx, models.TableProducts); err != nil {
		s.logger.Error("Failed to publish table change", zap.String("table", models.TableProducts), zap.Error(err))
	}
}

// ShippingService manages the region rate table
type ShippingService struct {
	rates  ShippingRates
	events EventPublisher
	logger *zap.Logger
}

// NewShippingService creates a new shipping service. events may be nil.
func NewShippingService(rates ShippingRates, events EventPublisher) *ShippingService {
	return &ShippingService{rates: rates, events: events, logger: util.GetLogger()}
}

func (s *ShippingService) List(ctx context.Context) ([]models.ShippingRate, error) {
	return s.rates.ListShippingRates(ctx)
}

// Quote returns the fee for an address
func (s *ShippingService) Quote(ctx context.Context, addr models.Address) (decimal.Decimal, error) {
	return s.rates.ShippingFee(ctx, addr.Region())
}

func (s *ShippingService) Upsert(ctx context.Context, actor *models.Identity, region string, fee decimal.Decimal) error {
	if err := requireAdmin(actor, "managing shipping rates"); err != nil {
		return err
	}
	if strings.TrimSpace(region) == "" {
		return validationError("region is required")
	}
	if fee.IsNegative() {
		return validationError("fee cannot be negative")
	}
	if err := s.rates.UpsertShippingRate(ctx, region, fee); err != nil {
		return err
	}
	s.logger.Info("Shipping rate saved", zap.String("region", region), zap.String("fee", fee.String()))
	s.publishRates(ctx)
	return nil
}

func (s *ShippingService) Delete(ctx context.Context, actor *models.Identity, region string) error {
	if err := requireAdmin(actor, "managing shipping rates"); err != nil {
		return err
	}
	if err := s.rates.DeleteShippingRate(ctx, region); err != nil {
		return err
	}
	s.logger.Info("Shipping rate deleted", zap.String("region", region))
	s.publishRates(ctx)
	return nil
}

func (s *ShippingService) publishRates(ctx context.Context) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTableChanged(ctx, models.TableShippingRates); err != nil {
		s.logger.Error("Failed to publish table change", zap.String("table", models.TableShippingRates), zap.Error(err))
	}
}

// Seed writes configured default rates without overwriting admin edits
func (s *ShippingService) Seed(ctx context.Context, defaults map[string]decimal.Decimal) error {
	existing, err := s.rates.ListShippingRates(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		have[strings.ToLower(r.Region)] = true
	}
	for region, fee := range defaults {
		if have[strings.ToLower(region)] {
			continue
		}
		if err := s.rates.UpsertShippingRate(ctx, region, fee); err != nil {
			return fmt.Errorf("failed to seed rate for %s: %w", region, err)
		}
	}
	return nil
}
