package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"soilify/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process implementation of the catalog, order and
// shipping rate stores. Used for local development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*models.Product
	orders   map[string]*memoryOrder
	rates    map[string]models.ShippingRate
	seq      int64
	now      func() time.Time
}

type memoryOrder struct {
	order *models.Order
	seq   int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*models.Product),
		orders:   make(map[string]*memoryOrder),
		rates:    make(map[string]models.ShippingRate),
		now:      time.Now,
	}
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Product{}
	for _, p := range m.products {
		if filter.Matches(*p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CreateProduct(ctx context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.products[product.ID]; exists {
		return ErrConflict
	}
	product.SyncStock()
	now := m.now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	cp := *product
	m.products[product.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateProduct(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(p)
	p.UpdatedAt = m.now()
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) DeleteProduct(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.products, id)
	return nil
}

func (m *MemoryStore) DecrementStock(ctx context.Context, id string, amount int) (*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.StockCount -= amount
	p.SyncStock()
	p.UpdatedAt = m.now()
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CountLowStock(ctx context.Context, threshold int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, p := range m.products {
		if p.StockCount < threshold {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		return ErrConflict
	}
	if order.IdempotencyKey != nil {
		for _, existing := range m.orders {
			if existing.order.IdempotencyKey != nil && *existing.order.IdempotencyKey == *order.IdempotencyKey {
				return ErrConflict
			}
		}
	}
	if order.PaymentReference != nil {
		for _, existing := range m.orders {
			if existing.order.PaymentReference != nil && *existing.order.PaymentReference == *order.PaymentReference {
				return ErrConflict
			}
		}
	}
	m.seq++
	m.orders[order.ID] = &memoryOrder{order: order.Clone(), seq: m.seq}
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.order.Clone(), nil
}

func (m *MemoryStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.orders {
		if o.order.IdempotencyKey != nil && *o.order.IdempotencyKey == key {
			return o.order.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetOrderByPaymentReference(ctx context.Context, ref string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *memoryOrder
	for _, o := range m.orders {
		if o.order.PaymentReference != nil && *o.order.PaymentReference == ref {
			if found == nil || o.seq > found.seq {
				found = o
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.order.Clone(), nil
}

func (m *MemoryStore) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*memoryOrder, 0, len(m.orders))
	for _, o := range m.orders {
		if filter.Matches(o.order) {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
			return a.order.CreatedAt.After(b.order.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]*models.Order, len(matched))
	for i, o := range matched {
		out[i] = o.order.Clone()
	}
	return out, nil
}

func (m *MemoryStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	existing.order = order.Clone()
	return nil
}

func (m *MemoryStore) DeleteOrdersWhere(ctx context.Context, statuses []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}
	deleted := 0
	for id, o := range m.orders {
		if _, ok := wanted[o.order.Status]; ok {
			delete(m.orders, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) OrderTotals(ctx context.Context) (decimal.Decimal, int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sales := decimal.Zero
	pending := 0
	for _, o := range m.orders {
		if o.order.Status != models.OrderStatusCancelled {
			sales = sales.Add(o.order.TotalPrice)
		}
		if o.order.Status == models.OrderStatusPending {
			pending++
		}
	}
	return sales, len(m.orders), pending, nil
}

func (m *MemoryStore) ListShippingRates(ctx context.Context) ([]models.ShippingRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ShippingRate, 0, len(m.rates))
	for _, r := range m.rates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out, nil
}

func (m *MemoryStore) UpsertShippingRate(ctx context.Context, region string, fee decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	region = strings.TrimSpace(region)
	key := strings.ToLower(region)
	if existing, ok := m.rates[key]; ok {
		region = existing.Region
	}
	m.rates[key] = models.ShippingRate{Region: region, Fee: fee, UpdatedAt: m.now()}
	return nil
}

func (m *MemoryStore) DeleteShippingRate(ctx context.Context, region string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rates, strings.ToLower(strings.TrimSpace(region)))
	return nil
}

func (m *MemoryStore) ShippingFee(ctx context.Context, region string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rates[strings.ToLower(strings.TrimSpace(region))]
	if !ok {
		return decimal.Zero, nil
	}
	return r.Fee, nil
}
