package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"soilify/internal/models"
	"soilify/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	adminID    = &models.Identity{UserID: "admin-1", Email: "owner@soilify.in", Role: models.RoleAdmin}
	customerID = &models.Identity{UserID: "cust-1", Email: "farmer@example.com", Name: "Test Farmer", Role: models.RoleCustomer}
	strangerID = &models.Identity{UserID: "cust-2", Email: "other@example.com", Role: models.RoleCustomer}
)

type capturedEvent struct {
	Type   string
	Order  string
	Action string
	Table  string
}

type captureEvents struct {
	mu     sync.Mutex
	events []capturedEvent
	err    error
}

func (c *captureEvents) PublishOrderEvent(_ context.Context, eventType string, order *models.Order, action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{Type: eventType, Order: order.ID, Action: action})
	return c.err
}

func (c *captureEvents) PublishTableChanged(_ context.Context, table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{Type: models.EventTypeTableChanged, Table: table})
	return c.err
}

func (c *captureEvents) PublishPaymentEvent(_ context.Context, eventType, ref string, _ decimal.Decimal, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{Type: eventType, Order: ref})
	return c.err
}

func (c *captureEvents) ofType(t string) []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedEvent
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type memoryGuard struct {
	mu     sync.Mutex
	claims map[string]string
	err    error
}

func newMemoryGuard() *memoryGuard { return &memoryGuard{claims: map[string]string{}} }

func (g *memoryGuard) ClaimSubmission(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if _, held := g.claims[key]; held {
		return false, nil
	}
	g.claims[key] = token
	return true, nil
}

func (g *memoryGuard) ReleaseSubmission(_ context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claims[key] == token {
		delete(g.claims, key)
	}
	return nil
}

type memoryLedger struct {
	mu      sync.Mutex
	records map[string]models.PaymentRecord
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{records: map[string]models.PaymentRecord{}}
}

func (l *memoryLedger) RecordCheckout(_ context.Context, rec models.PaymentRecord, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.Reference] = rec
	return nil
}

func (l *memoryLedger) MarkPaymentVerified(_ context.Context, ref string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[ref]
	if !ok {
		return false, nil
	}
	rec.Verified = true
	l.records[ref] = rec
	return true, nil
}

func (l *memoryLedger) GetPayment(_ context.Context, ref string) (*models.PaymentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[ref]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// paid records a verified checkout of amount for user.
func (l *memoryLedger) paid(t *testing.T, ref, user, amount string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.RecordCheckout(ctx, models.PaymentRecord{
		Reference: ref, UserID: user, Amount: decimal.RequireFromString(amount),
	}, time.Hour))
	ok, err := l.MarkPaymentVerified(ctx, ref, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
}

// flakyCatalog fails DecrementStock for selected products.
type flakyCatalog struct {
	*store.MemoryStore
	failFor map[string]bool
}

func (f *flakyCatalog) DecrementStock(ctx context.Context, id string, amount int) (*models.Product, error) {
	if f.failFor[id] {
		return nil, errors.New("connection reset")
	}
	return f.MemoryStore.DecrementStock(ctx, id, amount)
}

type fixture struct {
	mem      *store.MemoryStore
	events   *captureEvents
	guard    *memoryGuard
	ledger   *memoryLedger
	workflow *OrderWorkflow
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithCatalog(t, nil)
}

func newFixtureWithCatalog(t *testing.T, wrap func(*store.MemoryStore) CatalogStore) *fixture {
	t.Helper()
	f := &fixture{
		mem:    store.NewMemoryStore(),
		events: &captureEvents{},
		guard:  newMemoryGuard(),
		ledger: newMemoryLedger(),
		now:    time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	var catalog CatalogStore = f.mem
	if wrap != nil {
		catalog = wrap(f.mem)
	}

	var seq int
	var mu sync.Mutex
	f.workflow = NewOrderWorkflow(WorkflowDeps{
		Catalog:   catalog,
		Orders:    f.mem,
		Rates:     f.mem,
		Inventory: NewInventoryClient(catalog, nil),
		Guard:     f.guard,
		Payments:  f.ledger,
		Events:    f.events,
		Policy:    DefaultWorkflowPolicy(),
		Clock: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return f.now.Add(time.Duration(seq) * time.Second)
		},
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("ORD-%04d", seq)
		},
	})
	return f
}

func (f *fixture) addProduct(t *testing.T, id, name string, price int64, discount, stock int) {
	t.Helper()
	require.NoError(t, f.mem.CreateProduct(context.Background(), &models.Product{
		ID:         id,
		Name:       name,
		Price:      decimal.NewFromInt(price),
		Discount:   discount,
		Category:   "Fertilizer",
		StockCount: stock,
	}))
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.mem.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockCount
}

func placeRequest(items ...models.CartItem) *PlaceOrderRequest {
	return &PlaceOrderRequest{
		Items:         items,
		Customer:      models.Customer{Name: "Test Farmer", Phone: "9000000000"},
		Address:       models.Address{Location: "Main Chowk", District: "Shopian", Pincode: "192303"},
		PaymentMethod: models.PaymentMethodCOD,
	}
}

// orderInStatus places an order and walks it to status using admin actions.
func (f *fixture) orderInStatus(t *testing.T, status string) *models.Order {
	t.Helper()
	ctx := context.Background()
	f.addProduct(t, "seed-"+status, "Seed Pack", 100, 0, 50)
	order, err := f.workflow.PlaceOrder(ctx, customerID, placeRequest(models.CartItem{ProductID: "seed-" + status, Quantity: 1}))
	require.NoError(t, err)

	steps := map[string][]struct {
		actor   *models.Identity
		action  Action
		payload StatusPayload
	}{
		models.OrderStatusPending:  nil,
		models.OrderStatusApproved: {{adminID, ActionApprove, StatusPayload{}}},
		models.OrderStatusShipped: {
			{adminID, ActionApprove, StatusPayload{}},
			{adminID, ActionShip, StatusPayload{TrackingID: "TRK-1"}},
		},
		models.OrderStatusDelivered: {
			{adminID, ActionApprove, StatusPayload{}},
			{adminID, ActionShip, StatusPayload{TrackingID: "TRK-1"}},
			{adminID, ActionDeliver, StatusPayload{}},
		},
		models.OrderStatusCancelled: {{customerID, ActionCancel, StatusPayload{}}},
		models.OrderStatusRejected:  {{adminID, ActionReject, StatusPayload{Reason: "out of stock"}}},
	}
	path, ok := steps[status]
	require.True(t, ok, "no path to %s", status)
	for _, step := range path {
		order, err = f.workflow.AdvanceStatus(ctx, step.actor, order.ID, step.action, step.payload)
		require.NoError(t, err)
	}
	require.Equal(t, status, order.Status)
	return order
}
