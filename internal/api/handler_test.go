package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"soilify/internal/auth"
	"soilify/internal/chat"
	"soilify/internal/models"
	"soilify/internal/realtime"
	"soilify/internal/service"
	"soilify/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callbackSecret = "whsec"

type brokenDecrement struct {
	*store.MemoryStore
	fail string
}

func (b *brokenDecrement) DecrementStock(ctx context.Context, id string, amount int) (*models.Product, error) {
	if id == b.fail {
		return nil, errors.New("connection reset")
	}
	return b.MemoryStore.DecrementStock(ctx, id, amount)
}

type ledger struct {
	mu   sync.Mutex
	refs map[string]models.PaymentRecord
}

func (l *ledger) RecordCheckout(_ context.Context, rec models.PaymentRecord, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refs[rec.Reference] = rec
	return nil
}

func (l *ledger) MarkPaymentVerified(_ context.Context, ref string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.refs[ref]
	if !ok {
		return false, nil
	}
	rec.Verified = true
	l.refs[ref] = rec
	return true, nil
}

func (l *ledger) GetPayment(_ context.Context, ref string) (*models.PaymentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.refs[ref]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type apiFixture struct {
	router   *gin.Engine
	mem      *store.MemoryStore
	verifier *auth.Verifier
	admin    string
	customer string
	stranger string
}

func newAPIFixture(t *testing.T, checks map[string]Pinger) *apiFixture {
	t.Helper()
	return newAPIFixtureWithSecret(t, checks, callbackSecret)
}

func newAPIFixtureWithSecret(t *testing.T, checks map[string]Pinger, secret string) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.CreateProduct(ctx, &models.Product{ID: "urea", Name: "Urea", Price: decimal.NewFromInt(300), StockCount: 10}))
	require.NoError(t, mem.CreateProduct(ctx, &models.Product{ID: "dap", Name: "DAP", Price: decimal.NewFromInt(1400), StockCount: 5}))
	require.NoError(t, mem.UpsertShippingRate(ctx, "Shopian", decimal.NewFromInt(50)))

	catalog := &brokenDecrement{MemoryStore: mem, fail: "dap"}
	payments := &ledger{refs: map[string]models.PaymentRecord{}}
	workflow := service.NewOrderWorkflow(service.WorkflowDeps{
		Catalog:  catalog,
		Orders:   mem,
		Rates:    mem,
		Payments: payments,
		Policy:   service.DefaultWorkflowPolicy(),
	})
	catalogSvc := service.NewCatalogService(mem, nil, nil)
	gateway, err := service.NewLinkGateway("https://pay.example.com/soilify")
	require.NoError(t, err)

	verifier := auth.NewVerifier("test-secret", []string{"owner@soilify.in"})
	h := NewHandler(Deps{
		Workflow: workflow,
		Catalog:  catalogSvc,
		Shipping: service.NewShippingService(mem, nil),
		Payments: service.NewPaymentService(gateway, payments, nil, workflow, service.PaymentConfig{CallbackSecret: secret}),
		Chat:     chat.NewService(workflow, catalogSvc, chat.NewMemorySessionStore()),
		Hub:      realtime.NewHub(4),
		Verifier: verifier,
		Checks:   checks,
	})
	router := gin.New()
	h.SetupRoutes(router)

	issue := func(id *models.Identity) string {
		token, err := verifier.Issue(id, time.Hour)
		require.NoError(t, err)
		return token
	}
	return &apiFixture{
		router:   router,
		mem:      mem,
		verifier: verifier,
		admin:    issue(&models.Identity{UserID: "admin-1", Email: "owner@soilify.in"}),
		customer: issue(&models.Identity{UserID: "cust-1", Email: "farmer@example.com", Name: "Farmer", Phone: "9000000000"}),
		stranger: issue(&models.Identity{UserID: "cust-2", Email: "other@example.com"}),
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func orderBody(productID string, qty int) gin.H {
	return gin.H{
		"items":    []gin.H{{"productId": productID, "quantity": qty}},
		"customer": gin.H{"name": "Farmer", "phone": "9000000000"},
		"address":  gin.H{"location": "Main Road", "district": "Shopian"},
	}
}

func (f *apiFixture) placeOrder(t *testing.T, productID string, qty int) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/orders", f.customer, orderBody(productID, qty))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode(t, w)["order"].(map[string]interface{})
	return order["id"].(string)
}

func TestHealthAndReadiness(t *testing.T) {
	f := newAPIFixture(t, map[string]Pinger{"postgres": pinger{}})
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", "", nil).Code)

	down := newAPIFixture(t, map[string]Pinger{"redis": pinger{err: errors.New("refused")}})
	w := down.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}

func TestOrdersRequireToken(t *testing.T) {
	f := newAPIFixture(t, nil)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/v1/orders", "", orderBody("urea", 1)).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/v1/orders", "not-a-jwt", nil).Code)
}

func TestPlaceOrderAndVisibility(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/orders", f.customer, orderBody("urea", 3))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.NotContains(t, body, "warnings")
	order := body["order"].(map[string]interface{})
	id := order["id"].(string)
	assert.Equal(t, "950", order["totalPrice"])
	assert.Equal(t, models.OrderStatusPending, order["status"])

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/orders/"+id, f.customer, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/orders/"+id, f.stranger, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/orders/"+id, f.admin, nil).Code)

	list := decode(t, f.do(t, http.MethodGet, "/api/v1/orders", f.stranger, nil))
	assert.Empty(t, list["orders"])

	p, err := f.mem.GetProduct(context.Background(), "urea")
	require.NoError(t, err)
	assert.Equal(t, 7, p.StockCount)
}

func TestPlaceOrderErrors(t *testing.T) {
	f := newAPIFixture(t, nil)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/orders", f.customer, orderBody("urea", 11)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/v1/orders", f.customer, orderBody("ghost", 1)).Code)

	bad := orderBody("urea", 1)
	bad["paymentMethod"] = "BARTER"
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/orders", f.customer, bad).Code)
}

func TestPlaceOrderPartialFailureReturnsWarnings(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/orders", f.customer, orderBody("dap", 1))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	require.Contains(t, body, "warnings")
	assert.Len(t, body["warnings"], 1)
	assert.NotEmpty(t, body["order"])
}

func TestOrderActions(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.placeOrder(t, "urea", 1)
	base := "/api/v1/orders/" + id + "/actions/"

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, base+"approve", f.customer, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, base+"teleport", f.admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, base+"ship", f.admin, gin.H{}).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, base+"ship", f.admin, gin.H{"trackingId": "TRK1"}).Code)

	w := f.do(t, http.MethodPost, base+"approve", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OrderStatusApproved, decode(t, w)["order"].(map[string]interface{})["status"])

	actions := decode(t, f.do(t, http.MethodGet, "/api/v1/orders/"+id+"/actions", f.admin, nil))
	assert.Contains(t, actions["actions"], "ship")
}

func TestAdminRoutes(t *testing.T) {
	f := newAPIFixture(t, nil)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/admin/summary", f.customer, nil).Code)

	w := f.do(t, http.MethodPost, "/api/v1/admin/products", f.admin, gin.H{
		"name": "Neem Cake", "price": "250", "category": "Organic", "stockCount": 4,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	product := decode(t, w)["product"].(map[string]interface{})
	assert.Equal(t, true, product["inStock"])
	pid := product["id"].(string)

	w = f.do(t, http.MethodPatch, "/api/v1/admin/products/"+pid, f.admin, gin.H{"stockCount": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode(t, w)["product"].(map[string]interface{})["inStock"])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/admin/products", f.admin, gin.H{"name": "No price"}).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/admin/products/"+pid, f.admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/products/"+pid, "", nil).Code)

	f.placeOrder(t, "urea", 1)
	summary := decode(t, f.do(t, http.MethodGet, "/api/v1/admin/summary", f.admin, nil))
	assert.EqualValues(t, 1, summary["pendingOrders"])

	w = f.do(t, http.MethodPost, "/api/v1/admin/orders/clear-history", f.admin, gin.H{"statuses": []string{"Pending"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["removed"])
}

func TestProductStockRoute(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/v1/products/dap/stock", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(5), body["stockCount"])
	assert.Equal(t, true, body["inStock"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/products/missing/stock", "", nil).Code)
}

func TestShippingRoutes(t *testing.T) {
	f := newAPIFixture(t, nil)

	quote := decode(t, f.do(t, http.MethodGet, "/api/v1/shipping/quote?district=shopian&location=x", "", nil))
	assert.Equal(t, "50", quote["fee"])

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/admin/shipping-rates/Pulwama", f.admin, gin.H{"fee": "80"}).Code)
	quote = decode(t, f.do(t, http.MethodGet, "/api/v1/shipping/quote?district=Pulwama", "", nil))
	assert.Equal(t, "80", quote["fee"])

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPut, "/api/v1/admin/shipping-rates/Pulwama", f.customer, gin.H{"fee": "1"}).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/admin/shipping-rates/Pulwama", f.admin, nil).Code)
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(callbackSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaymentCheckoutAndCallback(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/payments/checkout", f.customer, gin.H{"amount": "950", "description": "Urea"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	session := decode(t, w)
	ref := session["reference"].(string)
	assert.Contains(t, session["url"], "reference="+ref)

	body, err := json.Marshal(gin.H{"reference": ref, "success": true, "amount": "950"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(body))
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	online := orderBody("urea", 1)
	online["paymentMethod"] = models.PaymentMethodUPI
	online["paymentReference"] = ref
	w = f.do(t, http.MethodPost, "/api/v1/orders", f.customer, online)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, models.PaymentStatusPaid, decode(t, w)["order"].(map[string]interface{})["paymentStatus"])

	w = f.do(t, http.MethodPost, "/api/v1/orders", f.customer, online)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestPaymentCallbackRejectedWithoutSecret(t *testing.T) {
	f := newAPIFixtureWithSecret(t, nil, "")

	body, err := json.Marshal(gin.H{"reference": "PAY-1", "success": true, "amount": "950"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/chat/messages", f.customer, gin.H{"text": "shop"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(chat.StateBrowsing), decode(t, w)["state"])

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/chat/session", f.customer, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/v1/chat/messages", "", gin.H{"text": "hi"}).Code)
}
