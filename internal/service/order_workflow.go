package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"soilify/internal/models"
	"soilify/internal/util"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// WorkflowPolicy holds the business limits applied by the workflow.
type WorkflowPolicy struct {
	// CODLimit is the largest total accepted for cash on delivery. Zero disables the limit.
	CODLimit          decimal.Decimal
	LowStockThreshold int
	SubmissionTTL     time.Duration
}

// DefaultWorkflowPolicy returns the storefront defaults.
func DefaultWorkflowPolicy() WorkflowPolicy {
	return WorkflowPolicy{
		CODLimit:          decimal.NewFromInt(10000),
		LowStockThreshold: 10,
		SubmissionTTL:     30 * time.Second,
	}
}

// WorkflowDeps wires the workflow's collaborators. Guard, Payments and Events are optional.
type WorkflowDeps struct {
	Catalog   CatalogStore
	Orders    OrderStore
	Rates     ShippingRates
	Inventory *InventoryClient
	Guard     SubmissionGuard
	Payments  PaymentLedger
	Events    EventPublisher
	Policy    WorkflowPolicy
	Clock     func() time.Time
	NewID     func() string
}

// OrderWorkflow places orders and drives their status lifecycle.
type OrderWorkflow struct {
	catalog   CatalogStore
	orders    OrderStore
	rates     ShippingRates
	inventory *InventoryClient
	guard     SubmissionGuard
	payments  PaymentLedger
	events    EventPublisher
	policy    WorkflowPolicy
	now       func() time.Time
	newID     func() string
	logger    *zap.Logger
}

// NewOrderWorkflow creates a new order workflow
func NewOrderWorkflow(deps WorkflowDeps) *OrderWorkflow {
	w := &OrderWorkflow{
		catalog:   deps.Catalog,
		orders:    deps.Orders,
		rates:     deps.Rates,
		inventory: deps.Inventory,
		guard:     deps.Guard,
		payments:  deps.Payments,
		events:    deps.Events,
		policy:    deps.Policy,
		now:       deps.Clock,
		newID:     deps.NewID,
		logger:    util.GetLogger(),
	}
	if w.inventory == nil {
		w.inventory = NewInventoryClient(deps.Catalog, nil)
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.newID == nil {
		w.newID = func() string { return "ORD-" + ulid.Make().String() }
	}
	if w.policy.SubmissionTTL <= 0 {
		w.policy.SubmissionTTL = 30 * time.Second
	}
	return w
}

// PlaceOrderRequest is a checkout submission.
type PlaceOrderRequest struct {
	Items            []models.CartItem `json:"items"`
	Customer         models.Customer   `json:"customer"`
	Address          models.Address    `json:"address"`
	PaymentMethod    string            `json:"paymentMethod"`
	PaymentReference string            `json:"paymentReference,omitempty"`
	Channel          string            `json:"channel,omitempty"`
	IdempotencyKey   string            `json:"idempotencyKey,omitempty"`
}

type pricedLine struct {
	product  models.Product
	quantity int
}

// PlaceOrder validates the cart, persists a Pending order and then decrements
// stock per item. A non-nil order with a *PartialFailureError means the order
// stands but some stock was not reduced.
func (w *OrderWorkflow) PlaceOrder(ctx context.Context, actor *models.Identity, req *PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderWorkflow.PlaceOrder")
	defer span.End()

	if !actor.Authenticated() {
		util.OrdersFailedTotal.WithLabelValues("unauthenticated").Inc()
		return nil, ErrAuthRequired
	}
	if req == nil {
		return nil, validationError("empty request")
	}

	items, err := normalizeRequest(req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if key := req.IdempotencyKey; key != "" {
		existing, err := w.findSubmission(ctx, actor, key)
		if err != nil || existing != nil {
			return existing, err
		}

		if w.guard != nil {
			token := ulid.Make().String()
			claimed, err := w.guard.ClaimSubmission(ctx, key, token, w.policy.SubmissionTTL)
			if err != nil {
				w.logger.Warn("Submission claim unavailable, continuing",
					zap.String("idempotency_key", key),
					zap.Error(err))
			} else if !claimed {
				util.OrdersFailedTotal.WithLabelValues("in_flight").Inc()
				return nil, fmt.Errorf("%w: submission %s is already in progress", ErrConflict, key)
			} else {
				defer func() {
					if err := w.guard.ReleaseSubmission(context.WithoutCancel(ctx), key, token); err != nil {
						w.logger.Warn("Failed to release submission claim",
							zap.String("idempotency_key", key),
							zap.Error(err))
					}
				}()
			}
		}
	}

	if err := w.checkReferenceUnused(ctx, req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("payment_reused").Inc()
		return nil, err
	}

	lines, err := w.priceCart(ctx, items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	order, err := w.buildOrder(ctx, actor, req, lines)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order_id", order.ID))

	if err := w.orders.CreateOrder(ctx, order); err != nil {
		if order.IdempotencyKey != nil {
			if existing, lookupErr := w.findSubmission(ctx, actor, *order.IdempotencyKey); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, mapStoreError(err, "order "+order.ID)
	}

	util.OrdersPlacedTotal.WithLabelValues(order.Channel, order.PaymentMethod).Inc()
	w.logger.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("total", order.TotalPrice.String()),
		zap.String("payment_status", order.PaymentStatus))

	partial := w.decrementStock(ctx, order.ID, lines)

	w.publishOrder(ctx, models.EventTypeOrderPlaced, order, "")
	w.publishTables(ctx, models.TableOrders, models.TableProducts)

	if partial != nil {
		return order, partial
	}
	return order, nil
}

// normalizeRequest validates the request shape and merges repeated products.
func normalizeRequest(req *PlaceOrderRequest) ([]models.CartItem, error) {
	if len(req.Items) == 0 {
		return nil, validationError("cart is empty")
	}
	if strings.TrimSpace(req.Customer.Name) == "" {
		return nil, validationError("customer name is required")
	}
	if strings.TrimSpace(req.Customer.Phone) == "" {
		return nil, validationError("customer phone is required")
	}
	if strings.TrimSpace(req.Address.Location) == "" {
		return nil, validationError("delivery location is required")
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodCOD
	}
	if !models.ValidPaymentMethod(req.PaymentMethod) {
		return nil, validationError("unsupported payment method %q", req.PaymentMethod)
	}
	switch req.Channel {
	case "":
		req.Channel = models.ChannelMarketplace
	case models.ChannelMarketplace, models.ChannelWhatsApp:
	default:
		return nil, validationError("unsupported channel %q", req.Channel)
	}

	merged := make([]models.CartItem, 0, len(req.Items))
	index := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, validationError("cart item without product")
		}
		if item.Quantity <= 0 {
			return nil, validationError("quantity for %s must be positive", item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func (w *OrderWorkflow) findSubmission(ctx context.Context, actor *models.Identity, key string) (*models.Order, error) {
	existing, err := w.orders.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(mapStoreError(err, ""), ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing.UserID != actor.UserID {
		return nil, fmt.Errorf("%w: idempotency key already used", ErrConflict)
	}
	w.logger.Info("Duplicate order submission detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", existing.ID))
	return existing, nil
}

func (w *OrderWorkflow) priceCart(ctx context.Context, items []models.CartItem) ([]pricedLine, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	products, err := w.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]pricedLine, 0, len(items))
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, item.ProductID)
		}
		if item.Quantity > product.StockCount {
			return nil, validationError("only %d of %s left in stock", product.StockCount, product.Name)
		}
		lines = append(lines, pricedLine{product: product, quantity: item.Quantity})
	}
	return lines, nil
}

func (w *OrderWorkflow) buildOrder(ctx context.Context, actor *models.Identity, req *PlaceOrderRequest, lines []pricedLine) (*models.Order, error) {
	subtotal := decimal.Zero
	quantity := 0
	details := make([]string, len(lines))
	for i, line := range lines {
		subtotal = subtotal.Add(line.product.Price.Mul(decimal.NewFromInt(int64(line.quantity))))
		quantity += line.quantity
		details[i] = fmt.Sprintf("%s (x%d)", line.product.Name, line.quantity)
	}

	fee := decimal.Zero
	if w.rates != nil {
		var err error
		fee, err = w.rates.ShippingFee(ctx, req.Address.Region())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve shipping fee: %w", err)
		}
	}
	total := subtotal.Add(fee)

	if req.PaymentMethod == models.PaymentMethodCOD && w.policy.CODLimit.IsPositive() && total.GreaterThan(w.policy.CODLimit) {
		util.OrdersFailedTotal.WithLabelValues("cod_limit").Inc()
		return nil, validationError("cash on delivery is not available above %s", w.policy.CODLimit.String())
	}

	now := w.now().UTC()
	order := &models.Order{
		ID:             w.newID(),
		UserID:         actor.UserID,
		CustomerName:   strings.TrimSpace(req.Customer.Name),
		Phone:          strings.TrimSpace(req.Customer.Phone),
		Email:          strings.TrimSpace(req.Customer.Email),
		ProductDetails: strings.Join(details, ", "),
		Quantity:       quantity,
		Subtotal:       subtotal,
		ShippingFee:    fee,
		TotalPrice:     total,
		Location:       strings.TrimSpace(req.Address.Location),
		District:       strings.TrimSpace(req.Address.District),
		Nearby:         strings.TrimSpace(req.Address.Nearby),
		Pincode:        strings.TrimSpace(req.Address.Pincode),
		PaymentMethod:  req.PaymentMethod,
		Channel:        req.Channel,
		Status:         models.OrderStatusPending,
		PaymentStatus:  models.PaymentStatusAwaiting,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if order.Email == "" {
		order.Email = actor.Email
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}
	if ref := strings.TrimSpace(req.PaymentReference); ref != "" && models.IsOnlinePayment(req.PaymentMethod) {
		order.PaymentReference = &ref
		if w.paymentCovers(ctx, order) {
			order.PaymentStatus = models.PaymentStatusPaid
		}
	}
	return order, nil
}

// checkReferenceUnused rejects a payment reference that already settled another order.
func (w *OrderWorkflow) checkReferenceUnused(ctx context.Context, req *PlaceOrderRequest) error {
	ref := strings.TrimSpace(req.PaymentReference)
	if ref == "" || !models.IsOnlinePayment(req.PaymentMethod) {
		return nil
	}
	_, err := w.orders.GetOrderByPaymentReference(ctx, ref)
	switch {
	case err == nil:
		return fmt.Errorf("%w: payment reference %s already used", ErrConflict, ref)
	case errors.Is(mapStoreError(err, ""), ErrNotFound):
		return nil
	default:
		return fmt.Errorf("failed to check payment reference: %w", err)
	}
}

// paymentCovers reports whether the order's reference is verified, was issued
// to the order's customer and is for at least the order total.
func (w *OrderWorkflow) paymentCovers(ctx context.Context, order *models.Order) bool {
	if w.payments == nil || order.PaymentReference == nil {
		return false
	}
	ref := *order.PaymentReference
	rec, err := w.payments.GetPayment(ctx, ref)
	if err != nil {
		w.logger.Warn("Payment verification lookup failed",
			zap.String("payment_reference", ref),
			zap.Error(err))
		return false
	}
	if rec.Covers(order.UserID, order.TotalPrice) {
		return true
	}
	if rec != nil && rec.Verified {
		w.logger.Warn("Verified payment does not cover order",
			zap.String("payment_reference", ref),
			zap.String("order_user", order.UserID),
			zap.String("payment_user", rec.UserID),
			zap.String("paid", rec.Amount.StringFixed(2)),
			zap.String("total", order.TotalPrice.StringFixed(2)))
	}
	return false
}

// decrementStock reduces stock for every line concurrently. The order already
// exists, so the caller's cancellation is ignored here.
func (w *OrderWorkflow) decrementStock(ctx context.Context, orderID string, lines []pricedLine) *PartialFailureError {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	defer func() {
		util.StockDecrementLatency.Observe(time.Since(start).Seconds())
	}()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []StockFailure
		combined error
	)
	for _, line := range lines {
		wg.Add(1)
		go func(productID string, qty int) {
			defer wg.Done()
			if _, err := w.inventory.DecrementStock(ctx, productID, qty); err != nil {
				mu.Lock()
				failures = append(failures, StockFailure{ProductID: productID, Quantity: qty, Err: err})
				combined = multierr.Append(combined, err)
				mu.Unlock()
			}
		}(line.product.ID, line.quantity)
	}
	wg.Wait()

	if len(failures) == 0 {
		return nil
	}
	for _, f := range failures {
		util.StockDecrementFailures.WithLabelValues(stockFailureReason(f.Err)).Inc()
	}
	w.logger.Error("Stock decrement incomplete, manual reconciliation needed",
		zap.String("order_id", orderID),
		zap.Int("failed_items", len(failures)),
		zap.Error(combined))
	return &PartialFailureError{OrderID: orderID, Failures: failures}
}

func stockFailureReason(err error) string {
	if errors.Is(mapStoreError(err, ""), ErrNotFound) {
		return "product_missing"
	}
	return "error"
}

// AdvanceStatus applies action to an order. Payload and role checks run before
// the order is read; an action illegal for the current status leaves it untouched.
func (w *OrderWorkflow) AdvanceStatus(ctx context.Context, actor *models.Identity, orderID string, action Action, payload StatusPayload) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderWorkflow.AdvanceStatus",
		attribute.String("order_id", orderID),
		attribute.String("action", string(action)))
	defer span.End()

	rule, ok := transitionRules[action]
	if !ok {
		return nil, validationError("unknown action %q", action)
	}
	if !actor.Authenticated() {
		return nil, ErrAuthRequired
	}
	if rule.scope == scopeAdmin && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: %s requires an administrator", ErrForbidden, action)
	}
	if rule.validate != nil {
		if err := rule.validate(payload); err != nil {
			return nil, err
		}
	}

	current, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, mapStoreError(err, "order "+orderID)
	}
	if !permitted(rule.scope, actor, current) {
		if !actor.IsAdmin() && actor.UserID != current.UserID {
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return nil, fmt.Errorf("%w: %s is not available to this account", ErrForbidden, action)
	}
	if !rule.allowedFrom(current.Status) || (rule.guard != nil && !rule.guard(current)) {
		util.InvalidTransitionsTotal.WithLabelValues(string(action)).Inc()
		return nil, fmt.Errorf("%w: cannot %s an order that is %s (payment %s)",
			ErrInvalidTransition, action, current.Status, current.PaymentStatus)
	}

	now := w.now().UTC()
	next := current.Clone()
	rule.apply(next, payload, now)
	next.UpdatedAt = now

	if err := w.orders.UpdateOrder(ctx, next); err != nil {
		return nil, mapStoreError(err, "order "+orderID)
	}

	util.OrderTransitionsTotal.WithLabelValues(string(action)).Inc()
	w.logger.Info("Order status advanced",
		zap.String("order_id", orderID),
		zap.String("action", string(action)),
		zap.String("from", current.Status),
		zap.String("to", next.Status),
		zap.String("actor", actor.UserID))

	w.publishOrder(ctx, models.EventTypeOrderStatusChanged, next, string(action))
	w.publishTables(ctx, models.TableOrders)
	return next, nil
}

// RecordPayment reconciles a gateway callback with the order carrying ref.
// Unknown references and orders no longer awaiting payment are left alone. A
// success only marks the order paid when the recorded payment covers it.
func (w *OrderWorkflow) RecordPayment(ctx context.Context, ref string, success bool) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderWorkflow.RecordPayment", attribute.String("payment_reference", ref))
	defer span.End()

	order, err := w.orders.GetOrderByPaymentReference(ctx, ref)
	if err != nil {
		mapped := mapStoreError(err, "payment "+ref)
		if errors.Is(mapped, ErrNotFound) {
			w.logger.Info("Payment callback for unknown reference", zap.String("payment_reference", ref))
			return nil, nil
		}
		return nil, mapped
	}
	if order.PaymentStatus != models.PaymentStatusAwaiting {
		return order, nil
	}

	if success && !w.paymentCovers(ctx, order) {
		w.logger.Warn("Payment success not applied",
			zap.String("order_id", order.ID),
			zap.String("payment_reference", ref))
		return order, nil
	}

	next := order.Clone()
	next.PaymentStatus = models.PaymentStatusFailed
	if success {
		next.PaymentStatus = models.PaymentStatusPaid
	}
	next.UpdatedAt = w.now().UTC()

	if err := w.orders.UpdateOrder(ctx, next); err != nil {
		return nil, mapStoreError(err, "order "+order.ID)
	}

	w.logger.Info("Payment reconciled",
		zap.String("order_id", next.ID),
		zap.String("payment_reference", ref),
		zap.String("payment_status", next.PaymentStatus))

	w.publishOrder(ctx, models.EventTypeOrderStatusChanged, next, "payment")
	w.publishTables(ctx, models.TableOrders)
	return next, nil
}

// ClearHistory deletes orders in the requested terminal statuses. Non-terminal
// statuses in the request are ignored; an empty request clears every terminal status.
func (w *OrderWorkflow) ClearHistory(ctx context.Context, actor *models.Identity, statuses []string) (int, error) {
	ctx, span := util.StartSpan(ctx, "OrderWorkflow.ClearHistory")
	defer span.End()

	if !actor.Authenticated() {
		return 0, ErrAuthRequired
	}
	if !actor.IsAdmin() {
		return 0, fmt.Errorf("%w: clearing history requires an administrator", ErrForbidden)
	}

	targets := terminalSubset(statuses)
	if len(targets) == 0 {
		return 0, nil
	}

	n, err := w.orders.DeleteOrdersWhere(ctx, targets)
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}

	util.OrdersClearedTotal.Add(float64(n))
	w.logger.Info("Order history cleared",
		zap.Strings("statuses", targets),
		zap.Int("deleted", n))
	if n > 0 {
		w.publishTables(ctx, models.TableOrders)
	}
	return n, nil
}

func terminalSubset(statuses []string) []string {
	if len(statuses) == 0 {
		return append([]string(nil), models.TerminalStatuses...)
	}
	seen := make(map[string]struct{}, len(statuses))
	var out []string
	for _, s := range statuses {
		if _, dup := seen[s]; dup || !models.IsTerminal(s) {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// GetOrder returns an order visible to actor
func (w *OrderWorkflow) GetOrder(ctx context.Context, actor *models.Identity, orderID string) (*models.Order, error) {
	if !actor.Authenticated() {
		return nil, ErrAuthRequired
	}
	order, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, mapStoreError(err, "order "+orderID)
	}
	if !actor.IsAdmin() && order.UserID != actor.UserID {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return order, nil
}

// ListOrders returns orders most recent first. Customers only see their own.
func (w *OrderWorkflow) ListOrders(ctx context.Context, actor *models.Identity, filter models.OrderFilter) ([]*models.Order, error) {
	if !actor.Authenticated() {
		return nil, ErrAuthRequired
	}
	if !actor.IsAdmin() {
		filter.UserID = actor.UserID
	}
	return w.orders.ListOrders(ctx, filter)
}

// Summary aggregates dashboard figures
func (w *OrderWorkflow) Summary(ctx context.Context, actor *models.Identity) (*models.Summary, error) {
	if !actor.Authenticated() {
		return nil, ErrAuthRequired
	}
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: summary requires an administrator", ErrForbidden)
	}

	sales, total, pending, err := w.orders.OrderTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to total orders: %w", err)
	}
	threshold := w.policy.LowStockThreshold
	if threshold <= 0 {
		threshold = 10
	}
	low, err := w.catalog.CountLowStock(ctx, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to count low stock: %w", err)
	}
	return &models.Summary{
		TotalSales:    sales,
		TotalOrders:   total,
		PendingOrders: pending,
		LowStockItems: low,
	}, nil
}

func (w *OrderWorkflow) publishOrder(ctx context.Context, eventType string, order *models.Order, action string) {
	if w.events == nil {
		return
	}
	if err := w.events.PublishOrderEvent(ctx, eventType, order, action); err != nil {
		w.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

func (w *OrderWorkflow) publishTables(ctx context.Context, tables ...string) {
	if w.events == nil {
		return
	}
	for _, table := range tables {
		if err := w.events.PublishTableChanged(ctx, table); err != nil {
			w.logger.Error("Failed to publish table change",
				zap.String("table", table),
				zap.Error(err))
		}
	}
}
