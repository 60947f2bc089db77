package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeTableChanged       = "TABLE_CHANGED"
	EventTypePaymentSuccess     = "PAYMENT_SUCCESS"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
)

// Tables announced by TABLE_CHANGED events
const (
	TableProducts      = "products"
	TableOrders        = "orders"
	TableShippingRates = "shipping_rates"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is published when an order is placed or changes status
type OrderEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Action        string          `json:"action,omitempty"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Channel       string          `json:"channel,omitempty"`
}

// TableChangedEvent tells subscribers to re-fetch a table. It carries no row diff.
type TableChangedEvent struct {
	BaseEvent
	Table string `json:"table"`
}

// PaymentEvent is published when the gateway reports a checkout outcome
type PaymentEvent struct {
	BaseEvent
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
}
