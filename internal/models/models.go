package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID          string          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Discount    int             `db:"discount" json:"discount"`
	Category    string          `db:"category" json:"category"`
	Unit        string          `db:"unit" json:"unit"`
	Description string          `db:"description" json:"description"`
	ImageURL    string          `db:"image_url" json:"imageUrl"`
	StockCount  int             `db:"stock_count" json:"stockCount"`
	InStock     bool            `db:"in_stock" json:"inStock"`
	Rating      float64         `db:"rating" json:"rating"`
	Reviews     int             `db:"reviews" json:"reviews"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// SyncStock clamps the stock count at zero and re-derives the in-stock flag.
func (p *Product) SyncStock() {
	if p.StockCount < 0 {
		p.StockCount = 0
	}
	p.InStock = p.StockCount > 0
}

// ProductPatch carries the fields of a partial product update. Nil fields are left untouched.
type ProductPatch struct {
	Name        *string          `json:"name,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Discount    *int             `json:"discount,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Unit        *string          `json:"unit,omitempty"`
	Description *string          `json:"description,omitempty"`
	ImageURL    *string          `json:"imageUrl,omitempty"`
	StockCount  *int             `json:"stockCount,omitempty"`
	Rating      *float64         `json:"rating,omitempty"`
	Reviews     *int             `json:"reviews,omitempty"`
}

// Apply writes the non-nil patch fields onto p and keeps InStock consistent.
func (patch ProductPatch) Apply(p *Product) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Discount != nil {
		p.Discount = *patch.Discount
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.Unit != nil {
		p.Unit = *patch.Unit
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.ImageURL != nil {
		p.ImageURL = *patch.ImageURL
	}
	if patch.StockCount != nil {
		p.StockCount = *patch.StockCount
	}
	if patch.Rating != nil {
		p.Rating = *patch.Rating
	}
	if patch.Reviews != nil {
		p.Reviews = *patch.Reviews
	}
	p.SyncStock()
}

// CategoryAll disables category filtering.
const CategoryAll = "All"

type ProductFilter struct {
	Category string
	Search   string
}

// Matches reports whether p passes the filter. Search is a case-insensitive
// substring match on name and category.
func (f ProductFilter) Matches(p Product) bool {
	if f.Category != "" && f.Category != CategoryAll && !strings.EqualFold(f.Category, p.Category) {
		return false
	}
	if f.Search == "" {
		return true
	}
	term := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(p.Name), term) ||
		strings.Contains(strings.ToLower(p.Category), term)
}

// Order statuses
const (
	OrderStatusPending         = "Pending"
	OrderStatusApproved        = "Approved"
	OrderStatusShipped         = "Shipped"
	OrderStatusDelivered       = "Delivered"
	OrderStatusCancelled       = "Cancelled"
	OrderStatusRejected        = "Rejected"
	OrderStatusReturnRequested = "Return Requested"
	OrderStatusReturned        = "Returned"
	OrderStatusRefundRequested = "Refund Requested"
	OrderStatusRefunded        = "Refunded"
)

// Payment statuses
const (
	PaymentStatusAwaiting        = "Awaiting"
	PaymentStatusPaid            = "Paid"
	PaymentStatusRefundRequested = "Refund Requested"
	PaymentStatusRefunded        = "Refunded"
	PaymentStatusFailed          = "Failed"
)

// TerminalStatuses lists the statuses no forward fulfilment action may leave.
var TerminalStatuses = []string{
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRejected,
	OrderStatusRefunded,
	OrderStatusReturned,
}

func IsTerminal(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Payment methods
const (
	PaymentMethodCOD  = "COD"
	PaymentMethodUPI  = "UPI"
	PaymentMethodCard = "CARD"
)

// IsOnlinePayment reports whether the method settles through the gateway.
func IsOnlinePayment(method string) bool {
	return method == PaymentMethodUPI || method == PaymentMethodCard
}

func ValidPaymentMethod(method string) bool {
	return method == PaymentMethodCOD || IsOnlinePayment(method)
}

// Order channels
const (
	ChannelMarketplace = "Marketplace"
	ChannelWhatsApp    = "WhatsApp"
)

// Order represents a customer order
type Order struct {
	ID               string          `db:"id" json:"id"`
	UserID           string          `db:"user_id" json:"userId"`
	CustomerName     string          `db:"customer_name" json:"customerName"`
	Phone            string          `db:"phone" json:"phone"`
	Email            string          `db:"email" json:"email"`
	ProductDetails   string          `db:"product_details" json:"productDetails"`
	Quantity         int             `db:"quantity" json:"quantity"`
	Subtotal         decimal.Decimal `db:"subtotal" json:"subtotal"`
	ShippingFee      decimal.Decimal `db:"shipping_fee" json:"shippingFee"`
	TotalPrice       decimal.Decimal `db:"total_price" json:"totalPrice"`
	Location         string          `db:"location" json:"location"`
	District         string          `db:"district" json:"district"`
	Nearby           string          `db:"nearby" json:"nearby"`
	Pincode          string          `db:"pincode" json:"pincode"`
	PaymentMethod    string          `db:"payment_method" json:"paymentMethod"`
	PaymentReference *string         `db:"payment_reference" json:"paymentReference,omitempty"`
	Channel          string          `db:"channel" json:"channel"`
	IdempotencyKey   *string         `db:"idempotency_key" json:"-"`
	Status           string          `db:"status" json:"status"`
	PaymentStatus    string          `db:"payment_status" json:"paymentStatus"`
	TrackingID       string          `db:"tracking_id" json:"trackingId,omitempty"`
	RejectionReason  string          `db:"rejection_reason" json:"rejectionReason,omitempty"`
	ReturnReason     string          `db:"return_reason" json:"returnReason,omitempty"`
	Review           string          `db:"review" json:"review,omitempty"`
	Rating           *int            `db:"rating" json:"rating,omitempty"`
	ShippedAt        *time.Time      `db:"shipped_at" json:"shippedAt,omitempty"`
	DeliveredAt      *time.Time      `db:"delivered_at" json:"deliveredAt,omitempty"`
	PickupAt         *time.Time      `db:"pickup_at" json:"pickupAt,omitempty"`
	ReturnedAt       *time.Time      `db:"returned_at" json:"returnedAt,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.PaymentReference = cloneString(o.PaymentReference)
	c.IdempotencyKey = cloneString(o.IdempotencyKey)
	c.ShippedAt = cloneTime(o.ShippedAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.PickupAt = cloneTime(o.PickupAt)
	c.ReturnedAt = cloneTime(o.ReturnedAt)
	if o.Rating != nil {
		r := *o.Rating
		c.Rating = &r
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type OrderFilter struct {
	Status string
	Phone  string
	UserID string
}

func (f OrderFilter) Matches(o *Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Phone != "" && o.Phone != f.Phone {
		return false
	}
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	return true
}

// CartItem is a requested product quantity at checkout. It is never stored.
type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type Address struct {
	Location string `json:"location"`
	District string `json:"district"`
	Nearby   string `json:"nearby"`
	Pincode  string `json:"pincode"`
}

// Region is the key used to look up the shipping fee.
func (a Address) Region() string {
	if d := strings.TrimSpace(a.District); d != "" {
		return d
	}
	return strings.TrimSpace(a.Location)
}

type ShippingRate struct {
	Region    string          `db:"region" json:"region"`
	Fee       decimal.Decimal `db:"fee" json:"fee"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// PaymentRecord is a checkout reference as issued to a customer. Verified is
// set once the gateway reports success.
type PaymentRecord struct {
	Reference string          `json:"reference"`
	UserID    string          `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	Verified  bool            `json:"verified"`
}

// Covers reports whether this payment settles total for the given user.
func (r *PaymentRecord) Covers(userID string, total decimal.Decimal) bool {
	return r != nil && r.Verified && r.UserID == userID && r.Amount.GreaterThanOrEqual(total)
}

// Summary is the admin dashboard aggregate.
type Summary struct {
	TotalSales    decimal.Decimal `json:"totalSales"`
	TotalOrders   int             `json:"totalOrders"`
	PendingOrders int             `json:"pendingOrders"`
	LowStockItems int             `json:"lowStockItems"`
}

// Roles
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Identity is the authenticated caller. Role is resolved once when the token is verified.
type Identity struct {
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Role    string `json:"role"`
}

func (i *Identity) Authenticated() bool {
	return i != nil && i.UserID != ""
}

func (i *Identity) IsAdmin() bool {
	return i.Authenticated() && i.Role == RoleAdmin
}
