package store

import (
	"context"
	"fmt"
	"strings"

	"soilify/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, customer_name, phone, email, product_details, quantity,
	subtotal, shipping_fee, total_price, location, district, nearby, pincode, payment_method,
	payment_reference, channel, idempotency_key, status, payment_status, tracking_id,
	rejection_reason, return_reason, review, rating, shipped_at, delivered_at, pickup_at,
	returned_at, created_at, updated_at`

// CreateOrder inserts a new order. A duplicate id, idempotency key or payment
// reference returns ErrConflict.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, user_id, customer_name, phone, email, product_details, quantity,
			subtotal, shipping_fee, total_price, location, district, nearby, pincode,
			payment_method, payment_reference, channel, idempotency_key, status, payment_status,
			created_at, updated_at)
		VALUES (:id, :user_id, :customer_name, :phone, :email, :product_details, :quantity,
			:subtotal, :shipping_fee, :total_price, :location, :district, :nearby, :pincode,
			:payment_method, :payment_reference, :channel, :idempotency_key, :status,
			:payment_status, :created_at, :updated_at)`

	_, err := s.db.NamedExecContext(ctx, query, order)
	return mapError(err)
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, mapError(err)
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if err != nil {
		return nil, mapError(err)
	}
	return &order, nil
}

// GetOrderByPaymentReference retrieves the order settled by a gateway reference
func (s *Store) GetOrderByPaymentReference(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE payment_reference = $1 ORDER BY created_at DESC LIMIT 1", ref)
	if err != nil {
		return nil, mapError(err)
	}
	return &order, nil
}

// ListOrders returns orders most recent first
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE 1=1"
	var args []interface{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Phone != "" {
		args = append(args, filter.Phone)
		query += fmt.Sprintf(" AND phone = $%d", len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"

	orders := []*models.Order{}
	err := s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// UpdateOrder writes the mutable fields of order
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders SET
			status = :status, payment_status = :payment_status,
			payment_reference = :payment_reference, tracking_id = :tracking_id,
			rejection_reason = :rejection_reason, return_reason = :return_reason,
			review = :review, rating = :rating, shipped_at = :shipped_at,
			delivered_at = :delivered_at, pickup_at = :pickup_at, returned_at = :returned_at,
			updated_at = :updated_at
		WHERE id = :id`

	res, err := s.db.NamedExecContext(ctx, query, order)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOrdersWhere bulk-deletes orders in the given statuses
func (s *Store) DeleteOrdersWhere(ctx context.Context, statuses []string) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE status = ANY($1)", pq.Array(statuses))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// OrderTotals returns sales excluding cancelled orders, the order count and the pending count
func (s *Store) OrderTotals(ctx context.Context) (decimal.Decimal, int, int, error) {
	var row struct {
		Sales   decimal.Decimal `db:"sales"`
		Total   int             `db:"total"`
		Pending int             `db:"pending"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COALESCE(SUM(total_price) FILTER (WHERE status <> $1), 0) AS sales,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = $2) AS pending
		FROM orders`, models.OrderStatusCancelled, models.OrderStatusPending)
	return row.Sales, row.Total, row.Pending, err
}

// ListShippingRates returns all region rates
func (s *Store) ListShippingRates(ctx context.Context) ([]models.ShippingRate, error) {
	rates := []models.ShippingRate{}
	err := s.db.SelectContext(ctx, &rates,
		"SELECT region, fee, updated_at FROM shipping_rates ORDER BY region")
	return rates, err
}

// UpsertShippingRate sets the fee for a region
func (s *Store) UpsertShippingRate(ctx context.Context, region string, fee decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shipping_rates (region, fee) VALUES ($1, $2)
		ON CONFLICT (LOWER(region)) DO UPDATE SET fee = EXCLUDED.fee, updated_at = NOW()`,
		strings.TrimSpace(region), fee)
	return err
}

// DeleteShippingRate removes a region rate
func (s *Store) DeleteShippingRate(ctx context.Context, region string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM shipping_rates WHERE LOWER(region) = LOWER($1)", strings.TrimSpace(region))
	return err
}

// ShippingFee looks up a region case-insensitively. Unknown regions ship free.
func (s *Store) ShippingFee(ctx context.Context, region string) (decimal.Decimal, error) {
	var fee decimal.Decimal
	err := s.db.GetContext(ctx, &fee,
		"SELECT fee FROM shipping_rates WHERE LOWER(region) = LOWER($1)", strings.TrimSpace(region))
	if err != nil {
		if mapped := mapError(err); mapped == ErrNotFound {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return fee, nil
}
