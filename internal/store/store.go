package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"soilify/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return err
}

const productColumns = `id, name, price, discount, category, unit, description, image_url,
	stock_count, in_stock, rating, reviews, created_at, updated_at`

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err != nil {
		return nil, mapError(err)
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs. Unknown ids are absent from the result.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// ListProducts returns products newest first
func (s *Store) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE 1=1"
	var args []interface{}

	if filter.Category != "" && filter.Category != models.CategoryAll {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND LOWER(category) = LOWER($%d)", len(args))
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		args = append(args, "%"+escapeLike(term)+"%")
		query += fmt.Sprintf(" AND (name ILIKE $%d OR category ILIKE $%d)", len(args), len(args))
	}
	query += " ORDER BY created_at DESC, id"

	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// CreateProduct inserts a product
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	product.SyncStock()
	query := `
		INSERT INTO products (id, name, price, discount, category, unit, description, image_url,
			stock_count, in_stock, rating, reviews)
		VALUES (:id, :name, :price, :discount, :category, :unit, :description, :image_url,
			:stock_count, :in_stock, :rating, :reviews)
		RETURNING created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, query, product)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&product.CreatedAt, &product.UpdatedAt); err != nil {
			return err
		}
	}
	return mapError(rows.Err())
}

// UpdateProduct applies a patch under a row lock
func (s *Store) UpdateProduct(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var product models.Product
	err = tx.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, mapError(err)
	}

	patch.Apply(&product)

	err = tx.GetContext(ctx, &product.UpdatedAt, `
		UPDATE products SET name = $1, price = $2, discount = $3, category = $4, unit = $5,
			description = $6, image_url = $7, stock_count = $8, in_stock = $9, rating = $10,
			reviews = $11, updated_at = NOW()
		WHERE id = $12
		RETURNING updated_at`,
		product.Name, product.Price, product.Discount, product.Category, product.Unit,
		product.Description, product.ImageURL, product.StockCount, product.InStock,
		product.Rating, product.Reviews, id)
	if err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &product, nil
}

// DeleteProduct removes a product. Deleting a missing id is not an error.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	return err
}

// DecrementStock lowers stock by amount, clamping at zero
func (s *Store) DecrementStock(ctx context.Context, id string, amount int) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, `
		UPDATE products
		SET stock_count = GREATEST(stock_count - $1, 0),
			in_stock = GREATEST(stock_count - $1, 0) > 0,
			updated_at = NOW()
		WHERE id = $2
		RETURNING `+productColumns, amount, id)
	if err != nil {
		return nil, mapError(err)
	}
	return &product, nil
}

// CountLowStock counts products whose stock is below threshold
func (s *Store) CountLowStock(ctx context.Context, threshold int) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM products WHERE stock_count < $1", threshold)
	return count, err
}

func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}
