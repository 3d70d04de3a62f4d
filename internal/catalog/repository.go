package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-ims/meridian/internal/shared"
)

// Repository persists catalog master data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProduct fetches a product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, tracks_batches, tracks_serials, reorder_level, is_active, created_at, updated_at
FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.TracksBatches, &p.TracksSerials, &p.ReorderLevel, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// GetWarehouse fetches a warehouse by id.
func (r *Repository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, is_active, created_at, updated_at
FROM warehouses WHERE id=$1`, id).
		Scan(&w.ID, &w.Code, &w.Name, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, shared.ErrNotFound
		}
		return Warehouse{}, err
	}
	return w, nil
}

// ListProducts lists products, optionally filtered by a search term.
func (r *Repository) ListProducts(ctx context.Context, search string, limit, offset int) ([]Product, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, sku, name, tracks_batches, tracks_serials, reorder_level, is_active, created_at, updated_at
FROM products
WHERE ($1 = '' OR sku ILIKE '%'||$1||'%' OR name ILIKE '%'||$1||'%')
ORDER BY sku
LIMIT $2 OFFSET $3`, search, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.TracksBatches, &p.TracksSerials, &p.ReorderLevel, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CountProducts counts products matching the search term.
func (r *Repository) CountProducts(ctx context.Context, search string) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products
WHERE ($1 = '' OR sku ILIKE '%'||$1||'%' OR name ILIKE '%'||$1||'%')`, search).Scan(&total)
	return total, err
}

// ListWarehouses lists warehouses.
func (r *Repository) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, is_active, created_at, updated_at FROM warehouses ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	warehouses := []Warehouse{}
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

// CreateProduct inserts a product.
func (r *Repository) CreateProduct(ctx context.Context, p Product) (Product, error) {
	now := time.Now()
	err := r.pool.QueryRow(ctx, `INSERT INTO products (sku, name, tracks_batches, tracks_serials, reorder_level, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7) RETURNING id`, p.SKU, p.Name, p.TracksBatches, p.TracksSerials, p.ReorderLevel, p.IsActive, now).Scan(&p.ID)
	if err != nil {
		return Product{}, mapDuplicate(err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return p, nil
}

// UpdateProduct updates mutable product fields.
func (r *Repository) UpdateProduct(ctx context.Context, id int64, p Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET sku=$2, name=$3, tracks_batches=$4, tracks_serials=$5, reorder_level=$6, is_active=$7, updated_at=NOW()
WHERE id=$1`, id, p.SKU, p.Name, p.TracksBatches, p.TracksSerials, p.ReorderLevel, p.IsActive)
	if err != nil {
		return mapDuplicate(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CreateWarehouse inserts a warehouse.
func (r *Repository) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	now := time.Now()
	err := r.pool.QueryRow(ctx, `INSERT INTO warehouses (code, name, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4) RETURNING id`, w.Code, w.Name, w.IsActive, now).Scan(&w.ID)
	if err != nil {
		return Warehouse{}, mapDuplicate(err)
	}
	w.CreatedAt = now
	w.UpdatedAt = now
	return w, nil
}

// UpdateWarehouse updates mutable warehouse fields.
func (r *Repository) UpdateWarehouse(ctx context.Context, id int64, w Warehouse) error {
	tag, err := r.pool.Exec(ctx, `UPDATE warehouses SET code=$2, name=$3, is_active=$4, updated_at=NOW() WHERE id=$1`, id, w.Code, w.Name, w.IsActive)
	if err != nil {
		return mapDuplicate(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListBelowReorder returns products whose total on-hand across warehouses is
// below their reorder level, or below fallback when no level is set.
func (r *Repository) ListBelowReorder(ctx context.Context, fallback float64) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.sku, p.name, p.tracks_batches, p.tracks_serials, p.reorder_level, p.is_active, p.created_at, p.updated_at
FROM products p
LEFT JOIN (SELECT product_id, SUM(quantity) AS on_hand FROM stock_balances GROUP BY product_id) b ON b.product_id = p.id
WHERE p.is_active AND COALESCE(b.on_hand, 0) < CASE WHEN p.reorder_level > 0 THEN p.reorder_level ELSE $1 END
ORDER BY p.sku`, fallback)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.TracksBatches, &p.TracksSerials, &p.ReorderLevel, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func mapDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateSKU
	}
	return err
}
