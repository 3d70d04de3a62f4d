package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/meridian-ims/meridian/internal/shared"
)

// RepositoryPort abstracts storage for the service.
type RepositoryPort interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	ListProducts(ctx context.Context, search string, limit, offset int) ([]Product, error)
	CountProducts(ctx context.Context, search string) (int, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, id int64, p Product) error
	CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error)
	UpdateWarehouse(ctx context.Context, id int64, w Warehouse) error
	ListBelowReorder(ctx context.Context, fallback float64) ([]Product, error)
}

// LookupCache caches lookups; implementations may be nil-safe no-ops.
type LookupCache interface {
	GetProduct(ctx context.Context, id int64) (Product, bool)
	SetProduct(ctx context.Context, p Product)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, bool)
	SetWarehouse(ctx context.Context, w Warehouse)
	Invalidate(ctx context.Context, productID, warehouseID int64)
}

// Service provides catalog CRUD and the read-only lookups the ledger uses.
type Service struct {
	repo  RepositoryPort
	cache LookupCache
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, cache LookupCache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Product returns an active product or shared.ErrNotFound. This is the
// lookup contract the ledger engine depends on: inactive rows are treated
// the same as missing ones.
func (s *Service) Product(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, shared.ErrNotFound
	}
	if s.cache != nil {
		if p, ok := s.cache.GetProduct(ctx, id); ok {
			if !p.IsActive {
				return Product{}, shared.ErrNotFound
			}
			return p, nil
		}
	}
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if s.cache != nil {
		s.cache.SetProduct(ctx, p)
	}
	if !p.IsActive {
		return Product{}, shared.ErrNotFound
	}
	return p, nil
}

// Warehouse returns an active warehouse or shared.ErrNotFound.
func (s *Service) Warehouse(ctx context.Context, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, shared.ErrNotFound
	}
	if s.cache != nil {
		if w, ok := s.cache.GetWarehouse(ctx, id); ok {
			if !w.IsActive {
				return Warehouse{}, shared.ErrNotFound
			}
			return w, nil
		}
	}
	w, err := s.repo.GetWarehouse(ctx, id)
	if err != nil {
		return Warehouse{}, err
	}
	if s.cache != nil {
		s.cache.SetWarehouse(ctx, w)
	}
	if !w.IsActive {
		return Warehouse{}, shared.ErrNotFound
	}
	return w, nil
}

// ListProducts lists one page of products for the catalog screens.
func (s *Service) ListProducts(ctx context.Context, search string, page, perPage int) ([]Product, shared.Pagination, error) {
	search = strings.TrimSpace(search)
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	total, err := s.repo.CountProducts(ctx, search)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	products, err := s.repo.ListProducts(ctx, search, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return products, shared.NewPagination(page, perPage, total), nil
}

// ListWarehouses lists warehouses.
func (s *Service) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

// CreateProduct validates and inserts a product.
func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if err := validateProduct(p); err != nil {
		return Product{}, err
	}
	return s.repo.CreateProduct(ctx, p)
}

// UpdateProduct validates and updates a product, dropping any cached copy.
func (s *Service) UpdateProduct(ctx context.Context, id int64, p Product) error {
	if id <= 0 {
		return shared.ErrNotFound
	}
	if err := validateProduct(p); err != nil {
		return err
	}
	if err := s.repo.UpdateProduct(ctx, id, p); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, id, 0)
	}
	return nil
}

// CreateWarehouse validates and inserts a warehouse.
func (s *Service) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	if err := validateWarehouse(w); err != nil {
		return Warehouse{}, err
	}
	return s.repo.CreateWarehouse(ctx, w)
}

// UpdateWarehouse validates and updates a warehouse, dropping any cached copy.
func (s *Service) UpdateWarehouse(ctx context.Context, id int64, w Warehouse) error {
	if id <= 0 {
		return shared.ErrNotFound
	}
	if err := validateWarehouse(w); err != nil {
		return err
	}
	if err := s.repo.UpdateWarehouse(ctx, id, w); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, 0, id)
	}
	return nil
}

// ListBelowReorder surfaces products under their reorder level using the
// configured fallback when no per-product level is set.
func (s *Service) ListBelowReorder(ctx context.Context, fallback float64) ([]Product, error) {
	return s.repo.ListBelowReorder(ctx, fallback)
}

func validateProduct(p Product) error {
	if strings.TrimSpace(p.SKU) == "" {
		return errors.New("catalog: product sku is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("catalog: product name is required")
	}
	if p.ReorderLevel < 0 {
		return errors.New("catalog: reorder level must be >= 0")
	}
	return nil
}

func validateWarehouse(w Warehouse) error {
	if strings.TrimSpace(w.Code) == "" {
		return errors.New("catalog: warehouse code is required")
	}
	if strings.TrimSpace(w.Name) == "" {
		return errors.New("catalog: warehouse name is required")
	}
	return nil
}
