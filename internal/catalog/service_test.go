package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian/internal/shared"
)

type mockRepo struct {
	products     map[int64]Product
	warehouses   map[int64]Warehouse
	productReads int
}

func (r *mockRepo) GetProduct(_ context.Context, id int64) (Product, error) {
	r.productReads++
	p, ok := r.products[id]
	if !ok {
		return Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *mockRepo) GetWarehouse(_ context.Context, id int64) (Warehouse, error) {
	w, ok := r.warehouses[id]
	if !ok {
		return Warehouse{}, shared.ErrNotFound
	}
	return w, nil
}

func (r *mockRepo) ListProducts(_ context.Context, _ string, _, _ int) ([]Product, error) {
	out := make([]Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	return out, nil
}

func (r *mockRepo) CountProducts(_ context.Context, _ string) (int, error) {
	return len(r.products), nil
}

func (r *mockRepo) ListWarehouses(_ context.Context) ([]Warehouse, error) {
	out := make([]Warehouse, 0, len(r.warehouses))
	for _, w := range r.warehouses {
		out = append(out, w)
	}
	return out, nil
}

func (r *mockRepo) CreateProduct(_ context.Context, p Product) (Product, error) {
	p.ID = int64(len(r.products) + 1)
	r.products[p.ID] = p
	return p, nil
}

func (r *mockRepo) UpdateProduct(_ context.Context, id int64, p Product) error {
	if _, ok := r.products[id]; !ok {
		return shared.ErrNotFound
	}
	p.ID = id
	r.products[id] = p
	return nil
}

func (r *mockRepo) CreateWarehouse(_ context.Context, w Warehouse) (Warehouse, error) {
	w.ID = int64(len(r.warehouses) + 1)
	r.warehouses[w.ID] = w
	return w, nil
}

func (r *mockRepo) UpdateWarehouse(_ context.Context, id int64, w Warehouse) error {
	if _, ok := r.warehouses[id]; !ok {
		return shared.ErrNotFound
	}
	w.ID = id
	r.warehouses[id] = w
	return nil
}

func (r *mockRepo) ListBelowReorder(_ context.Context, fallback float64) ([]Product, error) {
	return nil, nil
}

func newTestService(t *testing.T) (*Service, *mockRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &mockRepo{
		products: map[int64]Product{
			1: {ID: 1, SKU: "SKU-1", Name: "Widget", IsActive: true},
			2: {ID: 2, SKU: "SKU-2", Name: "Retired", IsActive: false},
		},
		warehouses: map[int64]Warehouse{
			10: {ID: 10, Code: "WH-A", Name: "Main", IsActive: true},
		},
	}
	return NewService(repo, NewRedisCache(client, time.Minute)), repo
}

func TestProductLookupPopulatesCache(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	p, err := svc.Product(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "SKU-1", p.SKU)
	require.Equal(t, 1, repo.productReads)

	// second lookup is served from redis.
	_, err = svc.Product(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, repo.productReads)
}

func TestInactiveProductReadsAsMissing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Product(ctx, 2)
	require.ErrorIs(t, err, shared.ErrNotFound)

	// still missing when the inactive row comes from the cache.
	_, err = svc.Product(ctx, 2)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateProductInvalidatesCache(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.Product(ctx, 1)
	require.NoError(t, err)

	updated := repo.products[1]
	updated.Name = "Widget v2"
	require.NoError(t, svc.UpdateProduct(ctx, 1, updated))

	p, err := svc.Product(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Widget v2", p.Name)
	require.Equal(t, 2, repo.productReads, "invalidation forces a repository read")
}

func TestWarehouseLookupContract(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	w, err := svc.Warehouse(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "WH-A", w.Code)

	_, err = svc.Warehouse(ctx, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Warehouse(ctx, 0)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListProductsReportsPagination(t *testing.T) {
	svc, _ := newTestService(t)

	products, pagination, err := svc.ListProducts(context.Background(), "", 1, 1)
	require.NoError(t, err)
	require.Len(t, products, 2, "mock repo ignores limit/offset")
	require.Equal(t, 1, pagination.Page)
	require.Equal(t, 1, pagination.PerPage)
	require.Equal(t, 2, pagination.Total)
	require.Equal(t, 2, pagination.TotalPages)
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, Product{Name: "No SKU"})
	require.Error(t, err)

	_, err = svc.CreateProduct(ctx, Product{SKU: "SKU-3", Name: "Gadget", ReorderLevel: -1})
	require.Error(t, err)

	p, err := svc.CreateProduct(ctx, Product{SKU: "SKU-3", Name: "Gadget", IsActive: true})
	require.NoError(t, err)
	require.NotZero(t, p.ID)
}
