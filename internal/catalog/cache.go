package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache caches catalog lookups with a short TTL. Lookups happen on the
// hot path of every ledger mutation, so staleness is bounded by the TTL and
// writes invalidate eagerly.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs RedisCache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) GetProduct(ctx context.Context, id int64) (Product, bool) {
	if c == nil || c.client == nil {
		return Product{}, false
	}
	data, err := c.client.Get(ctx, productKey(id)).Bytes()
	if err != nil {
		return Product{}, false
	}
	var p Product
	if err := json.Unmarshal(data, &p); err != nil {
		return Product{}, false
	}
	return p, true
}

func (c *RedisCache) SetProduct(ctx context.Context, p Product) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, productKey(p.ID), data, c.ttl).Err()
}

func (c *RedisCache) GetWarehouse(ctx context.Context, id int64) (Warehouse, bool) {
	if c == nil || c.client == nil {
		return Warehouse{}, false
	}
	data, err := c.client.Get(ctx, warehouseKey(id)).Bytes()
	if err != nil {
		return Warehouse{}, false
	}
	var w Warehouse
	if err := json.Unmarshal(data, &w); err != nil {
		return Warehouse{}, false
	}
	return w, true
}

func (c *RedisCache) SetWarehouse(ctx context.Context, w Warehouse) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(w)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, warehouseKey(w.ID), data, c.ttl).Err()
}

// Invalidate drops cached entries after master-data updates. Zero ids are
// ignored.
func (c *RedisCache) Invalidate(ctx context.Context, productID, warehouseID int64) {
	if c == nil || c.client == nil {
		return
	}
	if productID > 0 {
		_ = c.client.Del(ctx, productKey(productID)).Err()
	}
	if warehouseID > 0 {
		_ = c.client.Del(ctx, warehouseKey(warehouseID)).Err()
	}
}

func productKey(id int64) string {
	return fmt.Sprintf("catalog:product:%d", id)
}

func warehouseKey(id int64) string {
	return fmt.Sprintf("catalog:warehouse:%d", id)
}
