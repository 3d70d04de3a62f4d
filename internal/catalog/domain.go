package catalog

import (
	"errors"
	"time"
)

// Product is catalog master data. The ledger references products read-only
// and never mutates them.
type Product struct {
	ID            int64     `json:"id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	TracksBatches bool      `json:"tracks_batches"`
	TracksSerials bool      `json:"tracks_serials"`
	ReorderLevel  float64   `json:"reorder_level"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Warehouse is catalog master data.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrDuplicateSKU indicates a SKU or warehouse code collision.
var ErrDuplicateSKU = errors.New("catalog: sku or code already exists")
