package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents an inbound movement.
	MovementIn MovementType = "IN"
	// MovementOut represents an outbound movement.
	MovementOut MovementType = "OUT"
	// MovementTransfer marks one leg of a warehouse transfer.
	MovementTransfer MovementType = "TRANSFER"
	// MovementAdjustment marks a manual adjustment.
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// ReferenceType identifies the business document a movement originates from.
type ReferenceType string

const (
	RefPurchase   ReferenceType = "PURCHASE"
	RefSale       ReferenceType = "SALE"
	RefTransfer   ReferenceType = "TRANSFER"
	RefAdjustment ReferenceType = "ADJUSTMENT"
	RefManual     ReferenceType = "MANUAL"
)

// SerialStatus tracks the lifecycle of a serialized unit.
type SerialStatus string

const (
	SerialInStock  SerialStatus = "IN_STOCK"
	SerialSold     SerialStatus = "SOLD"
	SerialDamaged  SerialStatus = "DAMAGED"
	SerialReturned SerialStatus = "RETURNED"
)

// Movement is one immutable record of a stock quantity change. Quantity is
// always stored positive; Direction carries the sign. Corrections are new
// movements, never updates.
type Movement struct {
	ID          int64
	ProductID   int64
	WarehouseID int64
	Type        MovementType
	Quantity    float64
	Direction   int
	RefType     ReferenceType
	RefID       uuid.UUID
	BatchID     *int64
	Reason      string
	Note        string
	CreatedBy   int64
	CreatedAt   time.Time
}

// Signed returns the quantity with its direction applied.
func (m Movement) Signed() float64 {
	return m.Quantity * float64(m.Direction)
}

// BalanceKey identifies one projected balance row. BatchID zero means the
// product-level row for untracked products.
type BalanceKey struct {
	ProductID   int64
	WarehouseID int64
	BatchID     int64
}

// Less provides the stable ordering used when locking several balance rows
// in one transaction.
func (k BalanceKey) Less(other BalanceKey) bool {
	if k.ProductID != other.ProductID {
		return k.ProductID < other.ProductID
	}
	if k.WarehouseID != other.WarehouseID {
		return k.WarehouseID < other.WarehouseID
	}
	return k.BatchID < other.BatchID
}

// Balance is the derived on-hand projection for one key. It is a cache of
// the movement log, never an independent source of truth.
type Balance struct {
	Key       BalanceKey
	Quantity  float64
	Available float64
	UpdatedAt time.Time
}

// Batch is a tracked lot of a product.
type Batch struct {
	ID          int64
	ProductID   int64
	BatchNumber string
	ExpiryDate  *time.Time
	MfgDate     *time.Time
	CreatedAt   time.Time
}

// Serial is a uniquely identified physical unit of a product.
type Serial struct {
	ID           int64
	ProductID    int64
	SerialNumber string
	Status       SerialStatus
	WarehouseID  int64
	UpdatedAt    time.Time
}

// ReceiveInput describes an inbound receipt.
type ReceiveInput struct {
	ProductID   int64         `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64         `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    float64       `json:"quantity" validate:"required,gt=0"`
	RefType     ReferenceType `json:"reference_type,omitempty"`
	RefID       string        `json:"reference_id,omitempty"`
	BatchNumber string        `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time    `json:"expiry_date,omitempty"`
	MfgDate     *time.Time    `json:"mfg_date,omitempty"`
	Serials     []string      `json:"serials,omitempty"`
	Note        string        `json:"note,omitempty"`
	ActorID     int64         `json:"-"`
}

// SaleInput confirms an outbound sale.
type SaleInput struct {
	ProductID   int64    `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64    `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    float64  `json:"quantity" validate:"required,gt=0"`
	RefID       string   `json:"reference_id,omitempty"`
	BatchNumber string   `json:"batch_number,omitempty"`
	Serials     []string `json:"serials,omitempty"`
	Note        string   `json:"note,omitempty"`
	ActorID     int64    `json:"-"`
}

// AdjustMethod selects how the adjustment delta is computed.
type AdjustMethod string

const (
	AdjustIncrease AdjustMethod = "increase"
	AdjustDecrease AdjustMethod = "decrease"
	AdjustSet      AdjustMethod = "set"
)

// AdjustInput describes a stock adjustment request.
type AdjustInput struct {
	ProductID   int64        `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64        `json:"warehouse_id" validate:"required,gt=0"`
	Method      AdjustMethod `json:"method" validate:"required,oneof=increase decrease set"`
	Amount      float64      `json:"amount,omitempty"`
	Target      float64      `json:"target,omitempty"`
	Reason      string       `json:"reason" validate:"required"`
	BatchNumber string       `json:"batch_number,omitempty"`
	Serials     []string     `json:"serials,omitempty"`
	Note        string       `json:"note,omitempty"`
	ActorID     int64        `json:"-"`
}

// TransferInput describes a transfer between warehouses.
type TransferInput struct {
	ProductID       int64    `json:"product_id" validate:"required,gt=0"`
	FromWarehouseID int64    `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64    `json:"to_warehouse_id" validate:"required,gt=0"`
	Quantity        float64  `json:"quantity" validate:"required,gt=0"`
	BatchNumber     string   `json:"batch_number,omitempty"`
	Serials         []string `json:"serials,omitempty"`
	Note            string   `json:"note,omitempty"`
	ActorID         int64    `json:"-"`
}

// TransferResult pairs the two legs written for one transfer.
type TransferResult struct {
	RefID uuid.UUID
	Out   Movement
	In    Movement
}

// StockCardFilter narrows movement log reads.
type StockCardFilter struct {
	ProductID   int64
	WarehouseID int64
	BatchID     int64
	From        time.Time
	To          time.Time
	Limit       int
}

// RebuildResult reports the outcome of replaying the log for one key.
type RebuildResult struct {
	Key      BalanceKey
	Previous float64
	Computed float64
	Diverged bool
}

// Sentinel errors surfaced by the engine. All abort the transaction before
// any row is durably changed.
var (
	ErrInvalidQuantity     = errors.New("ledger: quantity must be positive")
	ErrInsufficientStock   = errors.New("ledger: insufficient stock")
	ErrSameWarehouse       = errors.New("ledger: source and destination warehouse must differ")
	ErrBatchRequired       = errors.New("ledger: product tracks batches, batch number required")
	ErrBatchConflict       = errors.New("ledger: batch attributes conflict with existing batch")
	ErrSerialCountMismatch = errors.New("ledger: serial count must equal movement quantity")
	ErrDuplicateSerial     = errors.New("ledger: serial number already in stock")
	ErrSerialNotInStock    = errors.New("ledger: serial number not in stock at warehouse")
	ErrUnknownReason       = errors.New("ledger: adjustment reason not in configured vocabulary")
)
