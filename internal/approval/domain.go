package approval

import (
	"errors"
	"time"

	"github.com/meridian-ims/meridian/internal/ledger"
)

// EntityType names the gated mutation kinds.
type EntityType string

const (
	EntityPurchaseReceive EntityType = "PURCHASE_RECEIVE"
	EntitySaleConfirm     EntityType = "SALE_CONFIRM"
	EntityStockAdjustment EntityType = "STOCK_ADJUSTMENT"
	EntityStockTransfer   EntityType = "STOCK_TRANSFER"
)

// Status is the request lifecycle. PENDING -> {APPROVED, REJECTED};
// APPROVED -> EXECUTED is terminal and happens at most once.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExecuted Status = "EXECUTED"
)

// Decision is a reviewer verdict.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Policy configures whether an entity type requires review. MinAmount
// applies to receives only: a sub-threshold receive executes immediately,
// while every other enabled entity type is always deferred.
type Policy struct {
	EntityType         EntityType `json:"entity_type"`
	Enabled            bool       `json:"enabled"`
	RequiredCapability string     `json:"required_capability"`
	MinAmount          *float64   `json:"min_amount,omitempty"`
}

// ActionPayload is the typed snapshot of a deferred mutation. Exactly one
// field is set; replay goes through the same engine methods as immediate
// execution, so it stays type-safe and exhaustive.
type ActionPayload struct {
	Receive  *ledger.ReceiveInput  `json:"receive,omitempty"`
	Sale     *ledger.SaleInput     `json:"sale,omitempty"`
	Adjust   *ledger.AdjustInput   `json:"adjust,omitempty"`
	Transfer *ledger.TransferInput `json:"transfer,omitempty"`
}

// EntityType derives the gated entity type, failing unless exactly one
// variant is populated.
func (p ActionPayload) EntityType() (EntityType, error) {
	var et EntityType
	count := 0
	if p.Receive != nil {
		et = EntityPurchaseReceive
		count++
	}
	if p.Sale != nil {
		et = EntitySaleConfirm
		count++
	}
	if p.Adjust != nil {
		et = EntityStockAdjustment
		count++
	}
	if p.Transfer != nil {
		et = EntityStockTransfer
		count++
	}
	if count != 1 {
		return "", ErrInvalidPayload
	}
	return et, nil
}

// Request is the persisted snapshot of a deferred mutation.
type Request struct {
	ID          int64         `json:"id"`
	EntityType  EntityType    `json:"entity_type"`
	Payload     ActionPayload `json:"payload"`
	Status      Status        `json:"status"`
	RequestedBy int64         `json:"requested_by"`
	ReviewedBy  int64         `json:"reviewed_by,omitempty"`
	DecidedAt   *time.Time    `json:"decided_at,omitempty"`
	ExecutedAt  *time.Time    `json:"executed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Outcome is what Submit (and an approving Review) yields: either a pending
// request or the result of immediate execution.
type Outcome struct {
	Pending  *Request               `json:"pending,omitempty"`
	Movement *ledger.Movement       `json:"movement,omitempty"`
	Transfer *ledger.TransferResult `json:"transfer,omitempty"`
}

var (
	// ErrInvalidPayload indicates zero or several payload variants set.
	ErrInvalidPayload = errors.New("approval: payload must carry exactly one action")
	// ErrAlreadyDecided indicates a review on a rejected request.
	ErrAlreadyDecided = errors.New("approval: request already decided")
	// ErrAlreadyApplied indicates a reject on a request whose movements were
	// applied by an earlier attempt that never recorded the execution.
	ErrAlreadyApplied = errors.New("approval: stock movements already applied")
	// ErrInvalidDecision indicates an unknown decision verb.
	ErrInvalidDecision = errors.New("approval: decision must be APPROVE or REJECT")
)
