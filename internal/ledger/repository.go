package ledger

import (
	"context"
	"errors"
)

// ErrBalanceNotFound indicates a missing balance row for a key.
var ErrBalanceNotFound = errors.New("ledger: balance not found")

// ErrBatchNotFound indicates no batch exists for a product/number pair.
var ErrBatchNotFound = errors.New("ledger: batch not found")

// TxRepository exposes the operations available inside one atomic unit of
// work. The movement log is append-only; nothing here updates or deletes a
// movement row.
type TxRepository interface {
	AppendMovement(ctx context.Context, mv Movement) (int64, error)
	GetBalanceForUpdate(ctx context.Context, key BalanceKey) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	SumMovements(ctx context.Context, key BalanceKey) (float64, error)

	FindBatch(ctx context.Context, productID int64, batchNumber string) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)

	FindSerialsForUpdate(ctx context.Context, productID int64, serialNumbers []string) ([]Serial, error)
	InsertSerial(ctx context.Context, serial Serial) error
	UpdateSerial(ctx context.Context, productID int64, serialNumber string, status SerialStatus, warehouseID int64) error
}

// RepositoryPort abstracts storage for the service. WithTx runs fn inside a
// single database transaction; returning an error rolls back every write,
// including the log append.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, filter StockCardFilter) ([]Movement, error)
	ListBalances(ctx context.Context, productID, warehouseID int64) ([]Balance, error)
	ListBalanceKeys(ctx context.Context) ([]BalanceKey, error)
}
