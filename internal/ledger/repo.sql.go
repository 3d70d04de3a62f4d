package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-ims/meridian/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListMovements returns the ordered movement log for a key.
func (r *Repository) ListMovements(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, warehouse_id, movement_type, quantity, direction, reference_type, reference_id, batch_id, reason, note, created_by, created_at
FROM stock_movements
WHERE product_id=$1
  AND ($2::bigint = 0 OR warehouse_id=$2)
  AND ($3::bigint = 0 OR batch_id=$3)
  AND created_at BETWEEN COALESCE($4, '-infinity') AND COALESCE($5, 'infinity')
ORDER BY created_at ASC, id ASC
LIMIT $6`, filter.ProductID, filter.WarehouseID, filter.BatchID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		mv, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

// ListBalances returns projection rows, optionally narrowed by product and
// warehouse.
func (r *Repository) ListBalances(ctx context.Context, productID, warehouseID int64) ([]Balance, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT product_id, warehouse_id, batch_id, quantity, available, updated_at
FROM stock_balances
WHERE ($1::bigint = 0 OR product_id=$1) AND ($2::bigint = 0 OR warehouse_id=$2)
ORDER BY product_id, warehouse_id, batch_id`, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.Key.ProductID, &bal.Key.WarehouseID, &bal.Key.BatchID, &bal.Quantity, &bal.Available, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// ListBalanceKeys enumerates every projected key, used by the integrity job.
func (r *Repository) ListBalanceKeys(ctx context.Context) ([]BalanceKey, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT product_id, warehouse_id, batch_id FROM stock_balances ORDER BY product_id, warehouse_id, batch_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []BalanceKey
	for rows.Next() {
		var key BalanceKey
		if err := rows.Scan(&key.ProductID, &key.WarehouseID, &key.BatchID); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *txRepository) AppendMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, warehouse_id, movement_type, quantity, direction, reference_type, reference_id, batch_id, reason, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		mv.ProductID, mv.WarehouseID, string(mv.Type), mv.Quantity, mv.Direction, string(mv.RefType), mv.RefID, mv.BatchID, mv.Reason, mv.Note, mv.CreatedBy, mv.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, key BalanceKey) (Balance, error) {
	var bal Balance
	err := r.tx.QueryRow(ctx, `SELECT product_id, warehouse_id, batch_id, quantity, available, updated_at
FROM stock_balances WHERE product_id=$1 AND warehouse_id=$2 AND batch_id=$3 FOR UPDATE`, key.ProductID, key.WarehouseID, key.BatchID).
		Scan(&bal.Key.ProductID, &bal.Key.WarehouseID, &bal.Key.BatchID, &bal.Quantity, &bal.Available, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{Key: key}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (product_id, warehouse_id, batch_id, quantity, available, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (product_id, warehouse_id, batch_id) DO UPDATE SET quantity=EXCLUDED.quantity, available=EXCLUDED.available, updated_at=NOW()`,
		balance.Key.ProductID, balance.Key.WarehouseID, balance.Key.BatchID, balance.Quantity, balance.Available)
	return err
}

func (r *txRepository) SumMovements(ctx context.Context, key BalanceKey) (float64, error) {
	var sum float64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity * direction), 0)
FROM stock_movements WHERE product_id=$1 AND warehouse_id=$2 AND COALESCE(batch_id, 0)=$3`, key.ProductID, key.WarehouseID, key.BatchID).Scan(&sum)
	return sum, err
}

func (r *txRepository) FindBatch(ctx context.Context, productID int64, batchNumber string) (Batch, error) {
	var batch Batch
	err := r.tx.QueryRow(ctx, `SELECT id, product_id, batch_number, expiry_date, mfg_date, created_at
FROM batches WHERE product_id=$1 AND batch_number=$2`, productID, batchNumber).
		Scan(&batch.ID, &batch.ProductID, &batch.BatchNumber, &batch.ExpiryDate, &batch.MfgDate, &batch.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return batch, nil
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batches (product_id, batch_number, expiry_date, mfg_date, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, batch.ProductID, batch.BatchNumber, batch.ExpiryDate, batch.MfgDate).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrBatchConflict
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) FindSerialsForUpdate(ctx context.Context, productID int64, serialNumbers []string) ([]Serial, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, serial_number, status, warehouse_id, updated_at
FROM product_serials WHERE product_id=$1 AND serial_number = ANY($2) FOR UPDATE`, productID, serialNumbers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var serials []Serial
	for rows.Next() {
		var s Serial
		var status string
		if err := rows.Scan(&s.ID, &s.ProductID, &s.SerialNumber, &status, &s.WarehouseID, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Status = SerialStatus(status)
		serials = append(serials, s)
	}
	return serials, rows.Err()
}

func (r *txRepository) InsertSerial(ctx context.Context, serial Serial) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO product_serials (product_id, serial_number, status, warehouse_id, updated_at)
VALUES ($1,$2,$3,$4,NOW())`, serial.ProductID, serial.SerialNumber, string(serial.Status), serial.WarehouseID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateSerial
		}
	}
	return err
}

func (r *txRepository) UpdateSerial(ctx context.Context, productID int64, serialNumber string, status SerialStatus, warehouseID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE product_serials SET status=$3, warehouse_id=$4, updated_at=NOW()
WHERE product_id=$1 AND serial_number=$2`, productID, serialNumber, string(status), warehouseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSerialNotInStock
	}
	return nil
}

func scanMovement(rows pgx.Rows) (Movement, error) {
	var mv Movement
	var mvType, refType string
	if err := rows.Scan(&mv.ID, &mv.ProductID, &mv.WarehouseID, &mvType, &mv.Quantity, &mv.Direction, &refType, &mv.RefID, &mv.BatchID, &mv.Reason, &mv.Note, &mv.CreatedBy, &mv.CreatedAt); err != nil {
		return Movement{}, err
	}
	mv.Type = MovementType(mvType)
	mv.RefType = ReferenceType(refType)
	return mv, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
