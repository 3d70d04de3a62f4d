package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian/internal/catalog"
	"github.com/meridian-ims/meridian/internal/shared"
)

// memRepo is an in-memory RepositoryPort. WithTx serialises callers behind
// one mutex and snapshots state up front, so a returned error restores the
// pre-transaction state the same way a database rollback would.
type memRepo struct {
	mu           sync.Mutex
	movements    []Movement
	balances     map[BalanceKey]Balance
	batches      map[string]Batch
	serials      map[string]Serial
	nextMovement int64
	nextBatch    int64

	// lock-order accounting: balance row locks must come before serial row
	// locks in every transaction.
	balanceLocked        bool
	serialsBeforeBalance bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		balances: make(map[BalanceKey]Balance),
		batches:  make(map[string]Batch),
		serials:  make(map[string]Serial),
	}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balanceLocked = false

	movements := make([]Movement, len(r.movements))
	copy(movements, r.movements)
	balances := make(map[BalanceKey]Balance, len(r.balances))
	for k, v := range r.balances {
		balances[k] = v
	}
	batches := make(map[string]Batch, len(r.batches))
	for k, v := range r.batches {
		batches[k] = v
	}
	serials := make(map[string]Serial, len(r.serials))
	for k, v := range r.serials {
		serials[k] = v
	}
	nextMovement, nextBatch := r.nextMovement, r.nextBatch

	if err := fn(ctx, r); err != nil {
		r.movements = movements
		r.balances = balances
		r.batches = batches
		r.serials = serials
		r.nextMovement, r.nextBatch = nextMovement, nextBatch
		return err
	}
	return nil
}

func (r *memRepo) AppendMovement(_ context.Context, mv Movement) (int64, error) {
	r.nextMovement++
	mv.ID = r.nextMovement
	r.movements = append(r.movements, mv)
	return mv.ID, nil
}

func (r *memRepo) GetBalanceForUpdate(_ context.Context, key BalanceKey) (Balance, error) {
	r.balanceLocked = true
	balance, ok := r.balances[key]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return balance, nil
}

func (r *memRepo) UpsertBalance(_ context.Context, balance Balance) error {
	balance.UpdatedAt = time.Now().UTC()
	r.balances[balance.Key] = balance
	return nil
}

func (r *memRepo) SumMovements(_ context.Context, key BalanceKey) (float64, error) {
	var sum float64
	for _, mv := range r.movements {
		if balanceKeyFor(mv) == key {
			sum += mv.Signed()
		}
	}
	return sum, nil
}

func batchKey(productID int64, number string) string {
	return fmt.Sprintf("%d|%s", productID, number)
}

func balanceKeyFor(mv Movement) BalanceKey {
	key := BalanceKey{ProductID: mv.ProductID, WarehouseID: mv.WarehouseID}
	if mv.BatchID != nil {
		key.BatchID = *mv.BatchID
	}
	return key
}

func (r *memRepo) FindBatch(_ context.Context, productID int64, batchNumber string) (Batch, error) {
	batch, ok := r.batches[batchKey(productID, batchNumber)]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return batch, nil
}

func (r *memRepo) InsertBatch(_ context.Context, batch Batch) (int64, error) {
	r.nextBatch++
	batch.ID = r.nextBatch
	r.batches[batchKey(batch.ProductID, batch.BatchNumber)] = batch
	return batch.ID, nil
}

func (r *memRepo) FindSerialsForUpdate(_ context.Context, productID int64, serialNumbers []string) ([]Serial, error) {
	if !r.balanceLocked {
		r.serialsBeforeBalance = true
	}
	var found []Serial
	for _, number := range serialNumbers {
		if sr, ok := r.serials[batchKey(productID, number)]; ok {
			found = append(found, sr)
		}
	}
	return found, nil
}

func (r *memRepo) InsertSerial(_ context.Context, serial Serial) error {
	r.serials[batchKey(serial.ProductID, serial.SerialNumber)] = serial
	return nil
}

func (r *memRepo) UpdateSerial(_ context.Context, productID int64, serialNumber string, status SerialStatus, warehouseID int64) error {
	key := batchKey(productID, serialNumber)
	sr, ok := r.serials[key]
	if !ok {
		return errors.New("serial missing")
	}
	sr.Status = status
	sr.WarehouseID = warehouseID
	r.serials[key] = sr
	return nil
}

func (r *memRepo) ListMovements(_ context.Context, filter StockCardFilter) ([]Movement, error) {
	var out []Movement
	for _, mv := range r.movements {
		if mv.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && mv.WarehouseID != filter.WarehouseID {
			continue
		}
		out = append(out, mv)
	}
	return out, nil
}

func (r *memRepo) ListBalances(_ context.Context, productID, warehouseID int64) ([]Balance, error) {
	var out []Balance
	for _, balance := range r.balances {
		if productID != 0 && balance.Key.ProductID != productID {
			continue
		}
		if warehouseID != 0 && balance.Key.WarehouseID != warehouseID {
			continue
		}
		out = append(out, balance)
	}
	return out, nil
}

func (r *memRepo) ListBalanceKeys(_ context.Context) ([]BalanceKey, error) {
	keys := make([]BalanceKey, 0, len(r.balances))
	for key := range r.balances {
		keys = append(keys, key)
	}
	return keys, nil
}

type stubCatalog struct {
	products   map[int64]catalog.Product
	warehouses map[int64]catalog.Warehouse
}

func (c *stubCatalog) Product(_ context.Context, id int64) (catalog.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return catalog.Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (c *stubCatalog) Warehouse(_ context.Context, id int64) (catalog.Warehouse, error) {
	w, ok := c.warehouses[id]
	if !ok {
		return catalog.Warehouse{}, shared.ErrNotFound
	}
	return w, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *memRepo, *recordingAudit) {
	t.Helper()
	repo := newMemRepo()
	cat := &stubCatalog{
		products: map[int64]catalog.Product{
			1: {ID: 1, SKU: "PLAIN-1", IsActive: true},
			2: {ID: 2, SKU: "BATCH-1", TracksBatches: true, IsActive: true},
			3: {ID: 3, SKU: "SERIAL-1", TracksSerials: true, IsActive: true},
		},
		warehouses: map[int64]catalog.Warehouse{
			10: {ID: 10, Code: "WH-A", IsActive: true},
			20: {ID: 20, Code: "WH-B", IsActive: true},
		},
	}
	audit := &recordingAudit{}
	if len(cfg.AdjustmentReasons) == 0 {
		cfg.AdjustmentReasons = []string{"RECOUNT", "DAMAGE"}
	}
	return NewService(repo, cat, audit, cfg), repo, audit
}

func TestReceiveAppendsMovementAndProjectsBalance(t *testing.T) {
	svc, repo, audit := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	mv, err := svc.Receive(ctx, ReceiveInput{ProductID: 1, WarehouseID: 10, Quantity: 10, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, MovementIn, mv.Type)
	require.Equal(t, 1, mv.Direction)
	require.NotZero(t, mv.ID)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", mv.RefID.String())

	balance := repo.balances[BalanceKey{ProductID: 1, WarehouseID: 10}]
	require.InDelta(t, 10, balance.Quantity, 1e-9)
	require.InDelta(t, 10, balance.Available, 1e-9)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "ledger:RECEIVE", audit.logs[0].Action)
	require.EqualValues(t, 7, audit.logs[0].ActorID)
}

func TestReceiveRejectsNonPositiveQuantity(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})

	_, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, WarehouseID: 10, Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestConfirmSaleInsufficientStockRollsBack(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 1, WarehouseID: 10, Quantity: 5})
	require.NoError(t, err)

	_, err = svc.ConfirmSale(ctx, SaleInput{ProductID: 1, WarehouseID: 10, Quantity: 8})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// failed sale must leave no trace: no log entry, balance untouched.
	require.Len(t, repo.movements, 1)
	require.InDelta(t, 5, repo.balances[BalanceKey{ProductID: 1, WarehouseID: 10}].Quantity, 1e-9)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 1, WarehouseID: 10, Quantity: 10})
	require.NoError(t, err)

	const attempts = 5
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ConfirmSale(ctx, SaleInput{ProductID: 1, WarehouseID: 10, Quantity: 3})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, failed := 0, 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrInsufficientStock)
		failed++
	}
	require.Equal(t, 3, succeeded)
	require.Equal(t, 2, failed)
	require.InDelta(t, 1, repo.balances[BalanceKey{ProductID: 1, WarehouseID: 10}].Quantity, 1e-9)
}

func TestAllowNegativeStockPolicy(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{AllowNegativeStock: true})

	_, err := svc.ConfirmSale(context.Background(), SaleInput{ProductID: 1, WarehouseID: 10, Quantity: 4})
	require.NoError(t, err)
	require.InDelta(t, -4, repo.balances[BalanceKey{ProductID: 1, WarehouseID: 10}].Quantity, 1e-9)
}

func TestTransferWritesTwoLinkedMovements(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 1, WarehouseID: 10, Quantity: 10})
	require.NoError(t, err)

	result, err := svc.Transfer(ctx, TransferInput{ProductID: 1, FromWarehouseID: 10, ToWarehouseID: 20, Quantity: 4})
	require.NoError(t, err)
	require.Equal(t, result.Out.RefID, result.In.RefID)
	require.Equal(t, result.RefID, result.Out.RefID)
	require.Equal(t, MovementTransfer, result.Out.Type)
	require.Equal(t, -1, result.Out.Direction)
	require.Equal(t, 1, result.In.Direction)

	require.InDelta(t, 6, repo.balances[BalanceKey{ProductID: 1, WarehouseID: 10}].Quantity, 1e-9)
	require.InDelta(t, 4, repo.balances[BalanceKey{ProductID: 1, WarehouseID: 20}].Quantity, 1e-9)
	require.Len(t, repo.movements, 3)
}

func TestTransferSameWarehouseRejected(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})

	_, err := svc.Transfer(context.Background(), TransferInput{ProductID: 1, FromWarehouseID: 10, ToWarehouseID: 10, Quantity: 1})
	require.ErrorIs(t, err, ErrSameWarehouse)
}

func TestTransferInsufficientStockRollsBackBothLegs(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 1, WarehouseID: 10, Quantity: 3})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, TransferInput{ProductID: 1, FromWarehouseID: 10, ToWarehouseID: 20, Quantity: 5})
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.Len(t, repo.movements, 1)
	require.InDelta(t, 3, repo.balances[BalanceKey{ProductID: 1, WarehouseID: 10}].Quantity, 1e-9)
	_, ok := repo.balances[BalanceKey{ProductID: 1, WarehouseID: 20}]
	require.False(t, ok, "destination row must not exist after rollback")
}

func TestAdjustSetComputesDeltaUnderLock(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 1, WarehouseID: 10, Quantity: 10})
	require.NoError(t, err)

	mv, err := svc.Adjust(ctx, AdjustInput{ProductID: 1, WarehouseID: 10, Method: AdjustSet, Target: 7, Reason: "recount"})
	require.NoError(t, err)
	require.Equal(t, MovementAdjustment, mv.Type)
	require.InDelta(t, 3, mv.Quantity, 1e-9)
	require.Equal(t, -1, mv.Direction)
	require.Equal(t, "RECOUNT", mv.Reason)
	require.InDelta(t, 7, repo.balances[BalanceKey{ProductID: 1, WarehouseID: 10}].Quantity, 1e-9)
}

func TestAdjustSetToCurrentQuantityIsNoOp(t *testing.T) {
	svc, repo, audit := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 1, WarehouseID: 10, Quantity: 7})
	require.NoError(t, err)

	mv, err := svc.Adjust(ctx, AdjustInput{ProductID: 1, WarehouseID: 10, Method: AdjustSet, Target: 7, Reason: "RECOUNT"})
	require.NoError(t, err)
	require.Zero(t, mv.ID)
	require.Len(t, repo.movements, 1)
	require.Len(t, audit.logs, 1, "no-op adjustment must not be audited")
}

func TestAdjustDecreaseBelowZeroRejected(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 1, WarehouseID: 10, Quantity: 2})
	require.NoError(t, err)

	_, err = svc.Adjust(ctx, AdjustInput{ProductID: 1, WarehouseID: 10, Method: AdjustDecrease, Amount: 5, Reason: "DAMAGE"})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestAdjustUnknownReasonRejected(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})

	_, err := svc.Adjust(context.Background(), AdjustInput{ProductID: 1, WarehouseID: 10, Method: AdjustIncrease, Amount: 1, Reason: "VIBES"})
	require.ErrorIs(t, err, ErrUnknownReason)
}

func TestBatchRequiredForTrackedProduct(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})

	_, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 2, WarehouseID: 10, Quantity: 5})
	require.ErrorIs(t, err, ErrBatchRequired)
}

func TestBatchAttributeConflict(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	expiry := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 2, WarehouseID: 10, Quantity: 5, BatchNumber: "LOT-1", ExpiryDate: &expiry})
	require.NoError(t, err)

	other := expiry.AddDate(0, 1, 0)
	_, err = svc.Receive(ctx, ReceiveInput{ProductID: 2, WarehouseID: 10, Quantity: 5, BatchNumber: "LOT-1", ExpiryDate: &other})
	require.ErrorIs(t, err, ErrBatchConflict)
}

func TestBatchBalancesAreKeyedPerBatch(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 2, WarehouseID: 10, Quantity: 5, BatchNumber: "LOT-1"})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, ReceiveInput{ProductID: 2, WarehouseID: 10, Quantity: 3, BatchNumber: "LOT-2"})
	require.NoError(t, err)

	_, err = svc.ConfirmSale(ctx, SaleInput{ProductID: 2, WarehouseID: 10, Quantity: 4, BatchNumber: "LOT-1"})
	require.NoError(t, err)

	lot1 := repo.batches[batchKey(2, "LOT-1")]
	lot2 := repo.batches[batchKey(2, "LOT-2")]
	require.InDelta(t, 1, repo.balances[BalanceKey{ProductID: 2, WarehouseID: 10, BatchID: lot1.ID}].Quantity, 1e-9)
	require.InDelta(t, 3, repo.balances[BalanceKey{ProductID: 2, WarehouseID: 10, BatchID: lot2.ID}].Quantity, 1e-9)

	// selling more than the named batch holds fails even though the product
	// has stock in another batch.
	_, err = svc.ConfirmSale(ctx, SaleInput{ProductID: 2, WarehouseID: 10, Quantity: 2, BatchNumber: "LOT-1"})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestSaleFromUnknownBatchRejected(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})

	_, err := svc.ConfirmSale(context.Background(), SaleInput{ProductID: 2, WarehouseID: 10, Quantity: 1, BatchNumber: "LOT-9"})
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestSerialLifecycle(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 3, WarehouseID: 10, Quantity: 2, Serials: []string{"SN-1", "SN-2"}})
	require.NoError(t, err)

	_, err = svc.ConfirmSale(ctx, SaleInput{ProductID: 3, WarehouseID: 10, Quantity: 1, Serials: []string{"SN-1"}})
	require.NoError(t, err)
	require.Equal(t, SerialSold, repo.serials[batchKey(3, "SN-1")].Status)

	// a sold unit cannot leave stock twice.
	_, err = svc.ConfirmSale(ctx, SaleInput{ProductID: 3, WarehouseID: 10, Quantity: 1, Serials: []string{"SN-1"}})
	require.ErrorIs(t, err, ErrSerialNotInStock)
}

func TestSerialCountMustMatchQuantity(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})

	_, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 3, WarehouseID: 10, Quantity: 3, Serials: []string{"SN-1", "SN-2"}})
	require.ErrorIs(t, err, ErrSerialCountMismatch)
}

func TestDuplicateSerialRejected(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 3, WarehouseID: 10, Quantity: 1, Serials: []string{"SN-1"}})
	require.NoError(t, err)

	_, err = svc.Receive(ctx, ReceiveInput{ProductID: 3, WarehouseID: 20, Quantity: 1, Serials: []string{"SN-1"}})
	require.ErrorIs(t, err, ErrDuplicateSerial)
}

func TestRetiredSerialReentersStock(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 3, WarehouseID: 10, Quantity: 1, Serials: []string{"SN-1"}})
	require.NoError(t, err)
	_, err = svc.ConfirmSale(ctx, SaleInput{ProductID: 3, WarehouseID: 10, Quantity: 1, Serials: []string{"SN-1"}})
	require.NoError(t, err)

	_, err = svc.Receive(ctx, ReceiveInput{ProductID: 3, WarehouseID: 20, Quantity: 1, Serials: []string{"SN-1"}})
	require.NoError(t, err)
	sr := repo.serials[batchKey(3, "SN-1")]
	require.Equal(t, SerialInStock, sr.Status)
	require.EqualValues(t, 20, sr.WarehouseID)
}

func TestTransferRelocatesSerials(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 3, WarehouseID: 10, Quantity: 2, Serials: []string{"SN-1", "SN-2"}})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, TransferInput{ProductID: 3, FromWarehouseID: 10, ToWarehouseID: 20, Quantity: 1, Serials: []string{"SN-2"}})
	require.NoError(t, err)

	sr := repo.serials[batchKey(3, "SN-2")]
	require.Equal(t, SerialInStock, sr.Status)
	require.EqualValues(t, 20, sr.WarehouseID)

	// the moved unit is no longer issuable at the source.
	_, err = svc.ConfirmSale(ctx, SaleInput{ProductID: 3, WarehouseID: 10, Quantity: 1, Serials: []string{"SN-2"}})
	require.ErrorIs(t, err, ErrSerialNotInStock)
}

func TestSerializedPathsLockBalanceFirst(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 3, WarehouseID: 10, Quantity: 2, Serials: []string{"SN-1", "SN-2"}})
	require.NoError(t, err)
	_, err = svc.ConfirmSale(ctx, SaleInput{ProductID: 3, WarehouseID: 10, Quantity: 1, Serials: []string{"SN-1"}})
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, TransferInput{ProductID: 3, FromWarehouseID: 10, ToWarehouseID: 20, Quantity: 1, Serials: []string{"SN-2"}})
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, AdjustInput{ProductID: 3, WarehouseID: 20, Method: AdjustDecrease, Amount: 1, Reason: "DAMAGE", Serials: []string{"SN-2"}})
	require.NoError(t, err)

	// concurrent writers deadlock unless every path takes the balance row
	// lock before the serial row locks.
	require.False(t, repo.serialsBeforeBalance, "serial rows were locked before the balance row")
}

func TestRebuildRepairsDivergedProjection(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductID: 1, WarehouseID: 10, Quantity: 10})
	require.NoError(t, err)
	_, err = svc.ConfirmSale(ctx, SaleInput{ProductID: 1, WarehouseID: 10, Quantity: 4})
	require.NoError(t, err)

	key := BalanceKey{ProductID: 1, WarehouseID: 10}
	corrupted := repo.balances[key]
	corrupted.Quantity = 99
	corrupted.Available = 99
	repo.balances[key] = corrupted

	result, err := svc.Rebuild(ctx, key)
	require.NoError(t, err)
	require.True(t, result.Diverged)
	require.InDelta(t, 99, result.Previous, 1e-9)
	require.InDelta(t, 6, result.Computed, 1e-9)
	require.InDelta(t, 6, repo.balances[key].Quantity, 1e-9)

	again, err := svc.Rebuild(ctx, key)
	require.NoError(t, err)
	require.False(t, again.Diverged)
}

func TestStockCardRequiresProduct(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})

	_, err := svc.StockCard(context.Background(), StockCardFilter{})
	require.Error(t, err)
}

func TestLookupRejectsUnknownRefs(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})

	_, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 99, WarehouseID: 10, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
