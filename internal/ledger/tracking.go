package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/meridian-ims/meridian/internal/catalog"
)

// resolveBatch maps a batch number to its id, creating the batch lazily when
// createIfAbsent is set (receives). Batch-tracked products must name a batch;
// attribute mismatches against an existing batch fail the whole unit.
func (s *Service) resolveBatch(ctx context.Context, tx TxRepository, product catalog.Product, batchNumber string, expiry, mfg *time.Time, createIfAbsent bool) (*int64, error) {
	batchNumber = strings.TrimSpace(batchNumber)
	if batchNumber == "" {
		if product.TracksBatches {
			return nil, ErrBatchRequired
		}
		return nil, nil
	}
	batch, err := tx.FindBatch(ctx, product.ID, batchNumber)
	if err == nil {
		if datesConflict(batch.ExpiryDate, expiry) || datesConflict(batch.MfgDate, mfg) {
			return nil, fmt.Errorf("%w: batch %s", ErrBatchConflict, batchNumber)
		}
		return &batch.ID, nil
	}
	if !errors.Is(err, ErrBatchNotFound) {
		return nil, err
	}
	if !createIfAbsent {
		return nil, fmt.Errorf("ledger: batch %s: %w", batchNumber, ErrBatchNotFound)
	}
	id, err := tx.InsertBatch(ctx, Batch{ProductID: product.ID, BatchNumber: batchNumber, ExpiryDate: expiry, MfgDate: mfg})
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// receiveSerials enforces the receive-side identity rules: serial count must
// equal the quantity, no duplicates within the request, and no serial may
// already be IN_STOCK anywhere. Previously retired serials (SOLD, DAMAGED,
// RETURNED) re-enter stock at the receiving warehouse.
func (s *Service) receiveSerials(ctx context.Context, tx TxRepository, productID, warehouseID int64, quantity float64, serialNumbers []string) error {
	serials, err := normalizeSerials(quantity, serialNumbers)
	if err != nil {
		return err
	}
	existing, err := tx.FindSerialsForUpdate(ctx, productID, serials)
	if err != nil {
		return err
	}
	known := make(map[string]Serial, len(existing))
	for _, sr := range existing {
		known[sr.SerialNumber] = sr
	}
	for _, number := range serials {
		if sr, ok := known[number]; ok {
			if sr.Status == SerialInStock {
				return fmt.Errorf("%w: %s", ErrDuplicateSerial, number)
			}
			if err := tx.UpdateSerial(ctx, productID, number, SerialInStock, warehouseID); err != nil {
				return err
			}
			continue
		}
		if err := tx.InsertSerial(ctx, Serial{ProductID: productID, SerialNumber: number, Status: SerialInStock, WarehouseID: warehouseID}); err != nil {
			return err
		}
	}
	return nil
}

// issueSerials enforces the outbound rules: the designated serials must
// exactly cover the quantity and each must be IN_STOCK at the source
// warehouse. Each unit transitions to the given terminal status.
func (s *Service) issueSerials(ctx context.Context, tx TxRepository, productID, warehouseID int64, quantity float64, serialNumbers []string, to SerialStatus) error {
	serials, err := normalizeSerials(quantity, serialNumbers)
	if err != nil {
		return err
	}
	existing, err := tx.FindSerialsForUpdate(ctx, productID, serials)
	if err != nil {
		return err
	}
	known := make(map[string]Serial, len(existing))
	for _, sr := range existing {
		known[sr.SerialNumber] = sr
	}
	for _, number := range serials {
		sr, ok := known[number]
		if !ok || sr.Status != SerialInStock || sr.WarehouseID != warehouseID {
			return fmt.Errorf("%w: %s", ErrSerialNotInStock, number)
		}
		if err := tx.UpdateSerial(ctx, productID, number, to, warehouseID); err != nil {
			return err
		}
	}
	return nil
}

// relocateSerials moves IN_STOCK units between warehouses during a transfer.
func (s *Service) relocateSerials(ctx context.Context, tx TxRepository, productID, fromWarehouseID, toWarehouseID int64, quantity float64, serialNumbers []string) error {
	serials, err := normalizeSerials(quantity, serialNumbers)
	if err != nil {
		return err
	}
	existing, err := tx.FindSerialsForUpdate(ctx, productID, serials)
	if err != nil {
		return err
	}
	known := make(map[string]Serial, len(existing))
	for _, sr := range existing {
		known[sr.SerialNumber] = sr
	}
	for _, number := range serials {
		sr, ok := known[number]
		if !ok || sr.Status != SerialInStock || sr.WarehouseID != fromWarehouseID {
			return fmt.Errorf("%w: %s", ErrSerialNotInStock, number)
		}
		if err := tx.UpdateSerial(ctx, productID, number, SerialInStock, toWarehouseID); err != nil {
			return err
		}
	}
	return nil
}

// normalizeSerials trims, deduplicates and checks the count against the
// movement quantity, which must be a whole number for serialized stock.
func normalizeSerials(quantity float64, serialNumbers []string) ([]string, error) {
	units := math.Round(quantity)
	if math.Abs(quantity-units) > qtyEpsilon || units <= 0 {
		return nil, ErrSerialCountMismatch
	}
	seen := make(map[string]struct{}, len(serialNumbers))
	serials := make([]string, 0, len(serialNumbers))
	for _, raw := range serialNumbers {
		number := strings.TrimSpace(raw)
		if number == "" {
			continue
		}
		if _, dup := seen[number]; dup {
			return nil, fmt.Errorf("%w: %s repeated in request", ErrDuplicateSerial, number)
		}
		seen[number] = struct{}{}
		serials = append(serials, number)
	}
	if len(serials) != int(units) {
		return nil, ErrSerialCountMismatch
	}
	return serials, nil
}

func datesConflict(stored, supplied *time.Time) bool {
	if stored == nil || supplied == nil {
		return false
	}
	return !stored.Equal(*supplied)
}
