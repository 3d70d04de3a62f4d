package ledger

import (
	"context"
	"errors"
	"math"
)

// lockBalance acquires the row lock for one balance key, returning a
// zero-valued row when no projection exists yet. Every mutation path locks
// its balance rows before touching serial rows, so concurrent writers take
// locks in one order.
func lockBalance(ctx context.Context, tx TxRepository, key BalanceKey) (Balance, error) {
	balance, err := tx.GetBalanceForUpdate(ctx, key)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{Key: key}, nil
	}
	if err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// applyToLocked projects a signed delta onto a balance row the caller has
// already locked. The negative-stock gate lives here so every write path
// shares it; hitting it aborts the whole transaction, log append included.
func (s *Service) applyToLocked(ctx context.Context, tx TxRepository, balance Balance, delta float64) (Balance, error) {
	newQty := balance.Quantity + delta
	if math.Abs(newQty) < qtyEpsilon {
		newQty = 0
	}
	if !s.allowNeg && newQty < -qtyEpsilon {
		return Balance{}, ErrInsufficientStock
	}
	balance.Quantity = newQty
	balance.Available = newQty
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// Rebuild recomputes one balance from the movement log and repairs the
// projection if it diverged. Used for integrity verification; safe to run
// concurrently with writers because it holds the same row lock they do.
func (s *Service) Rebuild(ctx context.Context, key BalanceKey) (RebuildResult, error) {
	var result RebuildResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := lockBalance(ctx, tx, key)
		if err != nil {
			return err
		}
		computed, err := tx.SumMovements(ctx, key)
		if err != nil {
			return err
		}
		result = RebuildResult{
			Key:      key,
			Previous: balance.Quantity,
			Computed: computed,
			Diverged: math.Abs(balance.Quantity-computed) > qtyEpsilon,
		}
		if !result.Diverged {
			return nil
		}
		balance.Quantity = computed
		balance.Available = computed
		return tx.UpsertBalance(ctx, balance)
	})
	if err != nil {
		return RebuildResult{}, err
	}
	if result.Diverged && s.metrics != nil {
		s.metrics.ObserveRebuildDrift()
	}
	return result, nil
}

func keyWithBatch(productID, warehouseID int64, batchID *int64) BalanceKey {
	key := BalanceKey{ProductID: productID, WarehouseID: warehouseID}
	if batchID != nil {
		key.BatchID = *batchID
	}
	return key
}
