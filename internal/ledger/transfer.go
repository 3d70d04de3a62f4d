package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Transfer moves stock between warehouses as two linked movements sharing
// one reference id. Both legs commit or neither does; the balance rows are
// locked in stable key order so opposite concurrent transfers cannot
// deadlock.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if input.FromWarehouseID == input.ToWarehouseID {
		return TransferResult{}, ErrSameWarehouse
	}
	if input.Quantity <= 0 {
		return TransferResult{}, ErrInvalidQuantity
	}
	product, source, err := s.lookupRefs(ctx, input.ProductID, input.FromWarehouseID)
	if err != nil {
		return TransferResult{}, err
	}
	dest, err := s.catalog.Warehouse(ctx, input.ToWarehouseID)
	if err != nil {
		return TransferResult{}, err
	}
	refID := uuid.New()

	var result TransferResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batchID, err := s.resolveBatch(ctx, tx, product, input.BatchNumber, nil, nil, false)
		if err != nil {
			return err
		}
		srcKey := keyWithBatch(product.ID, source.ID, batchID)
		dstKey := keyWithBatch(product.ID, dest.ID, batchID)
		balances, err := lockBalances(ctx, tx, srcKey, dstKey)
		if err != nil {
			return err
		}
		if product.TracksSerials {
			if err := s.relocateSerials(ctx, tx, product.ID, source.ID, dest.ID, input.Quantity, input.Serials); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		out := Movement{
			ProductID:   product.ID,
			WarehouseID: source.ID,
			Type:        MovementTransfer,
			Quantity:    input.Quantity,
			Direction:   -1,
			RefType:     RefTransfer,
			RefID:       refID,
			BatchID:     batchID,
			Note:        input.Note,
			CreatedBy:   input.ActorID,
			CreatedAt:   now,
		}
		in := out
		in.WarehouseID = dest.ID
		in.Direction = 1

		if out.ID, err = tx.AppendMovement(ctx, out); err != nil {
			return err
		}
		if in.ID, err = tx.AppendMovement(ctx, in); err != nil {
			return err
		}
		if _, err := s.applyToLocked(ctx, tx, balances[srcKey], out.Signed()); err != nil {
			return err
		}
		if _, err := s.applyToLocked(ctx, tx, balances[dstKey], in.Signed()); err != nil {
			return err
		}
		result = TransferResult{RefID: refID, Out: out, In: in}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.observeMovement(result.Out.Type)
	s.observeMovement(result.In.Type)
	s.recordAudit(ctx, input.ActorID, "ledger:TRANSFER", result.Out)
	s.recordAudit(ctx, input.ActorID, "ledger:TRANSFER", result.In)
	return result, nil
}

// lockBalances acquires row locks for every key in one stable order and
// returns the locked rows, zero-valued for keys without a projection yet.
func lockBalances(ctx context.Context, tx TxRepository, keys ...BalanceKey) (map[BalanceKey]Balance, error) {
	ordered := make([]BalanceKey, len(keys))
	copy(ordered, keys)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	balances := make(map[BalanceKey]Balance, len(ordered))
	for _, key := range ordered {
		balance, err := lockBalance(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		balances[key] = balance
	}
	return balances, nil
}
