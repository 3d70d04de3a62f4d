package ledger

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Adjust posts a stock adjustment. increase and decrease apply the given
// amount; set computes the delta against the current on-hand quantity under
// the same row lock that protects the write.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Movement, error) {
	switch input.Method {
	case AdjustIncrease, AdjustDecrease:
		if input.Amount <= 0 {
			return Movement{}, ErrInvalidQuantity
		}
	case AdjustSet:
		if input.Target < 0 {
			return Movement{}, ErrInvalidQuantity
		}
	default:
		return Movement{}, errors.New("ledger: unknown adjustment method")
	}
	reason := strings.ToUpper(strings.TrimSpace(input.Reason))
	if _, ok := s.reasons[reason]; !ok {
		return Movement{}, ErrUnknownReason
	}
	product, warehouse, err := s.lookupRefs(ctx, input.ProductID, input.WarehouseID)
	if err != nil {
		return Movement{}, err
	}

	var mv Movement
	applied := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batchID, err := s.resolveBatch(ctx, tx, product, input.BatchNumber, nil, nil, input.Method == AdjustIncrease)
		if err != nil {
			return err
		}
		balance, err := lockBalance(ctx, tx, keyWithBatch(product.ID, warehouse.ID, batchID))
		if err != nil {
			return err
		}

		var delta float64
		switch input.Method {
		case AdjustIncrease:
			delta = input.Amount
		case AdjustDecrease:
			delta = -input.Amount
		case AdjustSet:
			delta = input.Target - balance.Quantity
		}
		if math.Abs(delta) < qtyEpsilon {
			// set landed on the current quantity; nothing to record.
			mv = Movement{ProductID: product.ID, WarehouseID: warehouse.ID, Type: MovementAdjustment, Reason: reason, BatchID: batchID}
			return nil
		}

		if product.TracksSerials {
			if delta > 0 {
				if err := s.receiveSerials(ctx, tx, product.ID, warehouse.ID, delta, input.Serials); err != nil {
					return err
				}
			} else {
				if err := s.issueSerials(ctx, tx, product.ID, warehouse.ID, -delta, input.Serials, SerialDamaged); err != nil {
					return err
				}
			}
		}

		direction := 1
		quantity := delta
		if delta < 0 {
			direction = -1
			quantity = -delta
		}
		mv = Movement{
			ProductID:   product.ID,
			WarehouseID: warehouse.ID,
			Type:        MovementAdjustment,
			Quantity:    quantity,
			Direction:   direction,
			RefType:     RefAdjustment,
			RefID:       uuid.New(),
			BatchID:     batchID,
			Reason:      reason,
			Note:        input.Note,
			CreatedBy:   input.ActorID,
			CreatedAt:   time.Now().UTC(),
		}
		id, err := tx.AppendMovement(ctx, mv)
		if err != nil {
			return err
		}
		mv.ID = id
		if _, err := s.applyToLocked(ctx, tx, balance, mv.Signed()); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	if applied {
		s.observeMovement(mv.Type)
		s.recordAudit(ctx, input.ActorID, "ledger:ADJUSTMENT", mv)
	}
	return mv, nil
}
