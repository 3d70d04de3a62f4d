package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-ims/meridian/internal/catalog"
	"github.com/meridian-ims/meridian/internal/shared"
)

// CatalogPort supplies read-only master data. Missing or inactive rows
// surface as shared.ErrNotFound.
type CatalogPort interface {
	Product(ctx context.Context, id int64) (catalog.Product, error)
	Warehouse(ctx context.Context, id int64) (catalog.Warehouse, error)
}

// AuditPort receives one structured fact per committed mutation.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts committed movements and rebuild drift.
// observability.Metrics satisfies it.
type MetricsPort interface {
	ObserveMovement(movementType string)
	ObserveRebuildDrift()
}

// ServiceConfig groups engine policy read from configuration.
type ServiceConfig struct {
	AllowNegativeStock bool
	AdjustmentReasons  []string
	Metrics            MetricsPort
}

// Service is the stock ledger engine. Every mutation appends to the movement
// log and updates the balance projection inside one transaction; on any
// validation failure the whole unit rolls back.
type Service struct {
	repo     RepositoryPort
	catalog  CatalogPort
	audit    AuditPort
	metrics  MetricsPort
	allowNeg bool
	reasons  map[string]struct{}
}

// NewService builds Service.
func NewService(repo RepositoryPort, cat CatalogPort, audit AuditPort, cfg ServiceConfig) *Service {
	reasons := make(map[string]struct{}, len(cfg.AdjustmentReasons))
	for _, r := range cfg.AdjustmentReasons {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r != "" {
			reasons[r] = struct{}{}
		}
	}
	return &Service{repo: repo, catalog: cat, audit: audit, metrics: cfg.Metrics, allowNeg: cfg.AllowNegativeStock, reasons: reasons}
}

// Quantities are float64 like the rest of the schema; comparisons tolerate
// rounding noise below this threshold.
const qtyEpsilon = 1e-4

// Receive posts an inbound movement (purchase receive or manual receipt).
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (Movement, error) {
	if input.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	product, warehouse, err := s.lookupRefs(ctx, input.ProductID, input.WarehouseID)
	if err != nil {
		return Movement{}, err
	}
	refType := input.RefType
	if refType == "" {
		refType = RefManual
	}
	refID, err := parseOrNewRef(input.RefID)
	if err != nil {
		return Movement{}, err
	}

	var mv Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batchID, err := s.resolveBatch(ctx, tx, product, input.BatchNumber, input.ExpiryDate, input.MfgDate, true)
		if err != nil {
			return err
		}
		balance, err := lockBalance(ctx, tx, keyWithBatch(product.ID, warehouse.ID, batchID))
		if err != nil {
			return err
		}
		if product.TracksSerials {
			if err := s.receiveSerials(ctx, tx, product.ID, warehouse.ID, input.Quantity, input.Serials); err != nil {
				return err
			}
		}
		mv = Movement{
			ProductID:   product.ID,
			WarehouseID: warehouse.ID,
			Type:        MovementIn,
			Quantity:    input.Quantity,
			Direction:   1,
			RefType:     refType,
			RefID:       refID,
			BatchID:     batchID,
			Note:        input.Note,
			CreatedBy:   input.ActorID,
			CreatedAt:   time.Now().UTC(),
		}
		if mv.ID, err = tx.AppendMovement(ctx, mv); err != nil {
			return err
		}
		_, err = s.applyToLocked(ctx, tx, balance, mv.Signed())
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.observeMovement(mv.Type)
	s.recordAudit(ctx, input.ActorID, "ledger:RECEIVE", mv)
	return mv, nil
}

// ConfirmSale posts the outbound movement for a confirmed sale. Serialized
// products must designate the specific units leaving stock.
func (s *Service) ConfirmSale(ctx context.Context, input SaleInput) (Movement, error) {
	if input.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	product, warehouse, err := s.lookupRefs(ctx, input.ProductID, input.WarehouseID)
	if err != nil {
		return Movement{}, err
	}
	refID, err := parseOrNewRef(input.RefID)
	if err != nil {
		return Movement{}, err
	}

	var mv Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batchID, err := s.resolveBatch(ctx, tx, product, input.BatchNumber, nil, nil, false)
		if err != nil {
			return err
		}
		balance, err := lockBalance(ctx, tx, keyWithBatch(product.ID, warehouse.ID, batchID))
		if err != nil {
			return err
		}
		if product.TracksSerials {
			if err := s.issueSerials(ctx, tx, product.ID, warehouse.ID, input.Quantity, input.Serials, SerialSold); err != nil {
				return err
			}
		}
		mv = Movement{
			ProductID:   product.ID,
			WarehouseID: warehouse.ID,
			Type:        MovementOut,
			Quantity:    input.Quantity,
			Direction:   -1,
			RefType:     RefSale,
			RefID:       refID,
			BatchID:     batchID,
			Note:        input.Note,
			CreatedBy:   input.ActorID,
			CreatedAt:   time.Now().UTC(),
		}
		if mv.ID, err = tx.AppendMovement(ctx, mv); err != nil {
			return err
		}
		_, err = s.applyToLocked(ctx, tx, balance, mv.Signed())
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.observeMovement(mv.Type)
	s.recordAudit(ctx, input.ActorID, "ledger:SALE_CONFIRM", mv)
	return mv, nil
}

// StockCard lists the ordered movement log for one product, optionally
// narrowed to a warehouse or batch.
func (s *Service) StockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	if filter.ProductID == 0 {
		return nil, errors.New("ledger: product required")
	}
	return s.repo.ListMovements(ctx, filter)
}

// Balances lists projection rows.
func (s *Service) Balances(ctx context.Context, productID, warehouseID int64) ([]Balance, error) {
	return s.repo.ListBalances(ctx, productID, warehouseID)
}

// BalanceKeys enumerates every projected key.
func (s *Service) BalanceKeys(ctx context.Context) ([]BalanceKey, error) {
	return s.repo.ListBalanceKeys(ctx)
}

func (s *Service) lookupRefs(ctx context.Context, productID, warehouseID int64) (catalog.Product, catalog.Warehouse, error) {
	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return catalog.Product{}, catalog.Warehouse{}, fmt.Errorf("ledger: product %d: %w", productID, err)
	}
	warehouse, err := s.catalog.Warehouse(ctx, warehouseID)
	if err != nil {
		return catalog.Product{}, catalog.Warehouse{}, fmt.Errorf("ledger: warehouse %d: %w", warehouseID, err)
	}
	return product, warehouse, nil
}

func (s *Service) observeMovement(t MovementType) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveMovement(string(t))
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, mv Movement) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%d", mv.ID),
		Meta: map[string]any{
			"product_id":   mv.ProductID,
			"warehouse_id": mv.WarehouseID,
			"type":         string(mv.Type),
			"qty":          mv.Signed(),
			"reference":    string(mv.RefType),
			"reference_id": mv.RefID.String(),
		},
	})
}

func parseOrNewRef(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ledger: invalid reference id: %w", err)
	}
	return id, nil
}
