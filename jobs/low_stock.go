package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-ims/meridian/internal/catalog"
	jobmetrics "github.com/meridian-ims/meridian/internal/jobs"
	"github.com/meridian-ims/meridian/internal/shared"
)

// ReorderSource is the slice of the catalog the low stock job needs.
type ReorderSource interface {
	ListBelowReorder(ctx context.Context, fallback float64) ([]catalog.Product, error)
}

// AuditSink records the sweep outcome; shared.AuditLogger satisfies it.
type AuditSink interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LowStockJob flags products whose total on-hand quantity dropped below the
// reorder level. Products without a level use the configured fallback.
type LowStockJob struct {
	Catalog  ReorderSource
	Audit    AuditSink
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Fallback float64
}

// NewLowStockJob initialises the low stock handler.
func NewLowStockJob(source ReorderSource, audit AuditSink, logger *slog.Logger, metrics *jobmetrics.Metrics, fallback float64) *LowStockJob {
	return &LowStockJob{Catalog: source, Audit: audit, Logger: logger, Metrics: metrics, Fallback: fallback}
}

// Handle executes the low stock scan.
func (j *LowStockJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("low stock: handler not configured")
	}
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskLowStock)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	products, err := j.Catalog.ListBelowReorder(ctx, j.Fallback)
	if err != nil {
		resultErr = err
		return err
	}
	for _, p := range products {
		j.Logger.Warn("product below reorder level",
			slog.Int64("product_id", p.ID),
			slog.String("sku", p.SKU),
			slog.Float64("reorder_level", p.ReorderLevel),
		)
	}
	j.Metrics.AddLowStock(len(products))
	if j.Audit != nil && len(products) > 0 {
		skus := make([]string, 0, len(products))
		for _, p := range products {
			skus = append(skus, p.SKU)
		}
		_ = j.Audit.Record(ctx, shared.AuditLog{
			Action:   "jobs:LOW_STOCK",
			Entity:   "product",
			EntityID: "sweep",
			Meta:     map[string]any{"count": len(products), "skus": skus},
		})
	}
	return nil
}
