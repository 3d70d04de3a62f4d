package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian/internal/catalog"
	jobmetrics "github.com/meridian-ims/meridian/internal/jobs"
	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/shared"
)

type stubBalanceSource struct {
	mu       sync.Mutex
	keys     []ledger.BalanceKey
	diverged map[ledger.BalanceKey]bool
	rebuilt  int
	failOn   *ledger.BalanceKey
}

func (s *stubBalanceSource) BalanceKeys(_ context.Context) ([]ledger.BalanceKey, error) {
	return s.keys, nil
}

func (s *stubBalanceSource) Rebuild(_ context.Context, key ledger.BalanceKey) (ledger.RebuildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != nil && *s.failOn == key {
		return ledger.RebuildResult{}, errors.New("rebuild failed")
	}
	s.rebuilt++
	return ledger.RebuildResult{Key: key, Diverged: s.diverged[key]}, nil
}

func scheduledTask(t *testing.T, taskType string) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: time.Now().UTC()})
	require.NoError(t, err)
	return asynq.NewTask(taskType, body)
}

func TestLedgerIntegrityJobRebuildsEveryKey(t *testing.T) {
	keys := []ledger.BalanceKey{
		{ProductID: 1, WarehouseID: 10},
		{ProductID: 1, WarehouseID: 20},
		{ProductID: 2, WarehouseID: 10, BatchID: 3},
	}
	source := &stubBalanceSource{
		keys:     keys,
		diverged: map[ledger.BalanceKey]bool{keys[2]: true},
	}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewLedgerIntegrityJob(source, slog.Default(), metrics)

	err := job.Handle(context.Background(), scheduledTask(t, TaskLedgerIntegrity))
	require.NoError(t, err)
	require.Equal(t, len(keys), source.rebuilt)
}

func TestLedgerIntegrityJobPropagatesRebuildError(t *testing.T) {
	keys := []ledger.BalanceKey{{ProductID: 1, WarehouseID: 10}}
	source := &stubBalanceSource{keys: keys, failOn: &keys[0]}
	job := NewLedgerIntegrityJob(source, slog.Default(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), scheduledTask(t, TaskLedgerIntegrity))
	require.Error(t, err)
}

func TestLedgerIntegrityJobSkipsRetryOnBadPayload(t *testing.T) {
	source := &stubBalanceSource{}
	job := NewLedgerIntegrityJob(source, slog.Default(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, source.rebuilt)
}

type stubReorderSource struct {
	products []catalog.Product
	fallback float64
}

func (s *stubReorderSource) ListBelowReorder(_ context.Context, fallback float64) ([]catalog.Product, error) {
	s.fallback = fallback
	return s.products, nil
}

type stubAuditSink struct {
	logs []shared.AuditLog
}

func (s *stubAuditSink) Record(_ context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func TestLowStockJobAuditsFlaggedProducts(t *testing.T) {
	source := &stubReorderSource{products: []catalog.Product{
		{ID: 1, SKU: "SKU-1", ReorderLevel: 10},
		{ID: 2, SKU: "SKU-2", ReorderLevel: 5},
	}}
	audit := &stubAuditSink{}
	job := NewLowStockJob(source, audit, slog.Default(), jobmetrics.NewMetrics(prometheus.NewRegistry()), 3)

	err := job.Handle(context.Background(), scheduledTask(t, TaskLowStock))
	require.NoError(t, err)
	require.InDelta(t, 3, source.fallback, 1e-9)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "jobs:LOW_STOCK", audit.logs[0].Action)
	require.Equal(t, 2, audit.logs[0].Meta["count"])
}

func TestLowStockJobSkipsAuditWhenClean(t *testing.T) {
	audit := &stubAuditSink{}
	job := NewLowStockJob(&stubReorderSource{}, audit, slog.Default(), jobmetrics.NewMetrics(prometheus.NewRegistry()), 0)

	err := job.Handle(context.Background(), scheduledTask(t, TaskLowStock))
	require.NoError(t, err)
	require.Empty(t, audit.logs)
}

func TestTaskConstructorsCarrySchedule(t *testing.T) {
	at := time.Date(2026, 3, 1, 1, 45, 0, 0, time.UTC)
	task, err := NewLedgerIntegrityTask(at)
	require.NoError(t, err)
	require.Equal(t, TaskLedgerIntegrity, task.Type())

	var payload ScheduledPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.True(t, payload.ScheduledFor.Equal(at))
}
