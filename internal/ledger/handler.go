package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-ims/meridian/internal/platform/httpx"
	"github.com/meridian-ims/meridian/internal/rbac"
	"github.com/meridian-ims/meridian/internal/shared"
)

// Handler wires the read and maintenance endpoints of the stock ledger.
// Mutations are mounted by the approval gate so policy routing applies.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("stock.view"))
		r.Get("/card", h.handleStockCard)
		r.Get("/balances", h.handleBalances)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("stock.rebuild"))
		r.Post("/balances/rebuild", h.handleRebuild)
	})
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := StockCardFilter{
		ProductID:   queryInt(q.Get("product_id")),
		WarehouseID: queryInt(q.Get("warehouse_id")),
		BatchID:     queryInt(q.Get("batch_id")),
		Limit:       int(queryInt(q.Get("limit"))),
	}
	if filter.ProductID == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: product_id required", httpx.ErrValidation))
		return
	}
	var err error
	if filter.From, err = queryDate(q.Get("from"), false); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid from date", httpx.ErrValidation))
		return
	}
	if filter.To, err = queryDate(q.Get("to"), true); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid to date", httpx.ErrValidation))
		return
	}
	movements, err := h.service.StockCard(r.Context(), filter)
	if err != nil {
		h.logger.Error("stock card", slog.Any("error", err))
		httpx.RespondError(w, MapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	balances, err := h.service.Balances(r.Context(), queryInt(q.Get("product_id")), queryInt(q.Get("warehouse_id")))
	if err != nil {
		h.logger.Error("list balances", slog.Any("error", err))
		httpx.RespondError(w, MapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": balances})
}

type rebuildRequest struct {
	ProductID   int64 `json:"product_id"`
	WarehouseID int64 `json:"warehouse_id"`
	BatchID     int64 `json:"batch_id"`
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", httpx.ErrValidation))
		return
	}
	if req.ProductID == 0 || req.WarehouseID == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: product_id and warehouse_id required", httpx.ErrValidation))
		return
	}
	key := BalanceKey{ProductID: req.ProductID, WarehouseID: req.WarehouseID, BatchID: req.BatchID}
	result, err := h.service.Rebuild(r.Context(), key)
	if err != nil {
		h.logger.Error("rebuild balance", slog.Any("error", err), slog.Int64("product_id", key.ProductID))
		httpx.RespondError(w, MapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// MapError translates engine errors to transport sentinels so handlers in
// this module and the approval gate respond consistently.
func MapError(err error) error {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, shared.ErrForbidden):
		return fmt.Errorf("%w: %v", httpx.ErrForbidden, err)
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrBatchConflict),
		errors.Is(err, ErrDuplicateSerial):
		return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrSameWarehouse),
		errors.Is(err, ErrUnknownReason):
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, ErrBatchRequired),
		errors.Is(err, ErrBatchNotFound),
		errors.Is(err, ErrSerialCountMismatch),
		errors.Is(err, ErrSerialNotInStock):
		return fmt.Errorf("%w: %v", httpx.ErrUnprocessable, err)
	}
	return err
}

func queryInt(raw string) int64 {
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func queryDate(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
