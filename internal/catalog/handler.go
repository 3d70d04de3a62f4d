package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-ims/meridian/internal/platform/httpx"
	"github.com/meridian-ims/meridian/internal/rbac"
	"github.com/meridian-ims/meridian/internal/shared"
)

// Handler wires catalog HTTP endpoints.
type Handler struct {
	logger           *slog.Logger
	service          *Service
	validate         *validator.Validate
	rbac             rbac.Middleware
	lowStockFallback float64
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, rbac rbac.Middleware, lowStockFallback float64) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac, lowStockFallback: lowStockFallback}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("catalog.view"))
		r.Get("/products", h.handleListProducts)
		r.Get("/products/low-stock", h.handleLowStock)
		r.Get("/products/{id}", h.handleGetProduct)
		r.Get("/warehouses", h.handleListWarehouses)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("catalog.edit"))
		r.Post("/products", h.handleCreateProduct)
		r.Put("/products/{id}", h.handleUpdateProduct)
		r.Post("/warehouses", h.handleCreateWarehouse)
		r.Put("/warehouses/{id}", h.handleUpdateWarehouse)
	})
}

type productRequest struct {
	SKU           string  `json:"sku" validate:"required"`
	Name          string  `json:"name" validate:"required"`
	TracksBatches bool    `json:"tracks_batches"`
	TracksSerials bool    `json:"tracks_serials"`
	ReorderLevel  float64 `json:"reorder_level" validate:"gte=0"`
	IsActive      *bool   `json:"is_active,omitempty"`
}

type warehouseRequest struct {
	Code     string `json:"code" validate:"required"`
	Name     string `json:"name" validate:"required"`
	IsActive *bool  `json:"is_active,omitempty"`
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	products, pagination, err := h.service.ListProducts(r.Context(), q.Get("search"), page, perPage)
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products, "pagination": pagination})
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	product, err := h.service.Product(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListBelowReorder(r.Context(), h.lowStockFallback)
	if err != nil {
		h.logger.Error("list low stock", slog.Any("error", err))
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}
	product, err := h.service.CreateProduct(r.Context(), req)
	if err != nil {
		h.logger.Error("create product", slog.Any("error", err))
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	req, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}
	if err := h.service.UpdateProduct(r.Context(), id, req); err != nil {
		h.logger.Error("update product", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id})
}

func (h *Handler) handleListWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := h.service.ListWarehouses(r.Context())
	if err != nil {
		h.logger.Error("list warehouses", slog.Any("error", err))
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouses": warehouses})
}

func (h *Handler) handleCreateWarehouse(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeWarehouse(w, r)
	if !ok {
		return
	}
	warehouse, err := h.service.CreateWarehouse(r.Context(), req)
	if err != nil {
		h.logger.Error("create warehouse", slog.Any("error", err))
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusCreated, warehouse)
}

func (h *Handler) handleUpdateWarehouse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	req, ok := h.decodeWarehouse(w, r)
	if !ok {
		return
	}
	if err := h.service.UpdateWarehouse(r.Context(), id, req); err != nil {
		h.logger.Error("update warehouse", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id})
}

func (h *Handler) decodeProduct(w http.ResponseWriter, r *http.Request) (Product, bool) {
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", httpx.ErrValidation))
		return Product{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return Product{}, false
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return Product{
		SKU:           req.SKU,
		Name:          req.Name,
		TracksBatches: req.TracksBatches,
		TracksSerials: req.TracksSerials,
		ReorderLevel:  req.ReorderLevel,
		IsActive:      active,
	}, true
}

func (h *Handler) decodeWarehouse(w http.ResponseWriter, r *http.Request) (Warehouse, bool) {
	var req warehouseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", httpx.ErrValidation))
		return Warehouse{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return Warehouse{}, false
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return Warehouse{Code: req.Code, Name: req.Name, IsActive: active}, true
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, ErrDuplicateSKU):
		return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	}
	return err
}
