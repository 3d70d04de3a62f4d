package approval

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/platform/httpx"
	"github.com/meridian-ims/meridian/internal/rbac"
	"github.com/meridian-ims/meridian/internal/shared"
)

// Handler wires the gated stock mutation endpoints and the approval queue.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs the approval handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac}
}

// MountStockRoutes registers the mutation endpoints. Every mutation enters
// through Submit so policy routing applies uniformly.
func (h *Handler) MountStockRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("stock.receive"))
		r.Post("/receipts", h.handleReceive)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("stock.issue"))
		r.Post("/sales", h.handleSale)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("stock.adjust"))
		r.Post("/adjustments", h.handleAdjust)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("stock.transfer"))
		r.Post("/transfers", h.handleTransfer)
	})
}

// MountRoutes registers the approval queue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("approvals.view", "approvals.review"))
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("approvals.review"))
		r.Post("/{id}/review", h.handleReview)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("approvals.manage"))
		r.Get("/policies", h.handleListPolicies)
		r.Put("/policies", h.handleSetPolicy)
	})
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var input ledger.ReceiveInput
	h.submit(w, r, &input, func() ActionPayload { return ActionPayload{Receive: &input} })
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	var input ledger.SaleInput
	h.submit(w, r, &input, func() ActionPayload { return ActionPayload{Sale: &input} })
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var input ledger.AdjustInput
	h.submit(w, r, &input, func() ActionPayload { return ActionPayload{Adjust: &input} })
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var input ledger.TransferInput
	h.submit(w, r, &input, func() ActionPayload { return ActionPayload{Transfer: &input} })
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, input any, payload func() ActionPayload) {
	if err := httpx.DecodeJSON(r, input); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", httpx.ErrValidation))
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	outcome, err := h.service.Submit(r.Context(), payload(), shared.ActorID(r.Context()))
	if err != nil {
		h.logger.Error("submit stock mutation", slog.Any("error", err))
		httpx.RespondError(w, mapError(err))
		return
	}
	if outcome.Pending != nil {
		httpx.JSON(w, http.StatusAccepted, outcome)
		return
	}
	httpx.JSON(w, http.StatusCreated, outcome)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	requests, err := h.service.List(r.Context(), Status(q.Get("status")), limit)
	if err != nil {
		h.logger.Error("list approval requests", slog.Any("error", err))
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	req, err := h.service.Request(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

type reviewRequest struct {
	Decision Decision `json:"decision" validate:"required,oneof=APPROVE REJECT"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	var body reviewRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", httpx.ErrValidation))
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	req, outcome, err := h.service.Review(r.Context(), id, body.Decision, shared.ActorID(r.Context()))
	if err != nil {
		h.logger.Error("review approval request", slog.Any("error", err), slog.Int64("request_id", id))
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"request": req, "outcome": outcome})
}

func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.service.Policies(r.Context())
	if err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (h *Handler) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	var policy Policy
	if err := httpx.DecodeJSON(r, &policy); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", httpx.ErrValidation))
		return
	}
	if err := h.service.SetPolicy(r.Context(), policy, shared.ActorID(r.Context())); err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func requestID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrInvalidDecision):
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, ErrAlreadyDecided),
		errors.Is(err, ErrAlreadyApplied),
		errors.Is(err, shared.ErrIdempotencyConflict):
		return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	case errors.Is(err, ErrSelfReview):
		return fmt.Errorf("%w: %v", httpx.ErrForbidden, err)
	}
	return ledger.MapError(err)
}
