package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-ims/meridian/internal/platform/httpx"
	"github.com/meridian-ims/meridian/internal/shared"
)

// Handler wires token self-service endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the auth handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers token routes. All of them act on the calling actor's
// own tokens, so authentication is the only requirement.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(requireActor)
	r.Get("/tokens", h.handleList)
	r.Post("/tokens", h.handleIssue)
	r.Delete("/tokens/{id}", h.handleRevoke)
}

func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.ActorFromContext(r.Context()) == nil {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type issueRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", httpx.ErrValidation))
		return
	}
	issued, err := h.service.Issue(r.Context(), shared.ActorID(r.Context()), req.Name)
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":    issued.Token.ID,
		"name":  issued.Token.Name,
		"token": issued.Plaintext,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.service.List(r.Context(), shared.ActorID(r.Context()))
	if err != nil {
		h.logger.Error("list tokens", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	if err := h.service.Revoke(r.Context(), id, shared.ActorID(r.Context())); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: token", httpx.ErrNotFound))
			return
		}
		h.logger.Error("revoke token", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "revoked": true})
}
