package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-ims/meridian/internal/platform/httpx"
)

// Handler manages role and permission administration.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewHandler builds the rbac admin handler.
func NewHandler(logger *slog.Logger, service *Service, rbac Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers rbac admin routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("rbac.view", "rbac.manage"))
		r.Get("/roles", h.handleListRoles)
		r.Get("/permissions", h.handleListPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("rbac.manage"))
		r.Post("/roles", h.handleCreateRole)
		r.Post("/permissions", h.handleEnsurePermission)
		r.Delete("/roles/{id}", h.handleDeleteRole)
		r.Put("/roles/{id}/permissions", h.handleSetRolePermissions)
		r.Post("/users/{id}/roles", h.handleAssignRole)
		r.Delete("/users/{id}/roles/{roleID}", h.handleRemoveRole)
	})
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type roleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", httpx.ErrValidation))
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		h.logger.Error("create role", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

type permissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) handleEnsurePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Name == "" {
		httpx.RespondError(w, fmt.Errorf("%w: name required", httpx.ErrValidation))
		return
	}
	perm, err := h.service.EnsurePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		h.logger.Error("ensure permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: role", httpx.ErrNotFound))
			return
		}
		h.logger.Error("delete role", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id})
}

type rolePermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

func (h *Handler) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	var req rolePermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", httpx.ErrValidation))
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), id, req.PermissionIDs); err != nil {
		h.logger.Error("set role permissions", slog.Any("error", err), slog.Int64("role_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": id})
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "id")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.RoleID <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: role_id required", httpx.ErrValidation))
		return
	}
	if err := h.service.AssignRole(r.Context(), userID, req.RoleID); err != nil {
		h.logger.Error("assign role", slog.Any("error", err), slog.Int64("user_id", userID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "role_id": req.RoleID})
}

func (h *Handler) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "id")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	roleID, err := pathInt(r, "roleID")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid role id", httpx.ErrValidation))
		return
	}
	if err := h.service.RemoveRole(r.Context(), userID, roleID); err != nil {
		h.logger.Error("remove role", slog.Any("error", err), slog.Int64("user_id", userID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "role_id": roleID})
}

func pathInt(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}
