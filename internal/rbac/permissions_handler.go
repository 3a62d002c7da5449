package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-strategy/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
)

// PermissionsHandler exposes the caller's capabilities to the dashboard client.
type PermissionsHandler struct {
	logger   *slog.Logger
	resolver *Resolver
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, resolver *Resolver) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, resolver: resolver}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/me/permissions", h.myPermissions)
	r.Get("/access", h.checkAccess)
}

type permissionsResponse struct {
	Role        Role          `json:"role"`
	DisplayName string        `json:"display_name"`
	Permissions PermissionSet `json:"permissions"`
	Grants      []string      `json:"grants"`
}

func (h *PermissionsHandler) myPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	role, perms := h.resolver.Permissions(r.Context(), userID)
	httpx.JSON(w, http.StatusOK, permissionsResponse{
		Role:        role,
		DisplayName: role.DisplayName(),
		Permissions: perms,
		Grants:      perms.Grants(),
	})
}

func (h *PermissionsHandler) checkAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	resource := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("resource")))
	action := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("action")))
	if resource == "" || action == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "resource and action are required")
		return
	}
	allowed := h.resolver.CanAccess(r.Context(), userID, resource, action)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"resource": resource,
		"action":   action,
		"allowed":  allowed,
	})
}

func (h *PermissionsHandler) userID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	return ParseUserID(sess.User(), h.logger)
}
