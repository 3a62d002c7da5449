package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-strategy/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// RequireAccess ensures the current user may perform action on resource. A role
// already resolved upstream in the request is reused instead of read again.
func (m Middleware) RequireAccess(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.currentUserID(r)
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			if m.canAccess(r, userID, resource, action) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", resource+"."+action)
		})
	}
}

// RequireRole ensures the current user meets at least one minimum role.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	required := RequiredRoles(roles...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := m.currentUserID(r)
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			role, ok := RoleFromContext(r.Context(), userID)
			if !ok {
				role = m.Resolver.Role(r.Context(), userID)
			}
			if HasAnyRole(role, required) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		})
	}
}

func (m Middleware) canAccess(r *http.Request, userID int64, resource, action string) bool {
	if role, ok := RoleFromContext(r.Context(), userID); ok {
		return CanAccessResource(PermissionsFor(role), resource, action)
	}
	return m.Resolver.CanAccess(r.Context(), userID, resource, action)
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	return ParseUserID(sess.User(), m.Logger)
}

// ParseUserID converts the session user value into a numeric id.
func ParseUserID(raw string, logger *slog.Logger) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		if logger != nil {
			logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}
