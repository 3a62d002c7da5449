package rbac

import "context"

type roleContextKey struct{}

type resolvedRole struct {
	userID int64
	role   Role
}

// ContextWithRole records a role already resolved for userID during this request.
func ContextWithRole(ctx context.Context, userID int64, role Role) context.Context {
	return context.WithValue(ctx, roleContextKey{}, resolvedRole{userID: userID, role: role})
}

// RoleFromContext returns the role resolved earlier in the request for userID.
func RoleFromContext(ctx context.Context, userID int64) (Role, bool) {
	got, ok := ctx.Value(roleContextKey{}).(resolvedRole)
	if !ok || got.userID != userID || !got.role.Valid() {
		return "", false
	}
	return got.role, true
}
