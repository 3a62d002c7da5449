package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/odyssey-strategy/internal/audit"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrUnknownRole indicates a stored role outside the hierarchy.
var ErrUnknownRole = errors.New("rbac: unknown role")

// RoleStore reads the role assigned to a user.
type RoleStore interface {
	UserRole(ctx context.Context, userID int64) (string, error)
}

// Resolver derives roles and permission sets for users. Lookups are never cached so a
// role change takes effect on the next request.
type Resolver struct {
	store    RoleStore
	recorder audit.Recorder
	logger   *slog.Logger
}

// NewResolver constructs a Resolver. recorder may be nil.
func NewResolver(store RoleStore, recorder audit.Recorder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = audit.Discard{}
	}
	return &Resolver{store: store, recorder: recorder, logger: logger}
}

// Role returns the user's role, falling back to viewer when the lookup fails or the
// stored value is not part of the hierarchy.
func (r *Resolver) Role(ctx context.Context, userID int64) Role {
	raw, err := r.store.UserRole(ctx, userID)
	if err == nil {
		role, ok := ParseRole(raw)
		if ok {
			return role
		}
		err = fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	r.logger.Warn("rbac role lookup failed, using viewer",
		slog.Int64("user_id", userID),
		slog.Any("error", err),
	)
	r.recorder.Record(ctx, audit.Event{
		Action:      audit.ActionRoleLookupFailed,
		Resource:    audit.ResourceRBAC,
		Description: "role lookup failed; permissions reduced to viewer",
		UserID:      strconv.FormatInt(userID, 10),
		Severity:    audit.SeverityMedium,
		Metadata:    audit.RoleLookupMetadata{Error: err.Error(), FallbackRole: string(RoleViewer)},
	})
	return RoleViewer
}

// Permissions resolves the user's role and its capability set.
func (r *Resolver) Permissions(ctx context.Context, userID int64) (Role, PermissionSet) {
	role := r.Role(ctx, userID)
	return role, PermissionsFor(role)
}

// CanAccess answers a resource/action question for a user.
func (r *Resolver) CanAccess(ctx context.Context, userID int64, resource, action string) bool {
	_, perms := r.Permissions(ctx, userID)
	return CanAccessResource(perms, resource, action)
}
