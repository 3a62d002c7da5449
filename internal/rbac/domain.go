package rbac

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is a privilege level in the fixed hierarchy.
type Role string

// Roles ordered from least to most privileged.
const (
	RoleViewer    Role = "viewer"
	RoleAnalyst   Role = "analyst"
	RoleManager   Role = "manager"
	RoleAdmin     Role = "admin"
	RoleSuperuser Role = "superuser"
)

// hierarchy is the total order used by every comparison. Index is rank.
var hierarchy = []Role{RoleViewer, RoleAnalyst, RoleManager, RoleAdmin, RoleSuperuser}

var titleCaser = cases.Title(language.English)

// Hierarchy returns a copy of the role order, lowest first.
func Hierarchy() []Role {
	out := make([]Role, len(hierarchy))
	copy(out, hierarchy)
	return out
}

// Rank returns the position of the role in the hierarchy and whether it is known.
func (r Role) Rank() (int, bool) {
	for i, candidate := range hierarchy {
		if candidate == r {
			return i, true
		}
	}
	return 0, false
}

// Valid reports whether the role is part of the hierarchy.
func (r Role) Valid() bool {
	_, ok := r.Rank()
	return ok
}

// DisplayName renders the role for humans.
func (r Role) DisplayName() string {
	return titleCaser.String(string(r))
}

func (r Role) String() string {
	return string(r)
}

// ParseRole normalises raw input. Unknown or empty values map to RoleViewer and ok=false.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return RoleViewer, false
	}
	return role, true
}

// HasMinimumRole reports whether user ranks at or above required. An unknown user role
// ranks as viewer; an unknown required role can never be satisfied.
func HasMinimumRole(user, required Role) bool {
	requiredRank, ok := required.Rank()
	if !ok {
		return false
	}
	userRank, _ := user.Rank()
	return userRank >= requiredRank
}

// HasAnyRole reports whether user satisfies at least one of the required roles.
// An empty requirement is always satisfied.
func HasAnyRole(user Role, required []Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if HasMinimumRole(user, r) {
			return true
		}
	}
	return false
}

// RequiredRoles normalises role requirements, skipping blanks. Unknown names are kept
// verbatim so that HasMinimumRole rejects them.
func RequiredRoles(raw ...string) []Role {
	roles := make([]Role, 0, len(raw))
	for _, value := range raw {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		roles = append(roles, Role(value))
	}
	return roles
}
