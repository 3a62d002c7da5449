package rbac

// Resource names understood by CanAccessResource.
const (
	ResourceGoals       = "goals"
	ResourceInitiatives = "initiatives"
	ResourceTeams       = "teams"
	ResourceUsers       = "users"
	ResourceERP         = "erp"
	ResourceReports     = "reports"
	ResourceAudit       = "audit"
	ResourceSettings    = "settings"
	ResourceTactical    = "tactical"
)

// Actions understood by CanAccessResource.
const (
	ActionView      = "view"
	ActionCreate    = "create"
	ActionEdit      = "edit"
	ActionDelete    = "delete"
	ActionManage    = "manage"
	ActionExport    = "export"
	ActionConfigure = "configure"
)

// PermissionSet is the flat capability record derived from a role.
type PermissionSet struct {
	CanViewGoals   bool `json:"canViewGoals"`
	CanCreateGoals bool `json:"canCreateGoals"`
	CanEditGoals   bool `json:"canEditGoals"`
	CanDeleteGoals bool `json:"canDeleteGoals"`

	CanViewInitiatives   bool `json:"canViewInitiatives"`
	CanCreateInitiatives bool `json:"canCreateInitiatives"`
	CanEditInitiatives   bool `json:"canEditInitiatives"`
	CanDeleteInitiatives bool `json:"canDeleteInitiatives"`

	CanViewTeams   bool `json:"canViewTeams"`
	CanManageTeams bool `json:"canManageTeams"`

	CanViewUsers   bool `json:"canViewUsers"`
	CanManageUsers bool `json:"canManageUsers"`

	CanViewERP      bool `json:"canViewErp"`
	CanConfigureERP bool `json:"canConfigureErp"`

	CanViewReports   bool `json:"canViewReports"`
	CanExportReports bool `json:"canExportReports"`

	CanViewAuditLogs   bool `json:"canViewAuditLogs"`
	CanManageSettings  bool `json:"canManageSettings"`
	CanViewTactical    bool `json:"canViewTactical"`
	CanCommandTactical bool `json:"canCommandTactical"`
}

// capability binds one PermissionSet field to its minimum role.
type capability struct {
	resource string
	action   string
	minimum  Role
	set      func(*PermissionSet, bool)
	get      func(PermissionSet) bool
}

// thresholds is the single source of truth for every flag. Each flag depends only on the
// role and its own minimum, which keeps the set monotonic in the hierarchy.
var thresholds = []capability{
	{ResourceGoals, ActionView, RoleViewer, func(p *PermissionSet, v bool) { p.CanViewGoals = v }, func(p PermissionSet) bool { return p.CanViewGoals }},
	{ResourceGoals, ActionCreate, RoleAnalyst, func(p *PermissionSet, v bool) { p.CanCreateGoals = v }, func(p PermissionSet) bool { return p.CanCreateGoals }},
	{ResourceGoals, ActionEdit, RoleAnalyst, func(p *PermissionSet, v bool) { p.CanEditGoals = v }, func(p PermissionSet) bool { return p.CanEditGoals }},
	{ResourceGoals, ActionDelete, RoleManager, func(p *PermissionSet, v bool) { p.CanDeleteGoals = v }, func(p PermissionSet) bool { return p.CanDeleteGoals }},

	{ResourceInitiatives, ActionView, RoleViewer, func(p *PermissionSet, v bool) { p.CanViewInitiatives = v }, func(p PermissionSet) bool { return p.CanViewInitiatives }},
	{ResourceInitiatives, ActionCreate, RoleManager, func(p *PermissionSet, v bool) { p.CanCreateInitiatives = v }, func(p PermissionSet) bool { return p.CanCreateInitiatives }},
	{ResourceInitiatives, ActionEdit, RoleManager, func(p *PermissionSet, v bool) { p.CanEditInitiatives = v }, func(p PermissionSet) bool { return p.CanEditInitiatives }},
	{ResourceInitiatives, ActionDelete, RoleAdmin, func(p *PermissionSet, v bool) { p.CanDeleteInitiatives = v }, func(p PermissionSet) bool { return p.CanDeleteInitiatives }},

	{ResourceTeams, ActionView, RoleViewer, func(p *PermissionSet, v bool) { p.CanViewTeams = v }, func(p PermissionSet) bool { return p.CanViewTeams }},
	{ResourceTeams, ActionManage, RoleManager, func(p *PermissionSet, v bool) { p.CanManageTeams = v }, func(p PermissionSet) bool { return p.CanManageTeams }},

	{ResourceUsers, ActionView, RoleManager, func(p *PermissionSet, v bool) { p.CanViewUsers = v }, func(p PermissionSet) bool { return p.CanViewUsers }},
	{ResourceUsers, ActionManage, RoleAdmin, func(p *PermissionSet, v bool) { p.CanManageUsers = v }, func(p PermissionSet) bool { return p.CanManageUsers }},

	{ResourceERP, ActionView, RoleAnalyst, func(p *PermissionSet, v bool) { p.CanViewERP = v }, func(p PermissionSet) bool { return p.CanViewERP }},
	{ResourceERP, ActionConfigure, RoleAdmin, func(p *PermissionSet, v bool) { p.CanConfigureERP = v }, func(p PermissionSet) bool { return p.CanConfigureERP }},

	{ResourceReports, ActionView, RoleAnalyst, func(p *PermissionSet, v bool) { p.CanViewReports = v }, func(p PermissionSet) bool { return p.CanViewReports }},
	{ResourceReports, ActionExport, RoleManager, func(p *PermissionSet, v bool) { p.CanExportReports = v }, func(p PermissionSet) bool { return p.CanExportReports }},

	{ResourceAudit, ActionView, RoleAdmin, func(p *PermissionSet, v bool) { p.CanViewAuditLogs = v }, func(p PermissionSet) bool { return p.CanViewAuditLogs }},
	{ResourceSettings, ActionManage, RoleSuperuser, func(p *PermissionSet, v bool) { p.CanManageSettings = v }, func(p PermissionSet) bool { return p.CanManageSettings }},
	{ResourceTactical, ActionView, RoleManager, func(p *PermissionSet, v bool) { p.CanViewTactical = v }, func(p PermissionSet) bool { return p.CanViewTactical }},
	{ResourceTactical, ActionManage, RoleAdmin, func(p *PermissionSet, v bool) { p.CanCommandTactical = v }, func(p PermissionSet) bool { return p.CanCommandTactical }},
}

// PermissionsFor derives the capability flags for a role. Unknown roles get viewer flags.
func PermissionsFor(role Role) PermissionSet {
	if !role.Valid() {
		role = RoleViewer
	}
	var perms PermissionSet
	for _, c := range thresholds {
		c.set(&perms, HasMinimumRole(role, c.minimum))
	}
	return perms
}

// CanAccessResource dispatches on resource then action. Anything not enumerated is denied.
func CanAccessResource(perms PermissionSet, resource, action string) bool {
	for _, c := range thresholds {
		if c.resource == resource && c.action == action {
			return c.get(perms)
		}
	}
	return false
}

// MinimumRoleFor returns the threshold for a resource/action pair.
func MinimumRoleFor(resource, action string) (Role, bool) {
	for _, c := range thresholds {
		if c.resource == resource && c.action == action {
			return c.minimum, true
		}
	}
	return "", false
}

// Grants lists the "resource.action" names enabled in the set, in table order.
func (p PermissionSet) Grants() []string {
	out := make([]string, 0, len(thresholds))
	for _, c := range thresholds {
		if c.get(p) {
			out = append(out, c.resource+"."+c.action)
		}
	}
	return out
}
