package rbac

// crudResources get the four standard actions in the catalog.
var crudResources = []Resource{
	ResourceOrganizations,
	ResourceMembers,
	ResourceRoles,
	ResourceProjects,
	ResourceTasks,
}

// AllPermissions returns the full permission catalog. Custom roles may
// only be granted permissions from this list.
func AllPermissions() []Permission {
	perms := make([]Permission, 0, len(crudResources)*4+4)
	for _, r := range crudResources {
		for _, a := range []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete} {
			perms = append(perms, Permission{Resource: r, Action: a})
		}
	}
	perms = append(perms,
		Permission{Resource: ResourceAIFeatures, Action: ActionUse},
		Permission{Resource: ResourceAnalytics, Action: ActionView},
		Permission{Resource: ResourceExports, Action: ActionCreate},
		Permission{Resource: ResourceBilling, Action: ActionManage},
	)
	return perms
}

// IsKnownPermission reports whether p is in the catalog.
func IsKnownPermission(p Permission) bool {
	for _, known := range AllPermissions() {
		if known == p {
			return true
		}
	}
	return false
}

// SystemRoles returns the role definitions created with every
// organization. IDs are assigned at creation time. Admin holds the
// full catalog, Member every read and create permission, Viewer
// starts with none.
func SystemRoles() []Role {
	var memberPerms []Permission
	for _, p := range AllPermissions() {
		if p.Action == ActionRead || p.Action == ActionCreate {
			memberPerms = append(memberPerms, p)
		}
	}

	return []Role{
		{
			Name:        RoleAdmin,
			Description: "Full access to organization",
			IsSystem:    true,
			Permissions: AllPermissions(),
		},
		{
			Name:        RoleMember,
			Description: "Standard member access",
			IsSystem:    true,
			Permissions: memberPerms,
		},
		{
			Name:        RoleViewer,
			Description: "Read-only access",
			IsSystem:    true,
			Permissions: []Permission{},
		},
	}
}
