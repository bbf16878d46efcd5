package rbac

import (
	"time"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourceOrganizations Resource = "organizations"
	ResourceMembers       Resource = "members"
	ResourceRoles         Resource = "roles"
	ResourceProjects      Resource = "projects"
	ResourceTasks         Resource = "tasks"
	ResourceAIFeatures    Resource = "ai_features"
	ResourceAnalytics     Resource = "analytics"
	ResourceExports       Resource = "exports"
	ResourceBilling       Resource = "billing"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionUse    Action = "use"
	ActionView   Action = "view"
	ActionManage Action = "manage"
)

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// String returns the canonical "resource:action" form
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// Role represents a named set of permissions within an organization
type Role struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	Permissions    []Permission `json:"permissions"`
	IsSystem       bool         `json:"is_system"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	CreatedBy      *string      `json:"created_by,omitempty"`
}

// System role names, created with every organization
const (
	RoleAdmin  = "Admin"
	RoleMember = "Member"
	RoleViewer = "Viewer"
)

// Membership links a user to an organization with exactly one role
type Membership struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	RoleID         string    `json:"role_id"`
	InvitedBy      *string   `json:"invited_by,omitempty"`
	JoinedAt       time.Time `json:"joined_at"`
}

// PermissionSet is the resolved authorization state of a (user,
// organization) pair. It is what the resolver caches.
type PermissionSet struct {
	RoleID      string       `json:"role_id"`
	RoleName    string       `json:"role_name"`
	Permissions []Permission `json:"permissions"`
}

// Has reports whether the set grants the given permission
func (ps *PermissionSet) Has(p Permission) bool {
	for _, granted := range ps.Permissions {
		if granted == p {
			return true
		}
	}
	return false
}

// HasAll reports whether the set grants every given permission
func (ps *PermissionSet) HasAll(perms ...Permission) bool {
	for _, p := range perms {
		if !ps.Has(p) {
			return false
		}
	}
	return true
}
