// Package rbac implements role-based access control for organizations.
//
// Every user holds exactly one role per organization through a
// membership row. Roles are org-scoped; the three system roles
// (Admin, Member, Viewer) are created with the organization and cannot
// be edited or deleted. The Resolver caches the resolved permission
// set per (user, organization) pair in Redis and invalidates it after
// every membership or role write.
package rbac
