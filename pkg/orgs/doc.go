// Package orgs manages organizations, users, and the membership
// lifecycle: creating an organization with its system roles and owner
// membership in one transaction, inviting and removing members, and
// switching plans. Every write that affects authorization invalidates
// the relevant permission or entitlement cache entries after commit.
package orgs
