package rbac

import (
	"errors"
	"fmt"
)

// ErrNotAMember is returned when a user has no membership in the
// organization. It is distinct from PermissionDeniedError: outsiders
// and under-privileged members get different HTTP responses.
var ErrNotAMember = errors.New("not a member of organization")

// ErrRoleNotFound is returned when a role lookup matches nothing.
var ErrRoleNotFound = errors.New("role not found")

// ErrSystemRole is returned on attempts to modify or delete one of the
// built-in Admin, Member, or Viewer roles.
var ErrSystemRole = errors.New("system roles cannot be modified")

// ErrRoleInUse is returned when deleting a role that still has members
// assigned to it.
var ErrRoleInUse = errors.New("role is assigned to members")

// IsNotAMember reports whether err means the user is not in the org.
func IsNotAMember(err error) bool {
	return errors.Is(err, ErrNotAMember)
}

// PermissionDeniedError is returned when a member's role does not
// grant the required permission.
type PermissionDeniedError struct {
	UserID         string
	OrganizationID string
	Permission     Permission
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: user %s lacks %s in organization %s",
		e.UserID, e.Permission, e.OrganizationID)
}

// IsPermissionDenied reports whether err is a PermissionDeniedError.
func IsPermissionDenied(err error) bool {
	var pde *PermissionDeniedError
	return errors.As(err, &pde)
}
