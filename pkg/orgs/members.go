package orgs

import (
	"context"
	"fmt"

	"github.com/colabrix/colabrix/pkg/rbac"
)

// AddMember adds a user to an organization with a role. The role must
// belong to the same organization.
func (s *Service) AddMember(ctx context.Context, organizationID, userID, roleID string, invitedBy *string) (*rbac.Membership, error) {
	role, err := s.rbacStore.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.OrganizationID != organizationID {
		return nil, fmt.Errorf("role %s does not belong to organization %s", roleID, organizationID)
	}

	if _, err := s.rbacStore.GetMembership(ctx, userID, organizationID); err == nil {
		return nil, ErrAlreadyMember
	} else if !rbac.IsNotAMember(err) {
		return nil, err
	}

	m := &rbac.Membership{
		UserID:         userID,
		OrganizationID: organizationID,
		RoleID:         roleID,
		InvitedBy:      invitedBy,
	}
	if err := s.rbacStore.CreateMembership(ctx, m); err != nil {
		return nil, err
	}

	// Non-membership is never cached, but a stale entry can exist if
	// the user was removed and re-added within the TTL.
	if err := s.permissions.InvalidateUser(ctx, userID, organizationID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to invalidate permissions")
	}

	return m, nil
}

// UpdateMemberRole changes a member's role and drops their cached
// permission set so the change is visible immediately.
func (s *Service) UpdateMemberRole(ctx context.Context, organizationID, userID, roleID string) error {
	role, err := s.rbacStore.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.OrganizationID != organizationID {
		return fmt.Errorf("role %s does not belong to organization %s", roleID, organizationID)
	}

	if err := s.rbacStore.UpdateMembershipRole(ctx, userID, organizationID, roleID); err != nil {
		return err
	}

	if err := s.permissions.InvalidateUser(ctx, userID, organizationID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to invalidate permissions")
	}

	return nil
}

// RemoveMember removes a user from an organization. The owner cannot
// be removed; transfer ownership first.
func (s *Service) RemoveMember(ctx context.Context, organizationID, userID string) error {
	org, err := s.GetOrganization(ctx, organizationID)
	if err != nil {
		return err
	}
	if org.OwnerID == userID {
		return ErrCannotRemoveOwner
	}

	if err := s.rbacStore.DeleteMembership(ctx, userID, organizationID); err != nil {
		return err
	}

	if err := s.permissions.InvalidateUser(ctx, userID, organizationID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to invalidate permissions")
	}

	return nil
}

// ListMembers lists the memberships of an organization
func (s *Service) ListMembers(ctx context.Context, organizationID string) ([]rbac.Membership, error) {
	return s.rbacStore.ListMembers(ctx, organizationID)
}

// CreateRole creates a custom role in the organization
func (s *Service) CreateRole(ctx context.Context, role *rbac.Role) error {
	return s.rbacStore.CreateRole(ctx, role)
}

// UpdateRolePermissions updates a custom role and fans the cache
// invalidation out to every member holding it.
func (s *Service) UpdateRolePermissions(ctx context.Context, role *rbac.Role) error {
	if err := s.rbacStore.UpdateRole(ctx, role); err != nil {
		return err
	}

	if err := s.permissions.InvalidateRole(ctx, role.ID); err != nil {
		s.logger.WithError(err).WithField("role_id", role.ID).Warn("failed to invalidate role members")
	}

	return nil
}

// DeleteRole deletes an unused custom role
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	return s.rbacStore.DeleteRole(ctx, roleID)
}
