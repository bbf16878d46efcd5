package orgs

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/colabrix/colabrix/pkg/rbac"
)

// CreateInvitation invites an email address to join an organization
// with a role. The returned invitation carries the acceptance token.
func (s *Service) CreateInvitation(ctx context.Context, organizationID, email, roleID, invitedBy string) (*Invitation, error) {
	role, err := s.rbacStore.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.OrganizationID != organizationID {
		return nil, fmt.Errorf("role %s does not belong to organization %s", roleID, organizationID)
	}

	tokenBytes := make([]byte, 24)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	now := s.now()
	inv := &Invitation{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Email:          strings.ToLower(strings.TrimSpace(email)),
		RoleID:         roleID,
		Token:          "inv_" + hex.EncodeToString(tokenBytes),
		InvitedBy:      invitedBy,
		ExpiresAt:      now.Add(InvitationTTL),
		CreatedAt:      now,
	}

	query := `
		INSERT INTO invitations (id, organization_id, email, role_id, token, invited_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.db.ExecContext(ctx, query,
		inv.ID, inv.OrganizationID, inv.Email, inv.RoleID, inv.Token,
		inv.InvitedBy, inv.ExpiresAt, inv.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	return inv, nil
}

// GetInvitationByToken looks an invitation up by its token
func (s *Service) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	query := `
		SELECT id, organization_id, email, role_id, token, invited_by, expires_at, accepted_at, created_at
		FROM invitations
		WHERE token = $1
	`

	inv := &Invitation{}
	var acceptedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &inv.RoleID, &inv.Token,
		&inv.InvitedBy, &inv.ExpiresAt, &acceptedAt, &inv.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	if acceptedAt.Valid {
		at := acceptedAt.Time
		inv.AcceptedAt = &at
	}

	return inv, nil
}

// AcceptInvitation turns a pending invitation into a membership for
// the accepting user.
func (s *Service) AcceptInvitation(ctx context.Context, token, userID string) (*rbac.Membership, error) {
	inv, err := s.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.AcceptedAt != nil {
		return nil, ErrInvitationAccepted
	}
	if !s.now().Before(inv.ExpiresAt) {
		return nil, ErrInvitationExpired
	}

	m, err := s.AddMember(ctx, inv.OrganizationID, userID, inv.RoleID, &inv.InvitedBy)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET accepted_at = $1 WHERE id = $2`,
		s.now(), inv.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}

	return m, nil
}

// CleanupExpiredInvitations deletes unaccepted invitations past their
// expiry. The jobs binary runs this daily.
func (s *Service) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE accepted_at IS NULL AND expires_at < $1`,
		s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up invitations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clean up invitations: %w", err)
	}

	return deleted, nil
}
