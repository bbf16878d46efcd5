package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store handles role and membership persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRole creates a new role. System roles are inserted through
// CreateSystemRoles at organization creation.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	for _, p := range role.Permissions {
		if !IsKnownPermission(p) {
			return fmt.Errorf("unknown permission %q", p)
		}
	}

	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		INSERT INTO roles (id, organization_id, name, description, permissions, is_system, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx, query,
		role.ID,
		role.OrganizationID,
		role.Name,
		role.Description,
		string(permissionsJSON),
		role.IsSystem,
		now,
		now,
		role.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// CreateSystemRolesTx inserts the Admin, Member, and Viewer roles for
// a new organization inside an existing transaction. It returns the
// roles keyed by name.
func CreateSystemRolesTx(ctx context.Context, tx *sql.Tx, organizationID string) (map[string]*Role, error) {
	roles := make(map[string]*Role)

	query := `
		INSERT INTO roles (id, organization_id, name, description, permissions, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now()
	for _, def := range SystemRoles() {
		role := def
		role.ID = uuid.NewString()
		role.OrganizationID = organizationID
		role.CreatedAt = now
		role.UpdatedAt = now

		permissionsJSON, err := json.Marshal(role.Permissions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal permissions: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query,
			role.ID,
			role.OrganizationID,
			role.Name,
			role.Description,
			string(permissionsJSON),
			role.IsSystem,
			now,
			now,
		); err != nil {
			return nil, fmt.Errorf("failed to create system role %s: %w", role.Name, err)
		}

		roles[role.Name] = &role
	}

	return roles, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID string) (*Role, error) {
	query := `
		SELECT id, organization_id, name, description, permissions, is_system, created_at, updated_at, created_by
		FROM roles
		WHERE id = $1
	`
	return s.scanRole(s.db.QueryRowContext(ctx, query, roleID))
}

// GetRoleByName retrieves a role by name within an organization
func (s *Store) GetRoleByName(ctx context.Context, organizationID, name string) (*Role, error) {
	query := `
		SELECT id, organization_id, name, description, permissions, is_system, created_at, updated_at, created_by
		FROM roles
		WHERE organization_id = $1 AND name = $2
	`
	return s.scanRole(s.db.QueryRowContext(ctx, query, organizationID, name))
}

func (s *Store) scanRole(row *sql.Row) (*Role, error) {
	var role Role
	var permissionsJSON string
	var createdBy sql.NullString

	err := row.Scan(
		&role.ID,
		&role.OrganizationID,
		&role.Name,
		&role.Description,
		&permissionsJSON,
		&role.IsSystem,
		&role.CreatedAt,
		&role.UpdatedAt,
		&createdBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	if createdBy.Valid {
		cb := createdBy.String
		role.CreatedBy = &cb
	}

	return &role, nil
}

// ListRoles lists all roles of an organization, system roles first
func (s *Store) ListRoles(ctx context.Context, organizationID string) ([]Role, error) {
	query := `
		SELECT id, organization_id, name, description, permissions, is_system, created_at, updated_at, created_by
		FROM roles
		WHERE organization_id = $1
		ORDER BY is_system DESC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		var permissionsJSON string
		var createdBy sql.NullString

		err := rows.Scan(
			&role.ID,
			&role.OrganizationID,
			&role.Name,
			&role.Description,
			&permissionsJSON,
			&role.IsSystem,
			&role.CreatedAt,
			&role.UpdatedAt,
			&createdBy,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}

		if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
		if createdBy.Valid {
			cb := createdBy.String
			role.CreatedBy = &cb
		}

		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// UpdateRole updates a custom role's description and permissions.
// System roles are immutable.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	existing, err := s.GetRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemRole
	}

	for _, p := range role.Permissions {
		if !IsKnownPermission(p) {
			return fmt.Errorf("unknown permission %q", p)
		}
	}

	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		UPDATE roles
		SET description = $1, permissions = $2, updated_at = $3
		WHERE id = $4
	`

	role.UpdatedAt = time.Now()
	if _, err := s.db.ExecContext(ctx, query,
		role.Description,
		string(permissionsJSON),
		role.UpdatedAt,
		role.ID,
	); err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	return nil
}

// DeleteRole deletes a custom role. It refuses system roles and roles
// that still have members.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}

	var memberCount int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE role_id = $1`, roleID,
	).Scan(&memberCount); err != nil {
		return fmt.Errorf("failed to count role members: %w", err)
	}
	if memberCount > 0 {
		return fmt.Errorf("%w: %d members", ErrRoleInUse, memberCount)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	return nil
}

// CreateMembership adds a user to an organization with a role
func (s *Store) CreateMembership(ctx context.Context, m *Membership) error {
	query := `
		INSERT INTO memberships (id, user_id, organization_id, role_id, invited_by, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.UserID,
		m.OrganizationID,
		m.RoleID,
		m.InvitedBy,
		now,
	); err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}

	m.JoinedAt = now
	return nil
}

// GetPermissionSet resolves the role and permissions of a user within
// an organization straight from the database. A missing membership
// returns (nil, nil); the caller decides how to surface it.
func (s *Store) GetPermissionSet(ctx context.Context, userID, organizationID string) (*PermissionSet, error) {
	query := `
		SELECT r.id, r.name, r.permissions
		FROM memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.user_id = $1 AND m.organization_id = $2
	`

	var ps PermissionSet
	var permissionsJSON string

	err := s.db.QueryRowContext(ctx, query, userID, organizationID).Scan(
		&ps.RoleID,
		&ps.RoleName,
		&permissionsJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	if err := json.Unmarshal([]byte(permissionsJSON), &ps.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	return &ps, nil
}

// GetMembership retrieves a user's membership in an organization
func (s *Store) GetMembership(ctx context.Context, userID, organizationID string) (*Membership, error) {
	query := `
		SELECT id, user_id, organization_id, role_id, invited_by, joined_at
		FROM memberships
		WHERE user_id = $1 AND organization_id = $2
	`

	var m Membership
	var invitedBy sql.NullString

	err := s.db.QueryRowContext(ctx, query, userID, organizationID).Scan(
		&m.ID,
		&m.UserID,
		&m.OrganizationID,
		&m.RoleID,
		&invitedBy,
		&m.JoinedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotAMember
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	if invitedBy.Valid {
		ib := invitedBy.String
		m.InvitedBy = &ib
	}

	return &m, nil
}

// UpdateMembershipRole changes a member's role
func (s *Store) UpdateMembershipRole(ctx context.Context, userID, organizationID, roleID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE memberships SET role_id = $1 WHERE user_id = $2 AND organization_id = $3`,
		roleID, userID, organizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update membership role: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update membership role: %w", err)
	}
	if affected == 0 {
		return ErrNotAMember
	}

	return nil
}

// DeleteMembership removes a user from an organization
func (s *Store) DeleteMembership(ctx context.Context, userID, organizationID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE user_id = $1 AND organization_id = $2`,
		userID, organizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	if affected == 0 {
		return ErrNotAMember
	}

	return nil
}

// ListMembers lists all memberships of an organization
func (s *Store) ListMembers(ctx context.Context, organizationID string) ([]Membership, error) {
	query := `
		SELECT id, user_id, organization_id, role_id, invited_by, joined_at
		FROM memberships
		WHERE organization_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	return scanMemberships(rows)
}

// ListMembersByRole lists every membership holding the given role,
// used to fan out cache invalidation after a role edit.
func (s *Store) ListMembersByRole(ctx context.Context, roleID string) ([]Membership, error) {
	query := `
		SELECT id, user_id, organization_id, role_id, invited_by, joined_at
		FROM memberships
		WHERE role_id = $1
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members by role: %w", err)
	}
	defer rows.Close()

	return scanMemberships(rows)
}

func scanMemberships(rows *sql.Rows) ([]Membership, error) {
	var members []Membership
	for rows.Next() {
		var m Membership
		var invitedBy sql.NullString

		err := rows.Scan(
			&m.ID,
			&m.UserID,
			&m.OrganizationID,
			&m.RoleID,
			&invitedBy,
			&m.JoinedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}

		if invitedBy.Valid {
			ib := invitedBy.String
			m.InvitedBy = &ib
		}

		members = append(members, m)
	}

	return members, rows.Err()
}
