package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/colabrix/colabrix/pkg/entitlements"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/rbac"
)

// Service implements organization and membership operations over
// PostgreSQL, with cache invalidation through the injected resolvers.
type Service struct {
	db           *sql.DB
	rbacStore    *rbac.Store
	permissions  *rbac.Resolver
	entitlements *entitlements.Resolver
	logger       *observability.Logger
	now          func() time.Time
}

// NewService creates an organization service
func NewService(db *sql.DB, rbacStore *rbac.Store, permissions *rbac.Resolver, ent *entitlements.Resolver, logger *observability.Logger) *Service {
	return &Service{
		db:           db,
		rbacStore:    rbacStore,
		permissions:  permissions,
		entitlements: ent,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateUser creates a new user account
func (s *Service) CreateUser(ctx context.Context, email, name string) (*User, error) {
	user := &User{
		ID:    uuid.NewString(),
		Email: strings.ToLower(strings.TrimSpace(email)),
		Name:  name,
	}

	query := `
		INSERT INTO users (id, email, name, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	if err := s.db.QueryRowContext(ctx, query, user.ID, user.Email, user.Name, time.Now()).
		Scan(&user.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, `SELECT id, email, name, phone, email_verified, created_at FROM users WHERE id = $1`, id)
}

// GetUserByEmail retrieves a user by email
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, `SELECT id, email, name, phone, email_verified, created_at FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
}

func (s *Service) getUser(ctx context.Context, query string, arg interface{}) (*User, error) {
	user := &User{}
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Email, &user.Name, &phone, &user.EmailVerified, &user.CreatedAt)
	user.Phone = phone.String
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateOrganization creates an organization together with its three
// system roles and the owner's Admin membership, all in one
// transaction. New organizations start a STANDARD trial.
func (s *Service) CreateOrganization(ctx context.Context, name, ownerID string) (*Organization, error) {
	now := s.now()
	trialEnd := now.Add(TrialDuration)
	org := &Organization{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        generateSlug(name),
		Plan:        entitlements.PlanStandard,
		OwnerID:     ownerID,
		TrialEndsAt: &trialEnd,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	settingsJSON, err := json.Marshal(org.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO organizations (id, name, slug, plan, owner_id, trial_ends_at, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.ExecContext(ctx, query,
		org.ID, org.Name, org.Slug, org.Plan, org.OwnerID, org.TrialEndsAt,
		string(settingsJSON), org.CreatedAt, org.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	roles, err := rbac.CreateSystemRolesTx(ctx, tx, org.ID)
	if err != nil {
		return nil, err
	}

	membershipQuery := `
		INSERT INTO memberships (id, user_id, organization_id, role_id, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, membershipQuery,
		uuid.NewString(), ownerID, org.ID, roles[rbac.RoleAdmin].ID, now,
	); err != nil {
		return nil, fmt.Errorf("failed to create owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit organization: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"owner_id":        ownerID,
	}).Info("organization created")

	return org, nil
}

// GetOrganization retrieves an organization by ID
func (s *Service) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	return s.getOrganization(ctx, `
		SELECT id, name, slug, plan, owner_id, trial_ends_at, settings, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`, id)
}

// GetOrganizationBySlug retrieves an organization by slug
func (s *Service) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	return s.getOrganization(ctx, `
		SELECT id, name, slug, plan, owner_id, trial_ends_at, settings, created_at, updated_at
		FROM organizations
		WHERE slug = $1
	`, slug)
}

func (s *Service) getOrganization(ctx context.Context, query string, arg interface{}) (*Organization, error) {
	org := &Organization{}
	var trialEndsAt sql.NullTime
	var settingsJSON []byte

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&org.ID, &org.Name, &org.Slug, &org.Plan, &org.OwnerID,
		&trialEndsAt, &settingsJSON, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	if trialEndsAt.Valid {
		te := trialEndsAt.Time
		org.TrialEndsAt = &te
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &org.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return org, nil
}

// UpdateOrganization updates name and settings
func (s *Service) UpdateOrganization(ctx context.Context, org *Organization) error {
	settingsJSON, err := json.Marshal(org.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	org.UpdatedAt = s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE organizations
		SET name = $1, settings = $2, updated_at = $3
		WHERE id = $4
	`, org.Name, string(settingsJSON), org.UpdatedAt, org.ID)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	if affected == 0 {
		return ErrOrganizationNotFound
	}

	return nil
}

// DeleteOrganization removes an organization. Memberships and roles
// cascade; cached permission and entitlement state is dropped.
func (s *Service) DeleteOrganization(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if affected == 0 {
		return ErrOrganizationNotFound
	}

	if err := s.permissions.InvalidateOrganization(ctx, id); err != nil {
		s.logger.WithError(err).WithField("organization_id", id).Warn("failed to invalidate permissions")
	}
	if err := s.entitlements.InvalidateOrganization(ctx, id); err != nil {
		s.logger.WithError(err).WithField("organization_id", id).Warn("failed to invalidate entitlements")
	}

	return nil
}

// ChangePlan switches the organization to a new plan and clears the
// trial. The cached feature map is invalidated after the write, so
// the next entitlement check sees the new plan.
func (s *Service) ChangePlan(ctx context.Context, organizationID string, plan entitlements.Plan) error {
	if !plan.Valid() {
		return fmt.Errorf("unknown plan %q", plan)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE organizations
		SET plan = $1, trial_ends_at = NULL, updated_at = $2
		WHERE id = $3
	`, plan, s.now(), organizationID)
	if err != nil {
		return fmt.Errorf("failed to change plan: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to change plan: %w", err)
	}
	if affected == 0 {
		return ErrOrganizationNotFound
	}

	if err := s.entitlements.InvalidateOrganization(ctx, organizationID); err != nil {
		s.logger.WithError(err).WithField("organization_id", organizationID).Warn("failed to invalidate entitlements")
	}

	return nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "org"
	}
	// Random suffix keeps slugs unique without a read-check race.
	return slug + "-" + uuid.NewString()[:8]
}
