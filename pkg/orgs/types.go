package orgs

import (
	"errors"
	"time"

	"github.com/colabrix/colabrix/pkg/entitlements"
)

// TrialDuration is how long a new organization keeps STANDARD
// features before the billing sweep downgrades it to FREE.
const TrialDuration = 14 * 24 * time.Hour

// InvitationTTL bounds how long an invitation can be accepted.
const InvitationTTL = 7 * 24 * time.Hour

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrAlreadyMember        = errors.New("user is already a member")
	ErrCannotRemoveOwner    = errors.New("the organization owner cannot be removed")
	ErrInvitationNotFound   = errors.New("invitation not found")
	ErrInvitationExpired    = errors.New("invitation has expired")
	ErrInvitationAccepted   = errors.New("invitation was already accepted")
)

// IsOrganizationNotFound reports whether err means the org is missing.
func IsOrganizationNotFound(err error) bool {
	return errors.Is(err, ErrOrganizationNotFound)
}

// Organization is a tenant workspace
type Organization struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Plan        entitlements.Plan `json:"plan"`
	OwnerID     string            `json:"owner_id"`
	TrialEndsAt *time.Time        `json:"trial_ends_at,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Trialing reports whether the organization is inside its trial at
// the given instant.
func (o *Organization) Trialing(now time.Time) bool {
	return o.TrialEndsAt != nil && now.Before(*o.TrialEndsAt)
}

// User is an account that can belong to organizations
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// Invitation is a pending offer to join an organization with a role
type Invitation struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Email          string     `json:"email"`
	RoleID         string     `json:"role_id"`
	Token          string     `json:"token"`
	InvitedBy      string     `json:"invited_by"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
