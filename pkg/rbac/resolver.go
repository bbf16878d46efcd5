package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/colabrix/colabrix/pkg/cache"
	"github.com/colabrix/colabrix/pkg/observability"
)

// Resolver answers "what can this user do in this organization",
// caching the resolved PermissionSet in Redis. Membership and role
// writes must go through the service layer, which invalidates the
// affected entries after commit.
type Resolver struct {
	store   *Store
	cache   *cache.Cache
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a permission resolver. metrics may be nil.
func NewResolver(store *Store, c *cache.Cache, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		cache:   c,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

func permissionsKey(userID, organizationID string) string {
	return "user:" + userID + ":org:" + organizationID + ":permissions"
}

// Resolve returns the user's permission set in the organization,
// from cache when fresh. Non-members get ErrNotAMember; that outcome
// is resolved from the store every time and never cached, so a user
// added moments later is seen immediately.
func (r *Resolver) Resolve(ctx context.Context, userID, organizationID string) (*PermissionSet, error) {
	ps, found, err := cache.GetOrLoad(ctx, r.cache, permissionsKey(userID, organizationID), r.ttl,
		func(ctx context.Context) (*PermissionSet, bool, error) {
			loaded, err := r.store.GetPermissionSet(ctx, userID, organizationID)
			if err != nil {
				return nil, false, err
			}
			return loaded, loaded != nil, nil
		})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: user %s in organization %s", ErrNotAMember, userID, organizationID)
	}
	return ps, nil
}

// Check verifies that the user holds the permission in the
// organization. It returns nil when allowed, ErrNotAMember for
// outsiders, and PermissionDeniedError for under-privileged members.
func (r *Resolver) Check(ctx context.Context, userID, organizationID string, p Permission) error {
	ps, err := r.Resolve(ctx, userID, organizationID)
	if err != nil {
		if IsNotAMember(err) {
			r.checked("not_a_member")
		} else {
			r.checked("error")
		}
		return err
	}

	if !ps.Has(p) {
		r.checked("denied")
		return &PermissionDeniedError{
			UserID:         userID,
			OrganizationID: organizationID,
			Permission:     p,
		}
	}

	r.checked("allowed")
	return nil
}

// InvalidateUser drops the cached permission set of one (user,
// organization) pair. Called after membership writes.
func (r *Resolver) InvalidateUser(ctx context.Context, userID, organizationID string) error {
	return r.cache.Invalidate(ctx, permissionsKey(userID, organizationID))
}

// InvalidateOrganization drops every cached permission set of an
// organization, e.g. when the organization is deleted.
func (r *Resolver) InvalidateOrganization(ctx context.Context, organizationID string) error {
	_, err := r.cache.InvalidatePattern(ctx, "user:*:org:"+organizationID+":permissions")
	return err
}

// InvalidateRole drops the cached permission sets of every member
// holding the role. Called after a role's permissions change.
func (r *Resolver) InvalidateRole(ctx context.Context, roleID string) error {
	members, err := r.store.ListMembersByRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("invalidate role %s: %w", roleID, err)
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, permissionsKey(m.UserID, m.OrganizationID))
	}
	if len(keys) == 0 {
		return nil
	}

	return r.cache.Invalidate(ctx, keys...)
}

func (r *Resolver) checked(result string) {
	if r.metrics != nil {
		r.metrics.PermissionChecksTotal.WithLabelValues(result).Inc()
	}
}
