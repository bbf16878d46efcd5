package entitlements

import (
	"errors"
	"fmt"
)

// ErrOrganizationNotFound is returned when entitlements are requested
// for an organization that does not exist.
var ErrOrganizationNotFound = errors.New("organization not found")

// IsOrganizationNotFound reports whether err wraps ErrOrganizationNotFound.
func IsOrganizationNotFound(err error) bool {
	return errors.Is(err, ErrOrganizationNotFound)
}

// FeatureNotEntitledError is returned when the organization's plan
// does not include a feature.
type FeatureNotEntitledError struct {
	OrganizationID string
	FeatureKey     string
	Plan           Plan
}

func (e *FeatureNotEntitledError) Error() string {
	return fmt.Sprintf("feature %q is not included in plan %s for organization %s",
		e.FeatureKey, e.Plan, e.OrganizationID)
}

// IsFeatureNotEntitled reports whether err is a FeatureNotEntitledError.
func IsFeatureNotEntitled(err error) bool {
	var fne *FeatureNotEntitledError
	return errors.As(err, &fne)
}

// UsageLimitExceededError is returned when a metered feature has hit
// its monthly cap.
type UsageLimitExceededError struct {
	OrganizationID string
	FeatureKey     string
	Current        int64
	Limit          int64
}

func (e *UsageLimitExceededError) Error() string {
	return fmt.Sprintf("usage limit exceeded for feature %q in organization %s: %d/%d this month",
		e.FeatureKey, e.OrganizationID, e.Current, e.Limit)
}

// IsUsageLimitExceeded reports whether err is a UsageLimitExceededError.
func IsUsageLimitExceeded(err error) bool {
	var ule *UsageLimitExceededError
	return errors.As(err, &ule)
}
