package entitlements

import "time"

// Plan is a subscription tier
type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanStandard   Plan = "STANDARD"
	PlanPremium    Plan = "PREMIUM"
	PlanEnterprise Plan = "ENTERPRISE"
)

// Valid reports whether p is a known plan
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanStandard, PlanPremium, PlanEnterprise:
		return true
	}
	return false
}

// Feature is a product capability gated by plan
type Feature struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PlanFeature is a feature's availability within one plan. A nil
// Limit means unmetered; a non-nil Limit caps uses per calendar month.
type PlanFeature struct {
	FeatureKey string            `json:"feature_key"`
	Enabled    bool              `json:"enabled"`
	Limit      *int64            `json:"limit,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OrgFeatures is the resolved entitlement state of an organization.
// It is what the resolver caches under org:<id>:features.
type OrgFeatures struct {
	OrganizationID string                 `json:"organization_id"`
	Plan           Plan                   `json:"plan"`
	Features       map[string]PlanFeature `json:"features"`
}

// Feature returns the entitlement entry for key, nil when the plan
// does not include it at all.
func (of *OrgFeatures) Feature(key string) *PlanFeature {
	if pf, ok := of.Features[key]; ok {
		return &pf
	}
	return nil
}

// Enabled reports whether the feature is usable on this plan
func (of *OrgFeatures) Enabled(key string) bool {
	pf := of.Feature(key)
	return pf != nil && pf.Enabled
}

// UsageRecord is one month's durable usage row for a metered feature
type UsageRecord struct {
	OrganizationID string    `json:"organization_id"`
	FeatureKey     string    `json:"feature_key"`
	Period         string    `json:"period"` // YYYY-MM
	Count          int64     `json:"count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PeriodOf returns the calendar-month bucket of t in UTC, e.g.
// "2026-08". Counters and durable rows share this format.
func PeriodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}
