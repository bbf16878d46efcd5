package billing

import (
	"errors"
	"time"

	"github.com/colabrix/colabrix/pkg/entitlements"
)

var (
	// ErrSubscriptionNotFound is returned when an organization has no
	// subscription row.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrPlanNotFound is returned when a plan is not in the catalog.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrPlanInUse is returned when deactivating a plan that
	// organizations are still on.
	ErrPlanInUse = errors.New("plan has active organizations")
)

// SubscriptionStatus is the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription links an organization to a paid plan. One subscription
// per organization; provider identifiers tie it back to the payment
// processor.
type Subscription struct {
	ID                     string             `json:"id"`
	OrganizationID         string             `json:"organization_id"`
	Plan                   entitlements.Plan  `json:"plan"`
	Status                 SubscriptionStatus `json:"status"`
	ProviderCustomerID     string             `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID string             `json:"provider_subscription_id,omitempty"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	CanceledAt             *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// Active reports whether the subscription currently entitles the
// organization to its plan.
func (s *Subscription) Active() bool {
	return s.Status == SubscriptionStatusActive
}

// PlanInfo is a catalog entry describing a purchasable plan
type PlanInfo struct {
	Plan       entitlements.Plan `json:"plan"`
	Name       string            `json:"name"`
	PriceCents int64             `json:"price_cents"`
	Interval   string            `json:"interval"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// DefaultPlanCatalog returns the built-in plan catalog
func DefaultPlanCatalog() []PlanInfo {
	return []PlanInfo{
		{Plan: entitlements.PlanFree, Name: "Free", PriceCents: 0, Interval: "month", Active: true},
		{Plan: entitlements.PlanStandard, Name: "Standard", PriceCents: 2900, Interval: "month", Active: true},
		{Plan: entitlements.PlanPremium, Name: "Premium", PriceCents: 9900, Interval: "month", Active: true},
		{Plan: entitlements.PlanEnterprise, Name: "Enterprise", PriceCents: 29900, Interval: "month", Active: true},
	}
}
