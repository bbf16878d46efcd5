package entitlements

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodOf(t *testing.T) {
	assert.Equal(t, "2026-08", PeriodOf(time.Date(2026, 8, 29, 15, 4, 5, 0, time.UTC)))
	// Local time close to a month boundary buckets by UTC.
	loc := time.FixedZone("UTC+10", 10*3600)
	assert.Equal(t, "2026-08", PeriodOf(time.Date(2026, 9, 1, 8, 0, 0, 0, loc)))
}

func TestOrgFeaturesHelpers(t *testing.T) {
	of := &OrgFeatures{
		Plan: PlanStandard,
		Features: map[string]PlanFeature{
			"ai_assistant": {FeatureKey: "ai_assistant", Enabled: true, Limit: limit(100)},
			"legacy_mode":  {FeatureKey: "legacy_mode", Enabled: false},
		},
	}

	assert.True(t, of.Enabled("ai_assistant"))
	assert.False(t, of.Enabled("legacy_mode"))
	assert.False(t, of.Enabled("custom_branding"))
	assert.Nil(t, of.Feature("custom_branding"))

	pf := of.Feature("ai_assistant")
	assert.NotNil(t, pf)
	assert.EqualValues(t, 100, *pf.Limit)
}

func TestPlanValid(t *testing.T) {
	for _, p := range []Plan{PlanFree, PlanStandard, PlanPremium, PlanEnterprise} {
		assert.True(t, p.Valid())
	}
	assert.False(t, Plan("GOLD").Valid())
}

func TestCatalogPlansOnlyGrantKnownFeatures(t *testing.T) {
	known := make(map[string]bool)
	for _, f := range FeatureCatalog() {
		known[f.Key] = true
	}

	for plan, features := range DefaultPlanFeatures() {
		for _, pf := range features {
			assert.True(t, known[pf.FeatureKey], "%s grants unknown feature %s", plan, pf.FeatureKey)
		}
	}
}

func TestStandardPlanAIAssistantLimit(t *testing.T) {
	grid := DefaultPlanFeatures()

	var standard *PlanFeature
	for _, pf := range grid[PlanStandard] {
		if pf.FeatureKey == "ai_assistant" {
			pf := pf
			standard = &pf
		}
	}
	assert.NotNil(t, standard)
	assert.True(t, standard.Enabled)
	assert.EqualValues(t, 100, *standard.Limit)

	// Enterprise is unmetered.
	for _, pf := range grid[PlanEnterprise] {
		if pf.FeatureKey == "ai_assistant" {
			assert.Nil(t, pf.Limit)
		}
	}
}

func TestErrorHelpers(t *testing.T) {
	notEntitled := &FeatureNotEntitledError{OrganizationID: "o1", FeatureKey: "ai_assistant", Plan: PlanFree}
	assert.True(t, IsFeatureNotEntitled(notEntitled))
	assert.False(t, IsUsageLimitExceeded(notEntitled))
	assert.Contains(t, notEntitled.Error(), "ai_assistant")

	exceeded := &UsageLimitExceededError{OrganizationID: "o1", FeatureKey: "ai_assistant", Current: 100, Limit: 100}
	assert.True(t, IsUsageLimitExceeded(exceeded))
	assert.Contains(t, exceeded.Error(), "100/100")

	wrapped := fmt.Errorf("resolve: %w", ErrOrganizationNotFound)
	assert.True(t, IsOrganizationNotFound(wrapped))
	assert.False(t, IsOrganizationNotFound(errors.New("other")))
}

func TestParseUsageKey(t *testing.T) {
	org, feature, period, ok := parseUsageKey("org:o1:feature:ai_assistant:usage:2026-08")
	assert.True(t, ok)
	assert.Equal(t, "o1", org)
	assert.Equal(t, "ai_assistant", feature)
	assert.Equal(t, "2026-08", period)

	_, _, _, ok = parseUsageKey("session:sess_abc")
	assert.False(t, ok)
	_, _, _, ok = parseUsageKey("org:o1:features")
	assert.False(t, ok)
}
