package entitlements

func limit(n int64) *int64 { return &n }

// FeatureCatalog returns the known features. The seeder writes these
// to the features table; the database is authoritative at runtime.
func FeatureCatalog() []Feature {
	return []Feature{
		{Key: "ai_assistant", Name: "AI Assistant", Description: "AI-powered assistant for tasks", Category: "ai"},
		{Key: "advanced_analytics", Name: "Advanced Analytics", Description: "Detailed analytics and reports", Category: "analytics"},
		{Key: "custom_branding", Name: "Custom Branding", Description: "Customize with your brand", Category: "customization"},
		{Key: "priority_support", Name: "Priority Support", Description: "24/7 priority customer support", Category: "support"},
		{Key: "unlimited_projects", Name: "Unlimited Projects", Description: "Create unlimited projects", Category: "limits"},
		{Key: "team_collaboration", Name: "Team Collaboration", Description: "Advanced team collaboration tools", Category: "collaboration"},
		{Key: "data_export", Name: "Data Export", Description: "Export data in multiple formats", Category: "data"},
		{Key: "api_access", Name: "API Access", Description: "Full API access for integrations", Category: "integration"},
	}
}

// DefaultPlanFeatures returns the feature grid per plan, used to seed
// the plan_features table. A nil limit means unlimited.
func DefaultPlanFeatures() map[Plan][]PlanFeature {
	return map[Plan][]PlanFeature{
		PlanFree: {
			{FeatureKey: "team_collaboration", Enabled: true, Limit: limit(5)},
			{FeatureKey: "data_export", Enabled: true, Limit: limit(10)},
		},
		PlanStandard: {
			{FeatureKey: "team_collaboration", Enabled: true, Limit: limit(20)},
			{FeatureKey: "advanced_analytics", Enabled: true},
			{FeatureKey: "data_export", Enabled: true, Limit: limit(50)},
			{FeatureKey: "ai_assistant", Enabled: true, Limit: limit(100)},
		},
		PlanPremium: {
			{FeatureKey: "team_collaboration", Enabled: true, Limit: limit(100)},
			{FeatureKey: "advanced_analytics", Enabled: true},
			{FeatureKey: "ai_assistant", Enabled: true, Limit: limit(500)},
			{FeatureKey: "custom_branding", Enabled: true},
			{FeatureKey: "data_export", Enabled: true},
			{FeatureKey: "unlimited_projects", Enabled: true},
			{FeatureKey: "api_access", Enabled: true},
		},
		PlanEnterprise: {
			{FeatureKey: "team_collaboration", Enabled: true},
			{FeatureKey: "advanced_analytics", Enabled: true},
			{FeatureKey: "ai_assistant", Enabled: true},
			{FeatureKey: "custom_branding", Enabled: true},
			{FeatureKey: "priority_support", Enabled: true},
			{FeatureKey: "data_export", Enabled: true},
			{FeatureKey: "unlimited_projects", Enabled: true},
			{FeatureKey: "api_access", Enabled: true},
		},
	}
}
