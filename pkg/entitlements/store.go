package entitlements

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store handles plan, feature, and durable usage persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new entitlements store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetOrganizationPlan returns the plan of an organization
func (s *Store) GetOrganizationPlan(ctx context.Context, organizationID string) (Plan, error) {
	var plan Plan
	err := s.db.QueryRowContext(ctx,
		`SELECT plan FROM organizations WHERE id = $1`, organizationID,
	).Scan(&plan)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", ErrOrganizationNotFound, organizationID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get organization plan: %w", err)
	}
	return plan, nil
}

// GetPlanFeatures returns the feature grid of a plan keyed by feature
func (s *Store) GetPlanFeatures(ctx context.Context, plan Plan) (map[string]PlanFeature, error) {
	query := `
		SELECT feature_key, enabled, usage_limit, metadata
		FROM plan_features
		WHERE plan = $1
	`

	rows, err := s.db.QueryContext(ctx, query, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan features: %w", err)
	}
	defer rows.Close()

	features := make(map[string]PlanFeature)
	for rows.Next() {
		var pf PlanFeature
		var usageLimit sql.NullInt64
		var metadataJSON sql.NullString

		if err := rows.Scan(&pf.FeatureKey, &pf.Enabled, &usageLimit, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan plan feature: %w", err)
		}

		if usageLimit.Valid {
			l := usageLimit.Int64
			pf.Limit = &l
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &pf.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal feature metadata: %w", err)
			}
		}

		features[pf.FeatureKey] = pf
	}

	return features, rows.Err()
}

// UpsertUsage mirrors a Redis counter value into the durable usage
// table. GREATEST keeps the mirror monotonic when out-of-order
// detached writes race each other.
func (s *Store) UpsertUsage(ctx context.Context, rec UsageRecord) error {
	query := `
		INSERT INTO feature_usage (organization_id, feature_key, period, count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, feature_key, period)
		DO UPDATE SET count = GREATEST(feature_usage.count, EXCLUDED.count), updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query,
		rec.OrganizationID,
		rec.FeatureKey,
		rec.Period,
		rec.Count,
		time.Now(),
	); err != nil {
		return fmt.Errorf("failed to upsert usage: %w", err)
	}

	return nil
}

// AddUsage increments the durable counter directly and returns the new
// value. Used when Redis is unavailable.
func (s *Store) AddUsage(ctx context.Context, organizationID, featureKey, period string, delta int64) (int64, error) {
	query := `
		INSERT INTO feature_usage (organization_id, feature_key, period, count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, feature_key, period)
		DO UPDATE SET count = feature_usage.count + EXCLUDED.count, updated_at = EXCLUDED.updated_at
		RETURNING count
	`

	var count int64
	if err := s.db.QueryRowContext(ctx, query,
		organizationID,
		featureKey,
		period,
		delta,
		time.Now(),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}

	return count, nil
}

// GetUsage returns the durable usage count for one month. A missing
// row is zero usage, not an error.
func (s *Store) GetUsage(ctx context.Context, organizationID, featureKey, period string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM feature_usage WHERE organization_id = $1 AND feature_key = $2 AND period = $3`,
		organizationID, featureKey, period,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return count, nil
}

// ListUsage returns all durable usage rows of an organization for one
// month.
func (s *Store) ListUsage(ctx context.Context, organizationID, period string) ([]UsageRecord, error) {
	query := `
		SELECT organization_id, feature_key, period, count, updated_at
		FROM feature_usage
		WHERE organization_id = $1 AND period = $2
		ORDER BY feature_key ASC
	`

	rows, err := s.db.QueryContext(ctx, query, organizationID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		if err := rows.Scan(&rec.OrganizationID, &rec.FeatureKey, &rec.Period, &rec.Count, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// UpsertFeature writes a feature definition, used by the seeder
func (s *Store) UpsertFeature(ctx context.Context, f Feature) error {
	query := `
		INSERT INTO features (key, name, description, category, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, category = EXCLUDED.category
	`

	if _, err := s.db.ExecContext(ctx, query, f.Key, f.Name, f.Description, f.Category, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert feature %s: %w", f.Key, err)
	}
	return nil
}

// UpsertPlanFeature writes one cell of the plan/feature grid, used by
// the seeder
func (s *Store) UpsertPlanFeature(ctx context.Context, plan Plan, pf PlanFeature) error {
	var metadataJSON interface{}
	if pf.Metadata != nil {
		data, err := json.Marshal(pf.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal feature metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	query := `
		INSERT INTO plan_features (plan, feature_key, enabled, usage_limit, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (plan, feature_key)
		DO UPDATE SET enabled = EXCLUDED.enabled, usage_limit = EXCLUDED.usage_limit, metadata = EXCLUDED.metadata
	`

	var usageLimit interface{}
	if pf.Limit != nil {
		usageLimit = *pf.Limit
	}

	if _, err := s.db.ExecContext(ctx, query, plan, pf.FeatureKey, pf.Enabled, usageLimit, metadataJSON); err != nil {
		return fmt.Errorf("failed to upsert plan feature %s/%s: %w", plan, pf.FeatureKey, err)
	}
	return nil
}
