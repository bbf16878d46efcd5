package entitlements

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all entitlement migrations. feature_usage has
// no FK to organizations so usage history survives org deletion for
// billing reconciliation.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create features table",
			SQL: `
				CREATE TABLE IF NOT EXISTS features (
					key VARCHAR(100) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					category VARCHAR(100),
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create plan_features table",
			SQL: `
				CREATE TABLE IF NOT EXISTS plan_features (
					plan VARCHAR(50) NOT NULL,
					feature_key VARCHAR(100) NOT NULL REFERENCES features(key) ON DELETE CASCADE,
					enabled BOOLEAN NOT NULL DEFAULT FALSE,
					usage_limit BIGINT,
					metadata JSONB,
					PRIMARY KEY (plan, feature_key)
				);

				CREATE INDEX idx_plan_features_plan ON plan_features(plan);
			`,
		},
		{
			Version:     3,
			Description: "Create feature_usage table",
			SQL: `
				CREATE TABLE IF NOT EXISTS feature_usage (
					organization_id UUID NOT NULL,
					feature_key VARCHAR(100) NOT NULL,
					period CHAR(7) NOT NULL,
					count BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, feature_key, period)
				);

				CREATE INDEX idx_feature_usage_period ON feature_usage(period);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entitlements_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM entitlements_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO entitlements_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// Seed writes the feature catalog and default plan grids, used by the
// seed binary and test fixtures.
func Seed(ctx context.Context, store *Store) error {
	for _, f := range FeatureCatalog() {
		if err := store.UpsertFeature(ctx, f); err != nil {
			return err
		}
	}

	for plan, features := range DefaultPlanFeatures() {
		for _, pf := range features {
			if err := store.UpsertPlanFeature(ctx, plan, pf); err != nil {
				return err
			}
		}
	}

	return nil
}
