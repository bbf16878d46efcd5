package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"gopkg.in/yaml.v3"

	"github.com/colabrix/colabrix/pkg/billing"
	"github.com/colabrix/colabrix/pkg/config"
	"github.com/colabrix/colabrix/pkg/entitlements"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/orgs"
	"github.com/colabrix/colabrix/pkg/rbac"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

var (
	catalogPath    = flag.String("catalog", "", "Path to a YAML catalog file (uses the built-in catalog when empty)")
	migrateOnly    = flag.Bool("migrate-only", false, "Run migrations and exit without seeding")
	skipMigrations = flag.Bool("skip-migrations", false, "Seed without running migrations first")
)

// catalogFile is the YAML shape of a seed catalog. Absent sections
// fall back to the built-in defaults.
type catalogFile struct {
	Features []struct {
		Key         string `yaml:"key"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Category    string `yaml:"category"`
	} `yaml:"features"`

	Plans []struct {
		Plan       string `yaml:"plan"`
		Name       string `yaml:"name"`
		PriceCents int64  `yaml:"price_cents"`
		Interval   string `yaml:"interval"`

		Features []struct {
			Key     string `yaml:"key"`
			Enabled bool   `yaml:"enabled"`
			Limit   *int64 `yaml:"limit"`
		} `yaml:"features"`
	} `yaml:"plans"`
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL: cfg.Storage.PostgresURL,
		MaxConns:   cfg.Storage.PostgresMaxConns,
		MinConns:   cfg.Storage.PostgresMinConns,
		Timeout:    cfg.Storage.PostgresTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer cm.Close()

	ctx := context.Background()
	db := cm.Primary()

	if !*skipMigrations {
		// orgs first: rbac memberships and billing subscriptions
		// reference its tables.
		logger.Info("running migrations")
		if err := orgs.RunMigrations(ctx, db); err != nil {
			log.Fatalf("orgs migrations failed: %v", err)
		}
		if err := rbac.RunMigrations(ctx, db); err != nil {
			log.Fatalf("rbac migrations failed: %v", err)
		}
		if err := entitlements.RunMigrations(ctx, db); err != nil {
			log.Fatalf("entitlements migrations failed: %v", err)
		}
		if err := billing.RunMigrations(ctx, db); err != nil {
			log.Fatalf("billing migrations failed: %v", err)
		}
	}

	if *migrateOnly {
		logger.Info("migrations complete")
		return
	}

	entStore := entitlements.NewStore(db)

	if *catalogPath == "" {
		logger.Info("seeding built-in catalog")
		if err := entitlements.Seed(ctx, entStore); err != nil {
			log.Fatalf("Failed to seed entitlement catalog: %v", err)
		}
	} else {
		logger.Infof("seeding catalog from %s", *catalogPath)
		catalog, err := loadCatalog(*catalogPath)
		if err != nil {
			log.Fatalf("Failed to load catalog: %v", err)
		}
		if err := seedCatalog(ctx, entStore, catalog); err != nil {
			log.Fatalf("Failed to seed catalog: %v", err)
		}
	}

	billingService := billing.NewService(db, nil, nil, logger)
	if err := seedPlans(ctx, billingService, *catalogPath); err != nil {
		log.Fatalf("Failed to seed plan catalog: %v", err)
	}

	logger.Info("seed complete")
}

func loadCatalog(path string) (*catalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &catalog, nil
}

func seedCatalog(ctx context.Context, store *entitlements.Store, catalog *catalogFile) error {
	for _, f := range catalog.Features {
		if err := store.UpsertFeature(ctx, entitlements.Feature{
			Key:         f.Key,
			Name:        f.Name,
			Description: f.Description,
			Category:    f.Category,
		}); err != nil {
			return err
		}
	}

	for _, p := range catalog.Plans {
		plan := entitlements.Plan(p.Plan)
		if !plan.Valid() {
			return fmt.Errorf("unknown plan %q in catalog", p.Plan)
		}
		for _, pf := range p.Features {
			if err := store.UpsertPlanFeature(ctx, plan, entitlements.PlanFeature{
				FeatureKey: pf.Key,
				Enabled:    pf.Enabled,
				Limit:      pf.Limit,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

func seedPlans(ctx context.Context, svc *billing.Service, catalogPath string) error {
	if catalogPath == "" {
		return billing.SeedPlans(ctx, svc)
	}

	catalog, err := loadCatalog(catalogPath)
	if err != nil {
		return err
	}
	if len(catalog.Plans) == 0 {
		return billing.SeedPlans(ctx, svc)
	}

	for _, p := range catalog.Plans {
		interval := p.Interval
		if interval == "" {
			interval = "month"
		}
		if err := svc.UpsertPlan(ctx, &billing.PlanInfo{
			Plan:       entitlements.Plan(p.Plan),
			Name:       p.Name,
			PriceCents: p.PriceCents,
			Interval:   interval,
			Active:     true,
		}); err != nil {
			return err
		}
	}

	return nil
}
