package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/colabrix/colabrix/pkg/billing"
	"github.com/colabrix/colabrix/pkg/cache"
	"github.com/colabrix/colabrix/pkg/config"
	"github.com/colabrix/colabrix/pkg/entitlements"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/orgs"
	"github.com/colabrix/colabrix/pkg/rbac"
	"github.com/colabrix/colabrix/pkg/storage"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

var (
	trialSchedule     = flag.String("trial-schedule", "0 * * * *", "Cron schedule for the trial expiry sweep (default: hourly)")
	cleanupSchedule   = flag.String("cleanup-schedule", "30 3 * * *", "Cron schedule for expired invitation cleanup (default: 03:30 UTC)")
	usageSyncSchedule = flag.String("usage-sync-schedule", "*/15 * * * *", "Cron schedule for usage counter sync (default: every 15 minutes)")
	runOnce           = flag.Bool("run-once", false, "Run every job once and exit")
)

type jobs struct {
	logger       *observability.Logger
	billing      *billing.Service
	orgs         *orgs.Service
	entitlements *entitlements.Resolver
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

	redisClient, err := postgres.NewRedisClient(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	db := cm.Primary()
	rbacStore := rbac.NewStore(db)
	permissions := rbac.NewResolver(rbacStore,
		cache.New("permissions", redisClient, logger, nil),
		cfg.Storage.CacheTTL[storage.TTLPermissions], logger, nil)
	entResolver := entitlements.NewResolver(entitlements.NewStore(db),
		cache.New("entitlements", redisClient, logger, nil),
		redisClient, cfg.Storage.CacheTTL[storage.TTLEntitlements], logger, nil)
	orgService := orgs.NewService(db, rbacStore, permissions, entResolver, logger)

	j := &jobs{
		logger:       logger,
		billing:      billing.NewService(db, orgService, entResolver, logger),
		orgs:         orgService,
		entitlements: entResolver,
	}

	if *runOnce {
		j.sweepTrials()
		j.cleanupInvitations()
		j.syncUsage()
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*trialSchedule, j.sweepTrials); err != nil {
		log.Fatalf("Failed to schedule trial sweep: %v", err)
	}
	if _, err := c.AddFunc(*cleanupSchedule, j.cleanupInvitations); err != nil {
		log.Fatalf("Failed to schedule invitation cleanup: %v", err)
	}
	if _, err := c.AddFunc(*usageSyncSchedule, j.syncUsage); err != nil {
		log.Fatalf("Failed to schedule usage sync: %v", err)
	}

	c.Start()
	logger.Info("colabrix jobs started")
	logger.Infof("trial sweep schedule: %s", *trialSchedule)
	logger.Infof("invitation cleanup schedule: %s", *cleanupSchedule)
	logger.Infof("usage sync schedule: %s", *usageSyncSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	stopped := c.Stop()
	<-stopped.Done()
	logger.Info("jobs stopped")
}

func (j *jobs) sweepTrials() {
	downgraded, err := j.billing.CheckTrialExpiry(context.Background())
	if err != nil {
		j.logger.WithError(err).Error("trial expiry sweep failed")
		return
	}
	if downgraded > 0 {
		j.logger.Infof("trial sweep downgraded %d organizations", downgraded)
	}
}

func (j *jobs) cleanupInvitations() {
	deleted, err := j.orgs.CleanupExpiredInvitations(context.Background())
	if err != nil {
		j.logger.WithError(err).Error("invitation cleanup failed")
		return
	}
	if deleted > 0 {
		j.logger.Infof("deleted %d expired invitations", deleted)
	}
}

func (j *jobs) syncUsage() {
	synced, err := j.entitlements.SyncUsageToStore(context.Background())
	if err != nil {
		j.logger.WithError(err).Error("usage sync failed")
		return
	}
	if synced > 0 {
		j.logger.Infof("synced %d usage counters", synced)
	}
}
