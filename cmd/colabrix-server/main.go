package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/colabrix/colabrix/pkg/billing"
	"github.com/colabrix/colabrix/pkg/cache"
	"github.com/colabrix/colabrix/pkg/config"
	"github.com/colabrix/colabrix/pkg/entitlements"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/orgs"
	"github.com/colabrix/colabrix/pkg/rbac"
	"github.com/colabrix/colabrix/pkg/sessions"
	"github.com/colabrix/colabrix/pkg/storage"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting colabrix server")

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ctx := context.Background()
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Storage.PostgresURL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Storage.PostgresReplicaURLs),
		MaxConns:    cfg.Storage.PostgresMaxConns,
		MinConns:    cfg.Storage.PostgresMinConns,
		Timeout:     cfg.Storage.PostgresTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	redisClient, err := postgres.NewRedisClient(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	db := cm.Primary()

	sessionStore := sessions.NewStore(redisClient, logger, metrics, cfg.Session.TTL)
	rbacStore := rbac.NewStore(db)
	permissions := rbac.NewResolver(rbacStore,
		cache.New("permissions", redisClient, logger, metrics),
		cfg.Storage.CacheTTL[storage.TTLPermissions], logger, metrics)
	entResolver := entitlements.NewResolver(entitlements.NewStore(db),
		cache.New("entitlements", redisClient, logger, metrics),
		redisClient, cfg.Storage.CacheTTL[storage.TTLEntitlements], logger, metrics)
	orgService := orgs.NewService(db, rbacStore, permissions, entResolver, logger)
	billingService := billing.NewService(db, orgService, entResolver, logger)

	app := &application{
		config:       cfg,
		logger:       logger,
		metrics:      metrics,
		sessions:     sessionStore,
		permissions:  permissions,
		entitlements: entResolver,
		orgs:         orgService,
		billing:      billingService,
		redis:        redisClient,
	}

	var apiHandler http.Handler = app.routes()
	if cfg.Observability.OTelEnabled {
		apiHandler = otelhttp.NewHandler(apiHandler, "colabrix-api")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", app.handleLiveness)
	healthMux.HandleFunc("/readyz", app.readiness(cm))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return cm.Close() })
	shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	logger.Info("colabrix server stopped")
}
