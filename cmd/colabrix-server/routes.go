package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/colabrix/colabrix/pkg/billing"
	"github.com/colabrix/colabrix/pkg/config"
	"github.com/colabrix/colabrix/pkg/entitlements"
	"github.com/colabrix/colabrix/pkg/middleware"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/orgs"
	"github.com/colabrix/colabrix/pkg/rbac"
	"github.com/colabrix/colabrix/pkg/sessions"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

type application struct {
	config       *config.Config
	logger       *observability.Logger
	metrics      *observability.Metrics
	sessions     *sessions.Store
	permissions  *rbac.Resolver
	entitlements *entitlements.Resolver
	orgs         *orgs.Service
	billing      *billing.Service
	redis        *postgres.RedisClient
}

func (app *application) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(app.logger))
	if app.metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(app.metrics))
	}
	router.Use(middleware.RateLimit(app.redis))

	auth := middleware.NewAuthMiddleware(app.sessions)

	// Login sits outside the auth chain.
	router.HandleFunc("/api/v1/sessions", app.handleLogin).Methods(http.MethodPost)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.Handler)

	api.HandleFunc("/me", app.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/sessions/current", app.handleLogout).Methods(http.MethodDelete)
	api.HandleFunc("/sessions", app.handleLogoutEverywhere).Methods(http.MethodDelete)

	api.HandleFunc("/orgs", app.handleCreateOrganization).Methods(http.MethodPost)

	perm := func(resource rbac.Resource, action rbac.Action) mux.MiddlewareFunc {
		return mux.MiddlewareFunc(middleware.RequirePermission(app.permissions,
			rbac.Permission{Resource: resource, Action: action}))
	}

	orgRead := api.PathPrefix("/orgs/{org_id}").Subrouter()
	orgRead.Use(perm(rbac.ResourceOrganizations, rbac.ActionRead))
	orgRead.HandleFunc("", app.handleGetOrganization).Methods(http.MethodGet)

	memberRead := api.PathPrefix("/orgs/{org_id}/members").Subrouter()
	memberRead.Use(perm(rbac.ResourceMembers, rbac.ActionRead))
	memberRead.HandleFunc("", app.handleListMembers).Methods(http.MethodGet)

	memberInvite := api.PathPrefix("/orgs/{org_id}/invitations").Subrouter()
	memberInvite.Use(perm(rbac.ResourceMembers, rbac.ActionCreate))
	memberInvite.HandleFunc("", app.handleCreateInvitation).Methods(http.MethodPost)

	api.HandleFunc("/invitations/{token}/accept", app.handleAcceptInvitation).Methods(http.MethodPost)

	assistant := api.PathPrefix("/orgs/{org_id}/assistant").Subrouter()
	assistant.Use(perm(rbac.ResourceAIFeatures, rbac.ActionUse))
	assistant.Use(mux.MiddlewareFunc(middleware.RequireFeature(app.entitlements, "ai_assistant")))
	assistant.HandleFunc("/completions", app.handleAssistantCompletion).Methods(http.MethodPost)

	billingRead := api.PathPrefix("/orgs/{org_id}/billing").Subrouter()
	billingRead.Use(perm(rbac.ResourceBilling, rbac.ActionManage))
	billingRead.HandleFunc("/subscription", app.handleGetSubscription).Methods(http.MethodGet)
	billingRead.HandleFunc("/subscription", app.handleCancelSubscription).Methods(http.MethodDelete)

	// Payment provider callbacks authenticate with a shared secret at
	// the ingress, not a user session.
	router.HandleFunc("/webhooks/payments", app.handlePaymentWebhook).Methods(http.MethodPost)

	return router
}
