// Package middleware provides the HTTP request chain: request ids,
// request logging, session authentication, permission checks,
// entitlement checks, and distributed rate limiting.
//
// # Chain Order
//
// RequestID and Logging wrap everything. AuthMiddleware resolves the
// Bearer session token and installs the session and user id in the
// request context. RequirePermission and RequireFeature sit on
// org-scoped routes and expect AuthMiddleware upstream.
//
//	router.Use(middleware.RequestID)
//	router.Use(middleware.Logging(logger))
//	api.Use(auth.Handler)
//	api.Handle("/orgs/{org_id}/projects",
//		middleware.RequirePermission(resolver, perm)(handler))
//
// # Error Mapping
//
// Authentication failures are 401 not_authenticated. A session store
// outage is 503 cache_unavailable: sessions fail closed, never open.
// Membership and permission failures are 403 (not_a_member,
// permission_denied). Disabled features are 403 feature_not_entitled
// and exhausted metered features are 429 usage_limit_exceeded with
// X-Usage-Limit and X-Usage-Current headers.
package middleware
