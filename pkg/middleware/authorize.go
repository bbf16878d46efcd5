package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/colabrix/colabrix/pkg/contextkeys"
	"github.com/colabrix/colabrix/pkg/entitlements"
	"github.com/colabrix/colabrix/pkg/httputil"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/rbac"
)

// orgIDFromRequest pulls the organization id from the {org_id} route
// variable, falling back to a value already placed in the context.
func orgIDFromRequest(r *http.Request) string {
	if orgID, ok := mux.Vars(r)["org_id"]; ok && orgID != "" {
		return orgID
	}
	return contextkeys.OrgID(r.Context())
}

// RequirePermission gates a route on the caller holding a permission
// in the route's organization. Non-members and members without the
// permission both get a 403; the codes differ so clients can tell
// them apart.
func RequirePermission(resolver *rbac.Resolver, p rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.UserID(r.Context())
			if userID == "" {
				httputil.WriteUnauthorized(w, "not_authenticated", "authentication required")
				return
			}

			orgID := orgIDFromRequest(r)
			if orgID == "" {
				httputil.WriteBadRequest(w, "missing_organization", "organization id is required")
				return
			}

			err := resolver.Check(r.Context(), userID, orgID, p)
			switch {
			case err == nil:
			case rbac.IsNotAMember(err):
				httputil.WriteForbidden(w, "not_a_member", "not a member of this organization")
				return
			case rbac.IsPermissionDenied(err):
				httputil.WriteForbidden(w, "permission_denied", "missing permission "+p.String())
				return
			default:
				observability.FromContext(r.Context()).WithError(err).Error("permission check failed")
				httputil.WriteInternalError(w, "permission check failed")
				return
			}

			ctx := contextkeys.WithOrgID(r.Context(), orgID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireFeature gates a route on the organization's plan including a
// feature with headroom left this month. Exhausted metered features
// reply 429 with the limit and current usage in headers.
func RequireFeature(resolver *entitlements.Resolver, featureKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgID := orgIDFromRequest(r)
			if orgID == "" {
				httputil.WriteBadRequest(w, "missing_organization", "organization id is required")
				return
			}

			err := resolver.CheckFeatureAccess(r.Context(), orgID, featureKey)
			switch {
			case err == nil:
			case entitlements.IsUsageLimitExceeded(err):
				var ule *entitlements.UsageLimitExceededError
				if errors.As(err, &ule) {
					w.Header().Set("X-Usage-Limit", strconv.FormatInt(ule.Limit, 10))
					w.Header().Set("X-Usage-Current", strconv.FormatInt(ule.Current, 10))
				}
				httputil.WriteTooManyRequests(w, "usage_limit_exceeded",
					"monthly usage limit reached for "+featureKey)
				return
			case entitlements.IsFeatureNotEntitled(err):
				httputil.WriteForbidden(w, "feature_not_entitled",
					"plan does not include "+featureKey)
				return
			case entitlements.IsOrganizationNotFound(err):
				httputil.WriteNotFound(w, "organization_not_found", "organization not found")
				return
			default:
				observability.FromContext(r.Context()).WithError(err).Error("entitlement check failed")
				httputil.WriteInternalError(w, "entitlement check failed")
				return
			}

			ctx := contextkeys.WithOrgID(r.Context(), orgID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
