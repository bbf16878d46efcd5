package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/colabrix/colabrix/pkg/billing"
	"github.com/colabrix/colabrix/pkg/contextkeys"
	"github.com/colabrix/colabrix/pkg/entitlements"
	"github.com/colabrix/colabrix/pkg/httputil"
	"github.com/colabrix/colabrix/pkg/middleware"
	"github.com/colabrix/colabrix/pkg/orgs"
	"github.com/colabrix/colabrix/pkg/sessions"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

// handleLogin exchanges a verified identity for a session. Credential
// verification happens upstream at the identity provider; this
// endpoint trusts the ingress to only route verified callbacks here.
func (app *application) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		httputil.WriteBadRequest(w, "invalid_request", "email is required")
		return
	}

	user, err := app.orgs.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, orgs.ErrUserNotFound) {
		httputil.WriteNotFound(w, "user_not_found", "no such user")
		return
	}
	if err != nil {
		app.logger.WithError(err).Error("user lookup failed")
		httputil.WriteInternalError(w, "user lookup failed")
		return
	}

	snapshot := sessions.UserSnapshot{
		ID:            user.ID,
		Email:         user.Email,
		Phone:         user.Phone,
		EmailVerified: user.EmailVerified,
	}
	session, err := app.sessions.Create(r.Context(), snapshot, sessions.Metadata{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		app.logger.WithError(err).Error("session creation failed")
		httputil.WriteServiceUnavailable(w, "cache_unavailable", "could not create session")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (app *application) handleMe(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromRequest(r)
	if session == nil {
		httputil.WriteUnauthorized(w, "not_authenticated", "authentication required")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (app *application) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromRequest(r)
	if session == nil {
		httputil.WriteUnauthorized(w, "not_authenticated", "authentication required")
		return
	}

	if err := app.sessions.Delete(r.Context(), session.Token); err != nil {
		app.logger.WithError(err).Error("logout failed")
		httputil.WriteServiceUnavailable(w, "cache_unavailable", "could not delete session")
		return
	}
	httputil.WriteNoContent(w)
}

func (app *application) handleLogoutEverywhere(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromRequest(r)
	if session == nil {
		httputil.WriteUnauthorized(w, "not_authenticated", "authentication required")
		return
	}

	deleted, err := app.sessions.DeleteAllForUser(r.Context(), session.UserID)
	if err != nil {
		app.logger.WithError(err).Error("logout everywhere failed")
		httputil.WriteServiceUnavailable(w, "cache_unavailable", "could not delete sessions")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (app *application) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		httputil.WriteBadRequest(w, "invalid_request", "name is required")
		return
	}

	org, err := app.orgs.CreateOrganization(r.Context(), req.Name, contextkeys.UserID(r.Context()))
	if err != nil {
		app.logger.WithError(err).Error("organization creation failed")
		httputil.WriteInternalError(w, "could not create organization")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, org)
}

func (app *application) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := app.orgs.GetOrganization(r.Context(), mux.Vars(r)["org_id"])
	if errors.Is(err, orgs.ErrOrganizationNotFound) {
		httputil.WriteNotFound(w, "organization_not_found", "organization not found")
		return
	}
	if err != nil {
		app.logger.WithError(err).Error("organization lookup failed")
		httputil.WriteInternalError(w, "organization lookup failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, org)
}

func (app *application) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := app.orgs.ListMembers(r.Context(), mux.Vars(r)["org_id"])
	if err != nil {
		app.logger.WithError(err).Error("member listing failed")
		httputil.WriteInternalError(w, "member listing failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, members)
}

func (app *application) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		RoleID string `json:"role_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.RoleID == "" {
		httputil.WriteBadRequest(w, "invalid_request", "email and role_id are required")
		return
	}

	inv, err := app.orgs.CreateInvitation(r.Context(),
		mux.Vars(r)["org_id"], req.Email, req.RoleID, contextkeys.UserID(r.Context()))
	if err != nil {
		app.logger.WithError(err).Error("invitation creation failed")
		httputil.WriteInternalError(w, "could not create invitation")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, inv)
}

func (app *application) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	m, err := app.orgs.AcceptInvitation(r.Context(),
		mux.Vars(r)["token"], contextkeys.UserID(r.Context()))
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, m)
	case errors.Is(err, orgs.ErrInvitationNotFound):
		httputil.WriteNotFound(w, "invitation_not_found", "invitation not found")
	case errors.Is(err, orgs.ErrInvitationExpired):
		httputil.WriteError(w, http.StatusGone, "invitation_expired", "invitation has expired")
	case errors.Is(err, orgs.ErrInvitationAccepted):
		httputil.WriteConflict(w, "invitation_accepted", "invitation was already accepted")
	case errors.Is(err, orgs.ErrAlreadyMember):
		httputil.WriteConflict(w, "already_member", "already a member of this organization")
	default:
		app.logger.WithError(err).Error("invitation acceptance failed")
		httputil.WriteInternalError(w, "could not accept invitation")
	}
}

// handleAssistantCompletion is the metered endpoint: RequireFeature
// upstream has checked plan and headroom, so all that is left is to
// count this call against the month.
func (app *application) handleAssistantCompletion(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["org_id"]

	count, err := app.entitlements.TrackFeatureUsage(r.Context(), orgID, "ai_assistant", 1)
	if err != nil {
		app.logger.WithError(err).Error("usage tracking failed")
		httputil.WriteInternalError(w, "usage tracking failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "accepted",
		"usage_count": count,
	})
}

func (app *application) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := app.billing.GetSubscription(r.Context(), mux.Vars(r)["org_id"])
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		httputil.WriteNotFound(w, "subscription_not_found", "no subscription for this organization")
		return
	}
	if err != nil {
		app.logger.WithError(err).Error("subscription lookup failed")
		httputil.WriteInternalError(w, "subscription lookup failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

func (app *application) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	err := app.billing.CancelSubscription(r.Context(), mux.Vars(r)["org_id"])
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		httputil.WriteNotFound(w, "subscription_not_found", "no subscription for this organization")
		return
	}
	if err != nil {
		app.logger.WithError(err).Error("subscription cancellation failed")
		httputil.WriteInternalError(w, "could not cancel subscription")
		return
	}
	httputil.WriteNoContent(w)
}

func (app *application) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var event struct {
		Type                   string `json:"type"`
		OrganizationID         string `json:"organization_id"`
		Plan                   string `json:"plan"`
		ProviderCustomerID     string `json:"provider_customer_id"`
		ProviderSubscriptionID string `json:"provider_subscription_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		httputil.WriteBadRequest(w, "invalid_request", "malformed event")
		return
	}

	var err error
	switch event.Type {
	case "payment.succeeded":
		_, err = app.billing.ApplyPaymentSuccess(r.Context(), billing.PaymentSuccess{
			OrganizationID:         event.OrganizationID,
			Plan:                   entitlements.Plan(event.Plan),
			ProviderCustomerID:     event.ProviderCustomerID,
			ProviderSubscriptionID: event.ProviderSubscriptionID,
		})
	case "payment.failed":
		err = app.billing.ApplyPaymentFailure(r.Context(), event.OrganizationID)
	case "subscription.canceled":
		err = app.billing.CancelSubscription(r.Context(), event.OrganizationID)
	default:
		httputil.WriteBadRequest(w, "unknown_event", "unsupported event type "+event.Type)
		return
	}

	if err != nil {
		app.logger.WithError(err).WithField("event_type", event.Type).Error("webhook processing failed")
		httputil.WriteInternalError(w, "event processing failed")
		return
	}

	httputil.WriteNoContent(w)
}

func (app *application) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (app *application) readiness(cm *postgres.ConnectionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cm.HealthCheck(r.Context()); err != nil {
			httputil.WriteServiceUnavailable(w, "store_unavailable", "postgres unreachable")
			return
		}
		if err := app.redis.Ping(r.Context()); err != nil {
			httputil.WriteServiceUnavailable(w, "cache_unavailable", "redis unreachable")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
