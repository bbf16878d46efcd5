// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the application are defined here so key
// usage stays discoverable and collision-free.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains the authenticated *sessions.Session.
	// Set by: middleware.AuthMiddleware
	SessionKey Key = "session"

	// UserIDKey contains the authenticated user id string.
	// Set by: middleware.AuthMiddleware
	UserIDKey Key = "user_id"

	// OrgIDKey contains the organization id string for org-scoped routes.
	// Set by: middleware.AuthMiddleware from the route variables
	OrgIDKey Key = "org_id"

	// RequestIDKey contains the request id string (UUID).
	// Set by: middleware.RequestID
	RequestIDKey Key = "request_id"

	// LoggerKey contains the request-scoped *observability.Logger.
	LoggerKey Key = "logger"
)

// WithUserID adds a user id to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserID retrieves the user id from context, or "".
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// WithOrgID adds an organization id to the context.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// OrgID retrieves the organization id from context, or "".
func OrgID(ctx context.Context) string {
	if v, ok := ctx.Value(OrgIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestID adds a request id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request id from context, or "".
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
