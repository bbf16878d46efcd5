package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/colabrix/colabrix/pkg/contextkeys"
	"github.com/colabrix/colabrix/pkg/httputil"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/sessions"
	"github.com/colabrix/colabrix/pkg/storage"
)

// AuthMiddleware authenticates requests against the session store
type AuthMiddleware struct {
	sessions *sessions.Store
}

// NewAuthMiddleware creates the session authentication middleware
func NewAuthMiddleware(store *sessions.Store) *AuthMiddleware {
	return &AuthMiddleware{sessions: store}
}

// Handler validates the Bearer session token and installs the session
// and user id in the request context. A session store outage is a 503,
// not a pass-through: authentication never degrades to a guess.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w, "not_authenticated", "missing or malformed authorization header")
			return
		}

		session, err := m.sessions.Get(r.Context(), token)
		if err != nil {
			if storage.IsCacheUnavailable(err) {
				observability.FromContext(r.Context()).WithError(err).Error("session store unavailable")
				httputil.WriteServiceUnavailable(w, "cache_unavailable", "session store unavailable")
				return
			}
			httputil.WriteUnauthorized(w, "not_authenticated", "invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), contextkeys.SessionKey, session)
		ctx = contextkeys.WithUserID(ctx, session.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}

	return parts[1], true
}

// SessionFromRequest returns the authenticated session, or nil when
// the request did not pass AuthMiddleware.
func SessionFromRequest(r *http.Request) *sessions.Session {
	session, ok := r.Context().Value(contextkeys.SessionKey).(*sessions.Session)
	if !ok {
		return nil
	}
	return session
}
