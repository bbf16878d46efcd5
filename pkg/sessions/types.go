package sessions

import (
	"errors"
	"time"
)

// ErrNotAuthenticated is returned when no valid session exists for a
// token: unknown token, expired session, or revoked session.
var ErrNotAuthenticated = errors.New("not authenticated")

// IsNotAuthenticated reports whether err means the caller has no valid
// session.
func IsNotAuthenticated(err error) bool {
	return errors.Is(err, ErrNotAuthenticated)
}

// Session is the server-side state behind a bearer token.
type Session struct {
	// Token is the opaque bearer token, also the Redis key suffix. It
	// is returned to the client once at login.
	Token string `json:"token"`

	UserID        string `json:"user_id"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`

	// CreatedAt and ExpiresAt bound the session lifetime. The TTL is
	// fixed at creation; activity does not extend it.
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Client metadata captured at login, for session listings and
	// audit trails.
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Expired reports whether the session has passed its expiry at the
// given instant.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// UserSnapshot is the account state frozen into a session at login.
// Changes to the account after login are not reflected until the next
// session is created.
type UserSnapshot struct {
	ID            string
	Email         string
	Phone         string
	EmailVerified bool
}

// Metadata carries the optional client details recorded at login.
type Metadata struct {
	IPAddress string
	UserAgent string
}
