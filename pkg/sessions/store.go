package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/storage"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

// Store keeps sessions in Redis under "session:<token>" with a
// per-user index set at "user:<id>:sessions". There is no database
// fallback: a Redis outage logs everyone out rather than letting
// unverifiable tokens through.
type Store struct {
	redis   *postgres.RedisClient
	logger  *observability.Logger
	metrics *observability.Metrics
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates a session store. metrics may be nil. ttl bounds
// every session created through this store.
func NewStore(redis *postgres.RedisClient, logger *observability.Logger, metrics *observability.Metrics, ttl time.Duration) *Store {
	return &Store{
		redis:   redis,
		logger:  logger,
		metrics: metrics,
		ttl:     ttl,
		now:     time.Now,
	}
}

func sessionKey(token string) string {
	return "session:" + token
}

func userIndexKey(userID string) string {
	return "user:" + userID + ":sessions"
}

// Create mints a session for the given user and stores it with the
// configured TTL. The returned session carries the bearer token; it is
// the only time the token is available.
func (s *Store) Create(ctx context.Context, user UserSnapshot, meta Metadata) (*Session, error) {
	token, err := GenerateToken()
	if err != nil {
		s.operation("create", "error")
		return nil, fmt.Errorf("create session: %w", err)
	}

	now := s.now()
	session := &Session{
		Token:         token,
		UserID:        user.ID,
		Email:         user.Email,
		Phone:         user.Phone,
		EmailVerified: user.EmailVerified,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
	}

	data, err := json.Marshal(session)
	if err != nil {
		s.operation("create", "error")
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.redis.Set(ctx, sessionKey(token), data, s.ttl); err != nil {
		s.operation("create", "error")
		return nil, fmt.Errorf("create session: %w", err)
	}

	// The index lets DeleteAllForUser revoke everything at once. Its
	// TTL is refreshed on every login so it outlives the newest
	// session and never outlives the last one by more than one TTL.
	if err := s.redis.SAdd(ctx, userIndexKey(user.ID), token); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("failed to index session")
	} else if _, err := s.redis.Expire(ctx, userIndexKey(user.ID), s.ttl); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("failed to refresh session index TTL")
	}

	s.operation("create", "success")
	return session, nil
}

// Get resolves a token to its session. It returns ErrNotAuthenticated
// for unknown, malformed, or expired tokens. When Redis is unreachable
// it returns the cache error so the caller denies the request; it
// never guesses.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	if err := ValidateTokenFormat(token); err != nil {
		s.rejected("malformed")
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	data, err := s.redis.Get(ctx, sessionKey(token))
	if err != nil {
		s.rejected("cache_unavailable")
		return nil, fmt.Errorf("get session: %w", err)
	}
	if data == nil {
		s.rejected("unknown_token")
		return nil, ErrNotAuthenticated
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		s.logger.WithError(err).Warn("discarding undecodable session")
		_ = s.redis.Del(ctx, sessionKey(token))
		s.rejected("corrupt")
		return nil, ErrNotAuthenticated
	}

	// Redis expiry normally removes the key first; this covers clock
	// skew between writers.
	if session.Expired(s.now()) {
		_ = s.Delete(ctx, token)
		s.rejected("expired")
		return nil, ErrNotAuthenticated
	}

	s.operation("get", "success")
	return &session, nil
}

// Delete removes a session. Deleting an absent session is not an
// error, so logout is idempotent.
func (s *Store) Delete(ctx context.Context, token string) error {
	data, err := s.redis.Get(ctx, sessionKey(token))
	if err != nil {
		s.operation("delete", "error")
		return fmt.Errorf("delete session: %w", err)
	}

	if data != nil {
		var session Session
		if err := json.Unmarshal(data, &session); err == nil && session.UserID != "" {
			if err := s.redis.SRem(ctx, userIndexKey(session.UserID), token); err != nil {
				s.logger.WithError(err).WithField("user_id", session.UserID).Warn("failed to unindex session")
			}
		}
	}

	if err := s.redis.Del(ctx, sessionKey(token)); err != nil {
		s.operation("delete", "error")
		return fmt.Errorf("delete session: %w", err)
	}

	s.operation("delete", "success")
	return nil
}

// DeleteAllForUser revokes every session of a user, e.g. on password
// change or account suspension. It returns the number of sessions
// removed.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	tokens, err := s.redis.SMembers(ctx, userIndexKey(userID))
	if err != nil {
		s.operation("delete_all", "error")
		return 0, fmt.Errorf("delete sessions for user %s: %w", userID, err)
	}

	deleted := 0
	for _, token := range tokens {
		if err := s.redis.Del(ctx, sessionKey(token)); err != nil {
			s.operation("delete_all", "error")
			return deleted, fmt.Errorf("delete sessions for user %s: %w", userID, err)
		}
		deleted++
	}

	if err := s.redis.Del(ctx, userIndexKey(userID)); err != nil {
		s.operation("delete_all", "error")
		return deleted, fmt.Errorf("delete sessions for user %s: %w", userID, err)
	}

	s.operation("delete_all", "success")
	return deleted, nil
}

// ListForUser returns the live sessions of a user, skipping index
// entries whose session has already expired out of Redis.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	tokens, err := s.redis.SMembers(ctx, userIndexKey(userID))
	if err != nil {
		return nil, fmt.Errorf("list sessions for user %s: %w", userID, err)
	}

	sessions := make([]*Session, 0, len(tokens))
	for _, token := range tokens {
		data, err := s.redis.Get(ctx, sessionKey(token))
		if err != nil {
			return nil, fmt.Errorf("list sessions for user %s: %w", userID, err)
		}
		if data == nil {
			// Session expired, drop the stale index entry.
			if err := s.redis.SRem(ctx, userIndexKey(userID), token); err != nil && !storage.IsCacheUnavailable(err) {
				s.logger.WithError(err).WithField("user_id", userID).Warn("failed to prune session index")
			}
			continue
		}

		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}

	return sessions, nil
}

func (s *Store) operation(op, status string) {
	if s.metrics != nil {
		s.metrics.SessionOperationsTotal.WithLabelValues(op, status).Inc()
	}
}

func (s *Store) rejected(reason string) {
	if s.metrics != nil {
		s.metrics.SessionsRejectedTotal.WithLabelValues(reason).Inc()
	}
}
