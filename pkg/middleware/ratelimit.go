package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/colabrix/colabrix/pkg/contextkeys"
	"github.com/colabrix/colabrix/pkg/httputil"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

// RateLimitConfig holds a fixed-window rate limit
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig is the anonymous (per-IP) limit
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
	}
}

// PerUserRateLimitConfig is the limit for authenticated users
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
	}
}

// DistributedRateLimiter is a fixed-window counter in Redis, shared
// by every server instance.
type DistributedRateLimiter struct {
	redis  *postgres.RedisClient
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a Redis-backed rate limiter
func NewDistributedRateLimiter(redis *postgres.RedisClient, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redis,
		config: config,
		prefix: prefix,
	}
}

// Allow counts the request against the key's current window
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.prefix + ":" + key

	count, err := rl.redis.IncrBy(ctx, redisKey, 1)
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}

	// First hit in the window starts the clock.
	if count == 1 {
		if _, err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	return count <= int64(rl.config.RequestsPerWindow), nil
}

// Reset clears a key's window
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.prefix+":"+key)
}

// RetryAfter returns the time until the key's window resets
func (rl *DistributedRateLimiter) RetryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := rl.redis.TTL(ctx, rl.prefix+":"+key)
	if err != nil || ttl <= 0 {
		return rl.config.WindowDuration
	}
	return ttl
}

// RateLimit applies per-user limits to authenticated requests and
// per-IP limits to anonymous ones. A Redis outage fails open here:
// unlike authentication, dropping rate limiting briefly is the safer
// degradation.
func RateLimit(redis *postgres.RedisClient) func(http.Handler) http.Handler {
	userLimiter := NewDistributedRateLimiter(redis, PerUserRateLimitConfig(), "ratelimit:user")
	anonLimiter := NewDistributedRateLimiter(redis, DefaultRateLimitConfig(), "ratelimit:ip")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var key string
			var limiter *DistributedRateLimiter
			if userID := contextkeys.UserID(ctx); userID != "" {
				key = userID
				limiter = userLimiter
			} else {
				key = clientIP(r)
				limiter = anonLimiter
			}

			allowed, err := limiter.Allow(ctx, key)
			if err != nil {
				observability.FromContext(ctx).WithError(err).Warn("rate limiter unavailable, failing open")
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				retryAfter := limiter.RetryAfter(ctx, key)
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				httputil.WriteTooManyRequests(w, "rate_limited", "too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
