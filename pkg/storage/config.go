package storage

import "time"

// Config for the relational store and the cache store.
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string // comma-separated, optional
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache TTLs per key family. Sessions get their TTL from the session
	// store config instead; these cover the resolver caches.
	CacheTTL map[string]time.Duration
}

// TTL key families used across the resolvers.
const (
	TTLPermissions  = "permissions"
	TTLEntitlements = "entitlements"
	TTLUsage        = "usage"
)

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheTTL: map[string]time.Duration{
			TTLPermissions:  5 * time.Minute,
			TTLEntitlements: 10 * time.Minute,
			TTLUsage:        30 * 24 * time.Hour,
		},
	}
}
