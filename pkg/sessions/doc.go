// Package sessions implements the Redis-backed session store.
//
// A session is created at login with an opaque bearer token
// ("sess_<base64url>"), lives for a fixed TTL from creation, and is
// indexed per user so that every session of a user can be revoked in
// one call. Sessions live only in Redis; when Redis is unreachable
// lookups fail closed and the caller must treat the request as
// unauthenticated.
package sessions
