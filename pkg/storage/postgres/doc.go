// Package postgres provides the concrete storage clients: a PostgreSQL
// connection manager with primary/replica routing and a Redis client
// used by the session store and the resolver caches.
package postgres
