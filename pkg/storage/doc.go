// Package storage holds the shared storage configuration and the error
// taxonomy for backend availability. PostgreSQL is the store of record,
// Redis is the cache store; the concrete clients live in the postgres
// subpackage.
package storage
