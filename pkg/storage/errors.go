package storage

import "errors"

// Availability errors distinguish "the answer is no" from "the backend
// could not answer". Callers check these with errors.Is and decide per
// call site whether to fall through to the store of record or to fail.
var (
	// ErrCacheUnavailable indicates the cache store could not be reached
	// or timed out. Resolvers fall back to the relational store; the
	// session store fails closed instead.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrStoreUnavailable indicates the relational store could not be
	// reached. There is no further fallback.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsCacheUnavailable reports whether err wraps ErrCacheUnavailable.
func IsCacheUnavailable(err error) bool {
	return errors.Is(err, ErrCacheUnavailable)
}

// IsStoreUnavailable reports whether err wraps ErrStoreUnavailable.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
