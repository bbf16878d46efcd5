// Package httputil provides JSON response helpers shared by the API
// handlers: success envelopes, error payloads with stable error codes,
// and shortcuts for the common 4xx/5xx cases.
package httputil
