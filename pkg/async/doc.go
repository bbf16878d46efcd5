// Package async provides safe goroutine helpers for fire-and-forget
// work: panic recovery, timeout enforcement, and a bounded worker pool
// for fan-out jobs.
package async
