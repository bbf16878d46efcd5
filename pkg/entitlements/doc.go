// Package entitlements resolves what an organization's plan allows.
//
// The Resolver caches the plan feature map per organization in Redis
// and keeps metered feature counters there too, bucketed by calendar
// month. Every counter increment is mirrored to Postgres on a
// detached goroutine so billing history survives a cache flush; Redis
// stays authoritative within the month.
package entitlements
