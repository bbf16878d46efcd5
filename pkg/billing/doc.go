// Package billing manages subscriptions and the plan catalog.
//
// The payment provider integration lives outside this service; billing
// reacts to provider outcomes. A successful payment lands through
// ApplyPaymentSuccess, which upgrades the organization's plan and
// drops its cached entitlements in one motion. Cancellation and trial
// expiry downgrade to the FREE plan the same way.
//
// Trials are not a separate plan. New organizations start on STANDARD
// with a trial deadline, and CheckTrialExpiry sweeps organizations
// whose deadline passed without an active subscription.
package billing
