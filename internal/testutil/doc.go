// Package testutil contains builders and shared contract suites used across
// tests: an EventBuilder for hand-crafted events, a SessionBuilder and
// RunSessionStoreContract, which every core.SessionStore backend runs
// against. Not intended for production use.
package testutil
