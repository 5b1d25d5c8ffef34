// Package migration owns traffic-shift control concerns.
//
// Ownership boundary:
// - migration state and its versioned store
// - verdict evaluation against configured thresholds
// - the poll/evaluate/act control loop
// - rollback to last known-good weight
// - append-only audit of every transition
//
// Migration does not own collaborator transports; the monitor and router
// packages bind those boundaries and are injected here as interfaces.
package migration
