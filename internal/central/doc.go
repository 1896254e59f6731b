// Package central implements the coordinating side of a splitsync cluster:
// the follower registry that assigns protocol identities, and the health
// monitor that tracks which followers are reachable.
//
// # Overview
//
// The central is the hub of the star topology. Every follower registers
// with it at startup, every relay envelope passes through it, and every
// cluster-wide collection is driven from it. This package holds the state
// the central needs for those jobs; the protocol logic itself lives in the
// engine and relay packages.
//
// # Core Components
//
// Registry: Authoritative follower membership
//   - Assigns each follower a small-integer identity (1..MaxFollowers)
//   - Keyed by a stable instance UUID so restarts reclaim their identity
//   - Bounded capacity with explicit rejection when full
//   - Thread-safe; returns copies to prevent external modification
//
// HealthMonitor: Periodic liveness checks
//   - Polls each follower's /health endpoint on an interval
//   - Marks followers unhealthy after consecutive failures
//   - Detects recovery and reports both transitions to the registry
//
// The registry's live-follower count feeds the bounded collection
// strategy, letting a collection wake early once every reachable follower
// has reported.
package central
