// Package cluster provides the membership and transport plumbing for
// splitsync, implementing follower registration, identity assignment, and
// the HTTP link that carries relay envelopes between nodes.
//
// # Overview
//
// The cluster package is the foundation of splitsync's split topology,
// managing how followers attach to the central and how serialized events
// physically move between them. It implements a star topology where the
// central is the hub of all relay traffic.
//
// # Architecture
//
// The package follows a hub-and-spoke model:
//
//	              ┌──────────────┐
//	              │   Central    │
//	              │              │
//	              │ - Registry   │
//	              │ - Health Mon │
//	              │ - Relay hub  │
//	              └──────┬───────┘
//	                     │
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│ Follower 1│  │ Follower 2│  │ Follower 3│
//	│           │  │           │  │           │
//	│ settings  │  │ settings  │  │ settings  │
//	│ store     │  │ store     │  │ store     │
//	└───────────┘  └───────────┘  └───────────┘
//
// # Core Components
//
// NodeInfo: Represents a follower as the central sees it
//   - Small-integer protocol identity assigned at registration
//   - Stable instance UUID so restarts reclaim the same identity
//   - Address and health status for relay targeting
//
// HTTPLink: The relay.Link implementation over HTTP/JSON
//   - Broadcast to every follower with per-target exclusion
//   - Single-hop send from a follower up to the central
//   - Best-effort: failures are reported, never retried here
//
// # Communication Protocol
//
// All inter-node communication is JSON over HTTP POST. Envelopes land on
// each node's /relay endpoint; registration lands on the central's
// /register endpoint. Delivery is best-effort with a short client timeout:
// a failed send leaves the target stale until the next reconciliation.
package cluster
