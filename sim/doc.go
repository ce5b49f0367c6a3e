// Package sim provides the deterministic simulation layer for lockstep
// multiplayer sessions.
//
// # Reading Guide
//
// Start with these three files to understand the layer:
//   - session.go: one participant's view of the simulation; applies each
//     tick's ordered commands and steps the host
//   - controller.go: drives a Session through time (paced ticking, bounded
//     catch-up, rewind by snapshot reload)
//   - idblock.go: replicated and local identifier allocation
//
// # Architecture
//
// The sim package defines the session state and its collaborators;
// implementations that need third-party storage or encoding live in
// sub-packages:
//   - sim/snapshot/: rewind snapshot stores (in-memory, SQLite), zstd-compressed
//   - sim/journal/: recording of the ordered command stream
//   - sim/colony/: a sample Host (regions, parties, pawns)
//   - sim/workload/: scripted scenarios and command generation
//   - sim/cluster/: lockstep relay and multi-participant harness
//   - sim/trace/: tick trace recording
//
// # Key Types
//
//   - ContextStack: which actor is currently acting, and in which region
//   - ScopeManager / Partitioned: per-region, per-party sub-state selection
//   - IDAllocator: block-partitioned identifiers and high-water renewal
//   - ExecutionGate / FeedbackFilter: local vs remote command provenance,
//     used only to suppress presentation feedback
//   - Host: the game state a Session simulates
//   - SnapshotStore: where the Controller keeps rewind snapshots
//
// Nothing in this package is safe for concurrent use; a session and its
// controller belong to the simulation goroutine.
package sim
