// Package cluster holds the domain model shared by the coordinator and the
// worker nodes of a solvegrid computation cluster.
//
// # Overview
//
// A solvegrid cluster has one coordinator and any number of worker nodes.
// Every worker registers with a role:
//
//	              ┌──────────────┐
//	  client ───▶ │ Coordinator  │
//	              │              │
//	              │ - Registry   │
//	              │ - Liveness   │
//	              │ - Router     │
//	              │ - Aggregator │
//	              └──────┬───────┘
//	                     │  Status / assignment
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐ ┌─────▼─────┐ ┌─────▼─────┐
//	│TaskManager│ │ CompNode  │ │ CompNode  │
//	│ divide    │ │ solve     │ │ solve     │
//	│ merge     │ │           │ │           │
//	└───────────┘ └───────────┘ └───────────┘
//
// TaskManagers split undivided problems into partial problems and merge the
// partial solutions back. ComputationalNodes solve partial problems.
//
// # Core Types
//
// Role: ComputationalNode or TaskManager, as declared at registration.
//
// NodeEntry: the coordinator's view of a registered node
//   - ID is allocated by the coordinator, starts at 1 and is never reused
//   - Capabilities lists the problem types the node can work on
//   - LastHeartbeat drives liveness eviction
//
// ThreadState: Idle or Busy, reported in Status messages.
//
// # Concurrency Model
//
// Types in this package are plain values with no internal locking. The
// coordinator's registry owns the authoritative NodeEntry values and hands
// out copies (see NodeEntry.Clone).
//
// # See Also
//
//   - internal/protocol: message catalog exchanged between nodes
//   - internal/coordinator: registry, liveness, routing, aggregation
//   - internal/agent: the worker side of the protocol
package cluster
