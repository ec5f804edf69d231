// Package coordinator implements the server side of the solvegrid computation
// cluster: it tracks worker nodes, queues solve requests, hands work to nodes
// when they report status, and merges their solutions until every problem is
// solved.
//
// # Overview
//
// The coordinator is the only stateful process in the cluster. Nodes poll it:
// each Status report is both a heartbeat and a request for work, and the reply
// is the node's next assignment or an empty message when there is none.
//
// # Architecture
//
//	                    encoded message
//	                          │
//	                          ▼
//	┌──────────────────────────────────────────────┐
//	│  Coordinator.Handle                          │
//	│  decode → kind → handler → encode            │
//	└──────────────────────────────────────────────┘
//	     │            │              │
//	     ▼            ▼              ▼
//	┌──────────┐ ┌──────────┐ ┌──────────────────┐
//	│  Node    │ │  Work    │ │    Solution      │
//	│ Registry │ │  Router  │ │   Aggregator     │
//	└──────────┘ └──────────┘ └──────────────────┘
//	     ▲         │      │           │      │
//	     │         ▼      ▼           ▼      ▼
//	┌──────────┐ ┌──────────┐ ┌──────────┐ ┌──────────┐
//	│ Liveness │ │ Request  │ │ Problem  │ │ Finished │
//	│ Monitor  │ │  Queue   │ │  Table   │ │  Store   │
//	└──────────┘ └──────────┘ └──────────┘ └──────────┘
//
// # Problem Lifecycle
//
//  1. A client sends SolveRequest; the problem id is minted and the request is
//     queued.
//  2. A TaskManager that can solve the type polls and receives DivideProblem.
//     The request is claimed by that TaskManager.
//  3. The TaskManager sends SolvePartialProblems. The request leaves the queue
//     and the problem enters the table with one Ongoing record per task.
//  4. ComputationalNodes poll and receive unclaimed tasks, at most their
//     declared parallelism at a time, and report Partial solutions.
//  5. Once every record is Partial, a TaskManager polls and receives the whole
//     record set as Solutions, merges it, and reports every task Final.
//  6. The final record set moves to the finished store, where SolutionRequest
//     finds it.
//
// # Claims and Eviction
//
// Requests, tasks and finalizations are claimed by the node they are handed
// to, so two pollers never receive the same unit of work. When the liveness
// monitor evicts a node its claims are released and the work goes to the next
// node that polls, unless Options.KeepClaimsOnEvict is set.
//
// # Error Handling
//
// Handle never fails. Undecodable messages, unknown kinds, lookup misses and
// handler panics are logged and answered with an empty reply. Allocation
// failures answer with id 0.
//
// # Thread Safety
//
// The registry guards its map with one RWMutex and mints ids under a separate
// mutex. The request queue has its own lock and id counter. The problem table
// is sharded by a murmur3 hash of the problem id, and each problem has its own
// mutex, so merges on one problem are serialized while merges on different
// problems run in parallel.
package coordinator
