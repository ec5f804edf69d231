// Package storage keeps the solution sets of problems the cluster has finished.
//
// # Overview
//
// When every task of a problem reaches Final, the coordinator removes the
// problem from its in-flight tables and hands the encoded Solutions document
// to a FinishedStore. SolutionRequest messages for that problem are answered
// from the store from then on.
//
//	┌─────────────────────────────────────┐
//	│     coordinator.SolutionAggregator  │
//	└─────────────────────────────────────┘
//	                 │ Save(problemID, xml)
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          FinishedStore              │
//	└─────────────────────────────────────┘
//	         │                  │
//	         ▼                  ▼
//	   ┌───────────┐      ┌───────────┐
//	   │  Memory   │      │  Badger   │
//	   └───────────┘      └───────────┘
//
// # Implementations
//
// MemoryStore: map guarded by an RWMutex; values are copied on the way in and
// out. The default when no store path is configured.
//
// BadgerStore: badger v3 database. Keys are "finished/" followed by the
// big-endian problem id, so a prefix scan yields ids in numeric order.
//
// # Thread Safety
//
// Both implementations are safe for concurrent use.
package storage
