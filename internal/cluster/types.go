package cluster

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// Role is the part a registered node plays in the cluster.
type Role string

const (
	// RoleComputationalNode solves partial problems.
	RoleComputationalNode Role = "ComputationalNode"
	// RoleTaskManager divides problems and merges partial solutions.
	RoleTaskManager Role = "TaskManager"
)

// ParseRole converts a wire string into a Role.
// Unknown strings are returned as-is together with an error so callers can
// still log what the node claimed to be.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleComputationalNode, RoleTaskManager:
		return Role(s), nil
	default:
		return Role(s), fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string { return string(r) }

// ThreadState is the activity state a node reports in its Status message.
type ThreadState string

const (
	StateIdle ThreadState = "Idle"
	StateBusy ThreadState = "Busy"
)

// NodeEntry is the coordinator's record of one registered node.
//
// Entries are owned by the node registry; values handed out are copies and
// mutating them has no effect on the registry.
type NodeEntry struct {
	LastHeartbeat  time.Time // Last registration or status report
	Role           Role      // ComputationalNode or TaskManager
	Capabilities   []string  // Problem types the node can work on
	ID             uint64    // Monotonic, never reused, never 0
	MaxParallelism int       // Declared number of parallel threads
}

// CanSolve reports whether the node declared problemType among its capabilities.
func (n NodeEntry) CanSolve(problemType string) bool {
	return slices.Contains(n.Capabilities, problemType)
}

// Expired reports whether the node has been silent for longer than timeout.
// A node exactly at the timeout boundary is still alive.
func (n NodeEntry) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(n.LastHeartbeat) > timeout
}

// Clone returns a deep copy of the entry.
func (n NodeEntry) Clone() NodeEntry {
	n.Capabilities = slices.Clone(n.Capabilities)
	return n
}

// Parallelism returns the number of tasks the node may be handed at once.
// Nodes that declare zero threads still get one task.
func (n NodeEntry) Parallelism() int {
	if n.MaxParallelism < 1 {
		return 1
	}
	return n.MaxParallelism
}
