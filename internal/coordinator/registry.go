package coordinator

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dreamware/solvegrid/internal/cluster"
	"github.com/dreamware/solvegrid/internal/logging"
)

var (
	// ErrUnknownNode is returned when a node id is not (or no longer) registered.
	ErrUnknownNode = errors.New("unknown node")

	// ErrIDsExhausted is returned when a counter has no ids left to mint.
	ErrIDsExhausted = errors.New("id space exhausted")
)

// NodeRegistry is the authoritative set of nodes the coordinator knows about.
//
// Architecture:
//
//	┌──────────────────────────────────────┐
//	│            NodeRegistry              │
//	├──────────────────────────────────────┤
//	│  nodes:  map[id]*NodeEntry   (mu)    │
//	│  nextID: last minted id      (idMu)  │
//	└──────────────────────────────────────┘
//
// The node map and the id counter have separate locks so that minting an id
// never waits on a snapshot scan. Entries handed out are copies; the backing
// map never leaves the registry.
type NodeRegistry struct {
	nodes  map[uint64]*cluster.NodeEntry
	now    func() time.Time
	logger hclog.Logger
	mu     sync.RWMutex
	idMu   sync.Mutex
	nextID uint64
}

// NewNodeRegistry creates an empty registry. now supplies heartbeat
// timestamps; nil means time.Now.
//
// Example:
//
//	registry := NewNodeRegistry(time.Now, logger.Named("registry"))
//	id, _ := registry.Register(cluster.RoleComputationalNode, []string{"TSP"}, 4)
func NewNodeRegistry(now func() time.Time, logger hclog.Logger) *NodeRegistry {
	if now == nil {
		now = time.Now
	}
	return &NodeRegistry{
		nodes:  make(map[uint64]*cluster.NodeEntry),
		now:    now,
		logger: logging.OrDiscard(logger),
	}
}

// mintID returns the next node id. Ids start at 1; 0 is reserved.
func (r *NodeRegistry) mintID() (uint64, error) {
	r.idMu.Lock()
	defer r.idMu.Unlock()

	if r.nextID == math.MaxUint64 {
		return 0, ErrIDsExhausted
	}
	r.nextID++
	return r.nextID, nil
}

// Register adds a node and returns its id. The node counts as alive from now.
// Capabilities are copied.
func (r *NodeRegistry) Register(role cluster.Role, capabilities []string, maxParallelism int) (uint64, error) {
	id, err := r.mintID()
	if err != nil {
		return 0, err
	}

	entry := cluster.NodeEntry{
		ID:             id,
		Role:           role,
		Capabilities:   capabilities,
		MaxParallelism: maxParallelism,
		LastHeartbeat:  r.now(),
	}.Clone()

	r.mu.Lock()
	r.nodes[id] = &entry
	r.mu.Unlock()

	r.logger.Info("node registered", "node", id, "role", role,
		"capabilities", capabilities, "parallelism", maxParallelism)
	return id, nil
}

// Touch refreshes the node's heartbeat. It returns false for unknown nodes,
// which happens routinely when a node reports after being evicted.
func (r *NodeRegistry) Touch(nodeID uint64) bool {
	r.mu.Lock()
	entry, ok := r.nodes[nodeID]
	if ok {
		entry.LastHeartbeat = r.now()
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Error("heartbeat from unknown node", "node", nodeID)
	}
	return ok
}

// Lookup returns a copy of the node's entry. Absence is a normal outcome.
func (r *NodeRegistry) Lookup(nodeID uint64) (cluster.NodeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.nodes[nodeID]
	if !ok {
		return cluster.NodeEntry{}, false
	}
	return entry.Clone(), true
}

// Evict removes the node and reports whether it was present. Evicting an
// unknown node is a no-op.
func (r *NodeRegistry) Evict(nodeID uint64) bool {
	r.mu.Lock()
	_, ok := r.nodes[nodeID]
	delete(r.nodes, nodeID)
	r.mu.Unlock()
	return ok
}

// EvictIfExpired removes the node only if it is still silent for longer than
// timeout at now. The check and the removal happen under one lock, so a
// heartbeat that lands after a sweep took its snapshot keeps the node alive.
func (r *NodeRegistry) EvictIfExpired(nodeID uint64, now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.nodes[nodeID]
	if !ok || !entry.Expired(now, timeout) {
		return false
	}
	delete(r.nodes, nodeID)
	return true
}

// Snapshot returns copies of all entries ordered by id.
func (r *NodeRegistry) Snapshot() []cluster.NodeEntry {
	r.mu.RLock()
	entries := make([]cluster.NodeEntry, 0, len(r.nodes))
	for _, entry := range r.nodes {
		entries = append(entries, entry.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Count returns the number of registered nodes.
func (r *NodeRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// CountByRole returns the number of registered nodes per role.
func (r *NodeRegistry) CountByRole() map[cluster.Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[cluster.Role]int)
	for _, entry := range r.nodes {
		counts[entry.Role]++
	}
	return counts
}
