package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dreamware/solvegrid/internal/logging"
)

// LivenessMonitor periodically evicts nodes that stopped sending Status reports.
//
// Each sweep snapshots the registry and evicts every node whose last heartbeat
// is strictly older than the timeout. Eviction is per node: a failing eviction
// callback for one node does not stop the rest of the sweep.
//
// Thread-safe: Sweep may run concurrently with Start.
type LivenessMonitor struct {
	registry *NodeRegistry
	onEvict  func(nodeID uint64) // Called after a node is removed, outside registry locks
	logger   hclog.Logger
	ctx      context.Context    // Internal context for Stop
	cancel   context.CancelFunc // Cancels ctx
	wg       sync.WaitGroup     // Tracks the Start loop
	interval time.Duration      // Sleep quantum between sweeps
	timeout  time.Duration      // Heartbeat silence after which a node is evicted
}

// NewLivenessMonitor creates a monitor over registry. It uses the registry's
// clock so tests can drive both with one fake time source.
//
// Parameters:
//   - registry: The node registry to sweep
//   - interval: How often to sweep
//   - timeout: How long a node may stay silent
//
// Example:
//
//	monitor := NewLivenessMonitor(registry, time.Second, 30*time.Second, logger)
//	go monitor.Start(ctx)
//	defer monitor.Stop()
func NewLivenessMonitor(registry *NodeRegistry, interval, timeout time.Duration, logger hclog.Logger) *LivenessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &LivenessMonitor{
		registry: registry,
		logger:   logging.OrDiscard(logger),
		ctx:      ctx,
		cancel:   cancel,
		interval: interval,
		timeout:  timeout,
	}
}

// SetOnEvict sets the callback invoked for every evicted node.
// It must be set before Start.
func (m *LivenessMonitor) SetOnEvict(callback func(nodeID uint64)) {
	m.onEvict = callback
}

// Timeout returns the heartbeat timeout nodes are told at registration.
func (m *LivenessMonitor) Timeout() time.Duration {
	return m.timeout
}

// Start sweeps every interval until ctx is done or Stop is called.
// It blocks; run it in its own goroutine.
func (m *LivenessMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started", "interval", m.interval, "timeout", m.timeout)

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			m.logger.Debug("liveness monitor stopping", "reason", "context canceled")
			return
		case <-m.ctx.Done():
			m.logger.Debug("liveness monitor stopping", "reason", "stopped")
			return
		}
	}
}

// Stop cancels the loop and waits for it to return.
func (m *LivenessMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("liveness monitor stopped")
}

// Sweep runs one eviction pass and returns the ids it evicted.
func (m *LivenessMonitor) Sweep() []uint64 {
	now := m.registry.now()

	var evicted []uint64
	for _, entry := range m.registry.Snapshot() {
		if !entry.Expired(now, m.timeout) {
			continue
		}
		if m.evict(entry.ID, now, now.Sub(entry.LastHeartbeat)) {
			evicted = append(evicted, entry.ID)
		}
	}
	return evicted
}

// evict removes one node if it is still expired and runs the callback,
// containing any panic so the sweep can move on to the next node.
func (m *LivenessMonitor) evict(nodeID uint64, now time.Time, silence time.Duration) (removed bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("eviction callback panicked", "node", nodeID, "panic", r)
		}
	}()

	if !m.registry.EvictIfExpired(nodeID, now, m.timeout) {
		return false
	}
	m.logger.Warn("node evicted", "node", nodeID, "silence", silence)

	removed = true
	if m.onEvict != nil {
		m.onEvict(nodeID)
	}
	return removed
}
