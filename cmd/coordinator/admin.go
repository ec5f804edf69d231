package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slices"

	"github.com/dreamware/solvegrid/internal/cluster"
	"github.com/dreamware/solvegrid/internal/coordinator"
)

// nodeView is the JSON shape of one registry entry on /nodes.
type nodeView struct {
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	Role           string    `json:"role"`
	Capabilities   []string  `json:"capabilities"`
	ID             uint64    `json:"id"`
	MaxParallelism int       `json:"max_parallelism"`
}

type clusterView struct {
	Nodes            []nodeView `json:"nodes"`
	PendingRequests  int        `json:"pending_requests"`
	InFlightProblems int        `json:"inflight_problems"`
}

// newAdminMux serves the private endpoints: health, cluster state and metrics.
func newAdminMux(c *coordinator.Coordinator, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/nodes", func(w http.ResponseWriter, r *http.Request) {
		handleNodes(c, w, r)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// handleNodes lists registered nodes, optionally filtered by ?role=.
func handleNodes(c *coordinator.Coordinator, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := c.Registry().Snapshot()
	if role := r.URL.Query().Get("role"); role != "" {
		if _, err := cluster.ParseRole(role); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		entries = slices.DeleteFunc(entries, func(n cluster.NodeEntry) bool {
			return string(n.Role) != role
		})
	}

	view := clusterView{
		Nodes:            make([]nodeView, 0, len(entries)),
		PendingRequests:  c.Requests().Len(),
		InFlightProblems: c.Problems().Len(),
	}
	for _, n := range entries {
		view.Nodes = append(view.Nodes, nodeView{
			LastHeartbeat:  n.LastHeartbeat,
			Role:           string(n.Role),
			Capabilities:   n.Capabilities,
			ID:             n.ID,
			MaxParallelism: n.MaxParallelism,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(view)
}
