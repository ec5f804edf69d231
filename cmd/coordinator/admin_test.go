package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/solvegrid/internal/cluster"
	"github.com/dreamware/solvegrid/internal/coordinator"
	"github.com/dreamware/solvegrid/internal/logging"
	"github.com/dreamware/solvegrid/internal/storage"
)

func newTestAdmin(t *testing.T) (*coordinator.Coordinator, http.Handler) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := coordinator.New(coordinator.Options{Registerer: reg})
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}
	return c, newAdminMux(c, reg)
}

// TestHealth tests the liveness endpoint
func TestHealth(t *testing.T) {
	_, mux := newTestAdmin(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

// TestHandleNodes tests listing and filtering registered nodes
func TestHandleNodes(t *testing.T) {
	c, mux := newTestAdmin(t)
	registry := c.Registry()
	if _, err := registry.Register(cluster.RoleTaskManager, []string{"TSP"}, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Register(cluster.RoleComputationalNode, []string{"TSP", "DVRP"}, 4); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Requests().Enqueue("TSP", 0, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		method     string
		query      string
		wantStatus int
		wantIDs    []uint64
	}{
		{name: "all nodes", method: http.MethodGet, wantStatus: http.StatusOK, wantIDs: []uint64{1, 2}},
		{name: "task managers", method: http.MethodGet, query: "?role=TaskManager", wantStatus: http.StatusOK, wantIDs: []uint64{1}},
		{name: "computational nodes", method: http.MethodGet, query: "?role=ComputationalNode", wantStatus: http.StatusOK, wantIDs: []uint64{2}},
		{name: "unknown role", method: http.MethodGet, query: "?role=Client", wantStatus: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodPost, wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, "/nodes"+tt.query, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var view clusterView
			if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if view.PendingRequests != 1 {
				t.Errorf("pending_requests = %d, want 1", view.PendingRequests)
			}
			if len(view.Nodes) != len(tt.wantIDs) {
				t.Fatalf("nodes = %d, want %d", len(view.Nodes), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if view.Nodes[i].ID != id {
					t.Errorf("nodes[%d].id = %d, want %d", i, view.Nodes[i].ID, id)
				}
			}
		})
	}
}

// TestMetricsEndpoint tests that coordinator metrics are exported
func TestMetricsEndpoint(t *testing.T) {
	c, mux := newTestAdmin(t)
	if _, err := c.Registry().Register(cluster.RoleTaskManager, []string{"TSP"}, 1); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`solvegrid_registry_nodes{role="TaskManager"} 1`,
		"solvegrid_router_pending_requests 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

// TestOpenStore tests choosing between the in-memory and badger stores
func TestOpenStore(t *testing.T) {
	logger := logging.New("test", logging.Options{Level: "error"})

	mem, err := openStore("", logger)
	if err != nil {
		t.Fatalf("openStore(\"\"): %v", err)
	}
	if _, ok := mem.(*storage.MemoryStore); !ok {
		t.Errorf("openStore(\"\") = %T, want *storage.MemoryStore", mem)
	}

	disk, err := openStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("openStore(dir): %v", err)
	}
	defer disk.Close()
	if _, ok := disk.(*storage.BadgerStore); !ok {
		t.Errorf("openStore(dir) = %T, want *storage.BadgerStore", disk)
	}
}
