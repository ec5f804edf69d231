package integration

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/dreamware/solvegrid/internal/agent"
	"github.com/dreamware/solvegrid/internal/cluster"
	"github.com/dreamware/solvegrid/internal/coordinator"
	"github.com/dreamware/solvegrid/internal/logging"
	"github.com/dreamware/solvegrid/internal/protocol"
	"github.com/dreamware/solvegrid/internal/solver"
	"github.com/dreamware/solvegrid/internal/storage"
	"github.com/dreamware/solvegrid/internal/transport"
)

// TestSystem is a coordinator served over an in-memory HTTP listener plus
// the agents attached to it.
type TestSystem struct {
	t       *testing.T
	coord   *coordinator.Coordinator
	store   *storage.BadgerStore
	server  *transport.HTTPServer
	ln      *fasthttputil.InmemoryListener
	cancel  context.CancelFunc
	served  chan error
	agents  sync.WaitGroup
	agentCtx context.Context
	stopAll context.CancelFunc
}

// NewTestSystem starts a coordinator whose finished problems live in a
// badger store under dir.
func NewTestSystem(t *testing.T, dir string, timeout time.Duration) *TestSystem {
	t.Helper()
	logger := logging.New("coordinator", logging.Options{Level: "warn"})

	store, err := storage.OpenBadgerStore(dir, logger.Named("store"))
	require.NoError(t, err)

	coord, err := coordinator.New(coordinator.Options{
		Store:         store,
		Logger:        logger,
		NodeTimeout:   timeout,
		SweepInterval: timeout / 10,
	})
	require.NoError(t, err)

	ts := &TestSystem{
		t:      t,
		coord:  coord,
		store:  store,
		ln:     fasthttputil.NewInmemoryListener(),
		served: make(chan error, 1),
	}
	ts.server = transport.NewHTTPServer("inmemory", 2*time.Second, logger.Named("transport"))
	ts.server.ListenOn(ts.ln)

	var ctx context.Context
	ctx, ts.cancel = context.WithCancel(context.Background())
	ts.agentCtx, ts.stopAll = context.WithCancel(context.Background())
	coord.Start(ctx)
	go func() { ts.served <- coord.Serve(ctx, ts.server) }()

	return ts
}

// Client returns a client connected to the coordinator.
func (ts *TestSystem) Client() *transport.HTTPClient {
	return transport.NewHTTPClient("http://coordinator/", transport.WithDial(func(string) (net.Conn, error) {
		return ts.ln.Dial()
	}))
}

// StartAgent runs an agent with the sum script until the system stops.
func (ts *TestSystem) StartAgent(role cluster.Role, parallelism int) {
	ts.t.Helper()
	sum, err := solver.LoadScript(filepath.Join("..", "..", "solvers", "sum.star"), "", nil)
	require.NoError(ts.t, err)

	a, err := agent.New(agent.Config{
		Role:            role,
		Parallelism:     parallelism,
		PollInterval:    10 * time.Millisecond,
		RegisterBackoff: 20 * time.Millisecond,
	}, ts.Client(), solver.NewRegistry(sum), logging.New(string(role), logging.Options{Level: "warn"}))
	require.NoError(ts.t, err)

	ts.agents.Add(1)
	go func() {
		defer ts.agents.Done()
		if err := a.Run(ts.agentCtx); err != nil {
			ts.t.Errorf("agent %s: %v", role, err)
		}
	}()
}

// exchange sends one message and decodes the reply; nil means an empty reply.
func (ts *TestSystem) exchange(msg protocol.Message) (protocol.Message, error) {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return nil, err
	}
	out, err := ts.Client().Exchange(context.Background(), raw)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return protocol.Decode(out)
}

// Send exchanges one message with the coordinator, failing the test on error.
func (ts *TestSystem) Send(msg protocol.Message) protocol.Message {
	ts.t.Helper()
	reply, err := ts.exchange(msg)
	require.NoError(ts.t, err)
	return reply
}

// Submit sends a SolveRequest and returns the problem id.
func (ts *TestSystem) Submit(problemType, data string) uint64 {
	ts.t.Helper()
	reply, ok := ts.Send(&protocol.SolveRequest{ProblemType: problemType, Data: protocol.Blob(data)}).(*protocol.SolveRequestResponse)
	require.True(ts.t, ok)
	require.NotZero(ts.t, reply.ID)
	return reply.ID
}

// WaitFinal polls SolutionRequest until every record of the problem is Final.
func (ts *TestSystem) WaitFinal(problemID uint64) *protocol.Solutions {
	ts.t.Helper()
	var solutions *protocol.Solutions
	require.Eventually(ts.t, func() bool {
		reply, err := ts.exchange(&protocol.SolutionRequest{ID: problemID})
		s, ok := reply.(*protocol.Solutions)
		if err != nil || !ok || len(s.Solutions) == 0 {
			return false
		}
		for _, sol := range s.Solutions {
			if sol.Type != protocol.SolutionFinal {
				return false
			}
		}
		solutions = s
		return true
	}, 10*time.Second, 20*time.Millisecond)
	return solutions
}

// Stop stops the agents, then the coordinator, and closes the store.
func (ts *TestSystem) Stop() {
	ts.stopAll()
	ts.agents.Wait()

	ts.cancel()
	select {
	case err := <-ts.served:
		assert.NoError(ts.t, err)
	case <-time.After(5 * time.Second):
		ts.t.Error("coordinator did not stop serving")
	}
	ts.coord.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = ts.server.Shutdown(ctx)
	require.NoError(ts.t, ts.store.Close())
}

// TestSolveAcrossCluster runs a SUM problem through one TaskManager and two
// ComputationalNodes.
func TestSolveAcrossCluster(t *testing.T) {
	ts := NewTestSystem(t, t.TempDir(), time.Second)
	defer ts.Stop()

	ts.StartAgent(cluster.RoleTaskManager, 1)
	ts.StartAgent(cluster.RoleComputationalNode, 2)
	ts.StartAgent(cluster.RoleComputationalNode, 1)

	first := ts.Submit("SUM", "[1,2,3,4,5]")
	second := ts.Submit("SUM", "[10,20,30,40,50,60,70]")

	for id, want := range map[uint64]string{first: "15", second: "280"} {
		solutions := ts.WaitFinal(id)
		assert.Equal(t, "SUM", solutions.ProblemType)
		for _, sol := range solutions.Solutions {
			assert.Equal(t, want, string(sol.Data), "problem %d task %d", id, sol.TaskID)
		}
	}
}

// TestSilentNodeWorkIsReassigned has a node claim tasks and go silent; after
// its eviction a live node finishes the problem.
func TestSilentNodeWorkIsReassigned(t *testing.T) {
	ts := NewTestSystem(t, t.TempDir(), 200*time.Millisecond)
	defer ts.Stop()

	reg, ok := ts.Send(&protocol.Register{
		Type:             cluster.RoleComputationalNode,
		SolvableProblems: []string{"SUM"},
		ParallelThreads:  8,
	}).(*protocol.RegisterResponse)
	require.True(t, ok)

	ts.StartAgent(cluster.RoleTaskManager, 1)
	id := ts.Submit("SUM", "[1,2,3,4,5,6]")

	// Claim every task as the node that will never report back.
	require.Eventually(t, func() bool {
		reply, err := ts.exchange(&protocol.Status{ID: reg.ID})
		_, ok := reply.(*protocol.PartialProblems)
		return err == nil && ok
	}, 5*time.Second, 10*time.Millisecond)

	ts.StartAgent(cluster.RoleComputationalNode, 2)

	solutions := ts.WaitFinal(id)
	assert.Equal(t, "21", string(solutions.Solutions[0].Data))

	assert.Eventually(t, func() bool {
		_, alive := ts.coord.Registry().Lookup(reg.ID)
		return !alive
	}, 5*time.Second, 10*time.Millisecond, "silent node should have been evicted")
}

// TestFinishedProblemsSurviveRestart verifies finished solutions are served
// from the store after a restart and new ids continue after them.
func TestFinishedProblemsSurviveRestart(t *testing.T) {
	dir := t.TempDir()

	ts := NewTestSystem(t, dir, time.Second)
	ts.StartAgent(cluster.RoleTaskManager, 1)
	ts.StartAgent(cluster.RoleComputationalNode, 4)
	id := ts.Submit("SUM", "[7,8,9]")
	ts.WaitFinal(id)
	ts.Stop()

	ts = NewTestSystem(t, dir, time.Second)
	defer ts.Stop()

	solutions, ok := ts.Send(&protocol.SolutionRequest{ID: id}).(*protocol.Solutions)
	require.True(t, ok)
	require.NotEmpty(t, solutions.Solutions)
	assert.Equal(t, "24", string(solutions.Solutions[0].Data))

	next := ts.Submit("SUM", "[1]")
	assert.Equal(t, id+1, next)
}
