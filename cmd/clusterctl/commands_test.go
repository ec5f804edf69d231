package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/dreamware/solvegrid/internal/cluster"
	"github.com/dreamware/solvegrid/internal/coordinator"
	"github.com/dreamware/solvegrid/internal/protocol"
	"github.com/dreamware/solvegrid/internal/transport"
)

// startCoordinator serves a coordinator on an in-memory listener and points
// the CLI at it.
func startCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	c, err := coordinator.New(coordinator.Options{})
	require.NoError(t, err)

	ln := fasthttputil.NewInmemoryListener()
	srv := transport.NewHTTPServer("inmemory", time.Second, nil)
	srv.ListenOn(ln)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Serve(ctx, srv) }()

	dial = func(string) (net.Conn, error) { return ln.Dial() }
	t.Cleanup(func() {
		dial = nil
		cancel()
		shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
	})
	return c
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"clusterctl", "--coordinator", "http://coordinator/"}, args...))
	return out.String(), err
}

func handle(t *testing.T, c *coordinator.Coordinator, msg protocol.Message) protocol.Message {
	t.Helper()
	raw, err := protocol.Encode(msg)
	require.NoError(t, err)
	out := c.Handle(raw)
	if len(out) == 0 {
		return nil
	}
	reply, err := protocol.Decode(out)
	require.NoError(t, err)
	return reply
}

// finish divides problemID into one task and reports it final with data.
func finish(t *testing.T, c *coordinator.Coordinator, problemID uint64, data string) {
	t.Helper()
	reply := handle(t, c, &protocol.Register{Type: cluster.RoleTaskManager, SolvableProblems: []string{"SUM"}})
	tm := reply.(*protocol.RegisterResponse).ID

	_, ok := handle(t, c, &protocol.Status{ID: tm}).(*protocol.DivideProblem)
	require.True(t, ok)
	handle(t, c, &protocol.PartialProblems{ID: problemID, PartialProblems: []protocol.PartialProblem{{TaskID: 0, Data: protocol.Blob("x")}}})
	handle(t, c, &protocol.Solutions{ID: problemID, Solutions: []protocol.Solution{{TaskID: 0, Type: protocol.SolutionFinal, Data: protocol.Blob(data)}}})
}

func TestSolveAndSolution(t *testing.T) {
	c := startCoordinator(t)

	out, err := runCLI(t, "solve", "--type", "SUM", "--data", "[1,2,3]")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = runCLI(t, "solution", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "problem 1")
	assert.Contains(t, out, "not divided yet")

	finish(t, c, 1, "6")

	out, err = runCLI(t, "solution", "--output", "raw", "1")
	require.NoError(t, err)
	assert.Equal(t, "6", out)

	out, err = runCLI(t, "solution", "--output", "json", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "Final"`)
	assert.Contains(t, out, `"data": "6"`)

	out, err = runCLI(t, "solution", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "TASK")
	assert.Contains(t, out, "Final")
}

func TestSolutionWait(t *testing.T) {
	c := startCoordinator(t)

	out, err := runCLI(t, "solve", "--type", "SUM", "--data", "[4]")
	require.NoError(t, err)
	require.Equal(t, "1\n", out)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := runCLI(t, "solution", "--wait", "--interval", "10ms", "--output", "raw", "1")
		done <- result{out, err}
	}()

	time.Sleep(50 * time.Millisecond)
	finish(t, c, 1, "4")

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "4", r.out)
	case <-time.After(5 * time.Second):
		t.Fatal("solution --wait did not return")
	}
}

func TestCLIErrors(t *testing.T) {
	startCoordinator(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown problem", args: []string{"solution", "9"}, wantErr: "unknown"},
		{name: "bad id", args: []string{"solution", "abc"}, wantErr: "invalid problem id"},
		{name: "missing type", args: []string{"solve", "--data", "x"}, wantErr: "type"},
		{name: "data and file", args: []string{"solve", "--type", "SUM", "--data", "x", "--file", "y"}, wantErr: "mutually exclusive"},
		{name: "empty data", args: []string{"solve", "--type", "SUM"}},
		{name: "bad format", args: []string{"solution", "--output", "xml", "1"}, wantErr: "unknown output format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q lacks %q", err, tt.wantErr)
		})
	}
}
