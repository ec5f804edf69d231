package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/solvegrid/internal/cluster"
	"github.com/dreamware/solvegrid/internal/logging"
	"github.com/dreamware/solvegrid/internal/protocol"
	"github.com/dreamware/solvegrid/internal/storage"
	"github.com/dreamware/solvegrid/internal/transport"
)

const (
	// DefaultNodeTimeout is how long a node may stay silent before eviction.
	DefaultNodeTimeout = 30 * time.Second

	// DefaultSweepInterval is the liveness monitor's sleep quantum.
	DefaultSweepInterval = time.Second

	acceptBackoff = 50 * time.Millisecond
)

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	Now           func() time.Time      // Clock shared by every component; nil means time.Now
	Store         storage.FinishedStore // Finished problems; nil means an in-memory store
	Logger        hclog.Logger
	Registerer    prometheus.Registerer // Metrics are disabled when nil
	NodeTimeout   time.Duration
	SweepInterval time.Duration

	// KeepClaimsOnEvict leaves work claimed by an evicted node assigned to it,
	// so it is never completed. It also disables claim leases. By default the
	// claims are released and the work is handed to the next node that polls,
	// and a claim lapses after NodeTimeout unless its holder reports Busy.
	KeepClaimsOnEvict bool
}

// handler processes one decoded message. A non-nil reply is sent even when
// err is set, which is how allocation failures report id 0.
type handler func(msg protocol.Message) (protocol.Message, error)

// Coordinator is the server-side orchestrator. It owns the node registry,
// request queue, problem table, router and aggregator, and exposes Handle as
// the single entry point for encoded messages.
type Coordinator struct {
	registry   *NodeRegistry
	liveness   *LivenessMonitor
	requests   *RequestQueue
	problems   *ProblemTable
	router     *WorkRouter
	aggregator *SolutionAggregator
	store      storage.FinishedStore
	metrics    *Metrics
	logger     hclog.Logger
	handlers   map[protocol.Kind]handler
	wg         sync.WaitGroup
	keepClaims bool
}

// New builds a coordinator. Problem ids continue after the highest id in the
// finished store.
//
// Example:
//
//	c, err := coordinator.New(coordinator.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	c.Start(ctx)
//	defer c.Stop()
//	err = c.Serve(ctx, server)
func New(opts Options) (*Coordinator, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Store == nil {
		opts.Store = storage.NewMemoryStore()
	}
	if opts.NodeTimeout <= 0 {
		opts.NodeTimeout = DefaultNodeTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	logger := logging.OrDiscard(opts.Logger)

	finished, err := opts.Store.IDs()
	if err != nil {
		return nil, fmt.Errorf("list finished problems: %w", err)
	}
	var lastID uint64
	if n := len(finished); n > 0 {
		lastID = finished[n-1]
	}

	c := &Coordinator{
		registry:   NewNodeRegistry(opts.Now, logger.Named("registry")),
		requests:   NewRequestQueue(lastID, opts.Now),
		problems:   NewProblemTable(opts.Now),
		store:      opts.Store,
		logger:     logger,
		keepClaims: opts.KeepClaimsOnEvict,
	}
	if !opts.KeepClaimsOnEvict {
		c.requests.SetLease(opts.NodeTimeout)
		c.problems.SetLease(opts.NodeTimeout)
	}
	if opts.Registerer != nil {
		c.metrics = NewMetrics(opts.Registerer)
		c.metrics.registerGauges(c)
	}

	c.liveness = NewLivenessMonitor(c.registry, opts.SweepInterval, opts.NodeTimeout, logger.Named("liveness"))
	c.liveness.SetOnEvict(c.onEvict)
	c.router = NewWorkRouter(c.registry, c.requests, c.problems, logger.Named("router"))
	c.aggregator = NewSolutionAggregator(c.problems, c.store, c.metrics, logger.Named("aggregator"))

	c.handlers = map[protocol.Kind]handler{
		protocol.KindRegister:        c.handleRegister,
		protocol.KindStatus:          c.handleStatus,
		protocol.KindSolveRequest:    c.handleSolveRequest,
		protocol.KindPartialProblems: c.handlePartialProblems,
		protocol.KindSolutions:       c.handleSolutions,
		protocol.KindSolutionRequest: c.handleSolutionRequest,
	}

	if lastID > 0 {
		logger.Info("resuming after finished problems", "finished", len(finished), "last_problem", lastID)
	}
	return c, nil
}

// Registry returns the node registry.
func (c *Coordinator) Registry() *NodeRegistry { return c.registry }

// Requests returns the pending request queue.
func (c *Coordinator) Requests() *RequestQueue { return c.requests }

// Problems returns the in-flight problem table.
func (c *Coordinator) Problems() *ProblemTable { return c.problems }

// Aggregator returns the solution aggregator.
func (c *Coordinator) Aggregator() *SolutionAggregator { return c.aggregator }

// Liveness returns the liveness monitor.
func (c *Coordinator) Liveness() *LivenessMonitor { return c.liveness }

// Start launches the liveness monitor. It stops when ctx is done or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.liveness.Start(ctx)
	}()
}

// Stop stops the liveness monitor and waits for it and every open exchange
// handler to return.
func (c *Coordinator) Stop() {
	c.liveness.Stop()
	c.wg.Wait()
}

// Serve accepts exchanges from tr and handles each on its own goroutine until
// ctx is done or tr is closed. It waits for running handlers before returning.
func (c *Coordinator) Serve(ctx context.Context, tr transport.Transport) error {
	if err := tr.Listen(); err != nil {
		return err
	}

	for {
		conn, err := tr.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				c.wg.Wait()
				return nil
			}
			c.logger.Error("accept failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(acceptBackoff):
			}
			continue
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.exchange(tr, conn)
		}()
	}
}

func (c *Coordinator) exchange(tr transport.Transport, conn transport.Conn) {
	defer func() {
		if err := tr.Close(conn); err != nil {
			c.logger.Error("close exchange", "exchange", conn.ID(), "error", err)
		}
	}()

	raw, err := tr.Receive(conn)
	if err != nil {
		c.logger.Error("receive failed", "exchange", conn.ID(), "error", err)
		return
	}
	if err := tr.Send(conn, c.Handle(raw)); err != nil {
		c.logger.Error("send failed", "exchange", conn.ID(), "error", err)
	}
}

// Handle processes one encoded message and returns the encoded reply. Every
// failure, including a panic in a handler, is logged and answered with an
// empty reply.
func (c *Coordinator) Handle(raw []byte) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked", "panic", r)
			c.metrics.failure("panic")
			out = nil
		}
	}()

	msg, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Error("undecodable message", "error", err, "size", len(raw))
		c.metrics.failure("protocol")
		return nil
	}
	kind := msg.Kind()
	c.metrics.message(kind.String())

	h, ok := c.handlers[kind]
	if !ok {
		c.logger.Error("no handler for message kind", "kind", kind)
		c.metrics.failure("unhandled_kind")
		return nil
	}

	reply, err := h(msg)
	if err != nil {
		c.logger.Error("message failed", "kind", kind, "error", err)
		c.metrics.failure(failureReason(err))
	}
	if reply == nil {
		return nil
	}

	out, err = protocol.Encode(reply)
	if err != nil {
		c.logger.Error("encode reply", "kind", reply.Kind(), "error", err)
		c.metrics.failure("encode")
		return nil
	}
	return out
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownNode), errors.Is(err, ErrUnknownProblem), errors.Is(err, ErrUnknownTask):
		return "lookup"
	case errors.Is(err, ErrDuplicateProblem), errors.Is(err, ErrIDsExhausted):
		return "allocation"
	default:
		return "handler"
	}
}

func (c *Coordinator) handleRegister(m protocol.Message) (protocol.Message, error) {
	msg := m.(*protocol.Register)

	role, err := cluster.ParseRole(string(msg.Type))
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	id, err := c.registry.Register(role, msg.SolvableProblems, int(msg.ParallelThreads))
	if err != nil {
		return &protocol.RegisterResponse{}, fmt.Errorf("register: %w", err)
	}
	return &protocol.RegisterResponse{
		ID:      id,
		Timeout: protocol.Millis(c.liveness.Timeout()),
	}, nil
}

func (c *Coordinator) handleStatus(m protocol.Message) (protocol.Message, error) {
	msg := m.(*protocol.Status)

	if !c.registry.Touch(msg.ID) {
		return nil, fmt.Errorf("status from node %d: %w", msg.ID, ErrUnknownNode)
	}
	node, ok := c.registry.Lookup(msg.ID)
	if !ok {
		// Evicted between Touch and Lookup.
		return nil, fmt.Errorf("status from node %d: %w", msg.ID, ErrUnknownNode)
	}

	busy := 0
	for _, th := range msg.Threads {
		if th.State == cluster.StateBusy {
			busy++
		}
	}
	c.logger.Trace("status", "node", node.ID, "threads", len(msg.Threads), "busy", busy)

	// A busy node is still working on what it claimed; an idle one lets its
	// leases run out, which recovers work lost to a dropped reply or a failed job.
	if busy > 0 {
		c.requests.Renew(node.ID)
		c.problems.Renew(node.ID)
	}

	return c.router.Route(node), nil
}

func (c *Coordinator) handleSolveRequest(m protocol.Message) (protocol.Message, error) {
	msg := m.(*protocol.SolveRequest)

	if msg.ProblemType == "" {
		return &protocol.SolveRequestResponse{}, errors.New("solve request without problem type")
	}

	id, err := c.requests.Enqueue(msg.ProblemType, protocol.Duration(msg.SolvingTimeout), msg.Data)
	if err != nil {
		return &protocol.SolveRequestResponse{}, fmt.Errorf("enqueue %s request: %w", msg.ProblemType, err)
	}

	c.logger.Info("solve request queued", "problem", id, "type", msg.ProblemType, "size", len(msg.Data))
	return &protocol.SolveRequestResponse{ID: id}, nil
}

func (c *Coordinator) handlePartialProblems(m protocol.Message) (protocol.Message, error) {
	msg := m.(*protocol.PartialProblems)

	req, ok := c.requests.Get(msg.ID)
	if !ok {
		return nil, fmt.Errorf("divided problem %d is not pending: %w", msg.ID, ErrUnknownProblem)
	}
	if msg.SolvingTimeout == 0 {
		msg.SolvingTimeout = protocol.Millis(req.Timeout)
	}
	if msg.ProblemType == "" {
		msg.ProblemType = req.ProblemType
	}

	if err := c.problems.Add(msg); err != nil {
		return nil, err
	}
	c.requests.Remove(msg.ID)

	c.logger.Info("problem divided", "problem", msg.ID, "type", msg.ProblemType,
		"tasks", len(msg.PartialProblems))
	return nil, nil
}

func (c *Coordinator) handleSolutions(m protocol.Message) (protocol.Message, error) {
	msg := m.(*protocol.Solutions)

	if _, err := c.aggregator.Submit(msg); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Coordinator) handleSolutionRequest(m protocol.Message) (protocol.Message, error) {
	msg := m.(*protocol.SolutionRequest)

	solutions, err := c.aggregator.Solution(msg.ID)
	if err == nil {
		return solutions, nil
	}
	if !errors.Is(err, ErrUnknownProblem) {
		return nil, err
	}

	// Not divided yet: answer with the problem and no records.
	if req, ok := c.requests.Get(msg.ID); ok {
		return &protocol.Solutions{ProblemType: req.ProblemType, ID: req.ID}, nil
	}
	return nil, err
}

// onEvict releases the work an evicted node was holding.
func (c *Coordinator) onEvict(nodeID uint64) {
	c.metrics.evicted()
	if c.keepClaims {
		return
	}

	requests := c.requests.Release(nodeID)
	tasks, finalizations := c.problems.Release(nodeID)

	c.metrics.released("request", len(requests))
	c.metrics.released("task", tasks)
	c.metrics.released("finalization", finalizations)

	if len(requests)+tasks+finalizations > 0 {
		c.logger.Info("released work of evicted node", "node", nodeID,
			"requests", requests, "tasks", tasks, "finalizations", finalizations)
	}
}
