// Package agent runs the node side of the cluster protocol: it registers with
// the coordinator, reports status on a heartbeat, and works through the
// assignments the coordinator hands back.
//
// A TaskManager agent divides problems and merges their partial solutions; a
// ComputationalNode agent solves partial problems. Both use the same two
// loops:
//
//	heartbeat   Status → reply → enqueue job          every timeout/2
//	processing  dequeue one job → Solver → report      every poll interval
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/dreamware/solvegrid/internal/cluster"
	"github.com/dreamware/solvegrid/internal/logging"
	"github.com/dreamware/solvegrid/internal/protocol"
	"github.com/dreamware/solvegrid/internal/solver"
)

const (
	DefaultPollInterval     = time.Second
	DefaultRegisterAttempts = 10
	DefaultRegisterBackoff  = 400 * time.Millisecond
	DefaultPublishAttempts  = 3

	minHeartbeat = 10 * time.Millisecond
)

// ErrNotRegistered is returned when a heartbeat is attempted before Register succeeded.
var ErrNotRegistered = errors.New("agent is not registered")

// Exchanger sends one encoded message to the coordinator and returns the reply.
type Exchanger interface {
	Exchange(ctx context.Context, payload []byte) ([]byte, error)
}

// ExchangeFunc adapts a function to the Exchanger interface.
type ExchangeFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Exchange calls f.
func (f ExchangeFunc) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// Config configures an Agent. Zero values select defaults.
type Config struct {
	Now              func() time.Time
	Role             cluster.Role
	PollInterval     time.Duration // processing loop quantum
	RegisterBackoff  time.Duration // pause between register or publish attempts
	RegisterAttempts int
	PublishAttempts  int
	Parallelism      int // threads declared at registration; solve concurrency
}

type jobKind int

const (
	jobDivide jobKind = iota
	jobSolve
	jobMerge
)

func (k jobKind) String() string {
	switch k {
	case jobDivide:
		return "divide"
	case jobSolve:
		return "solve"
	default:
		return "merge"
	}
}

// job is one assignment waiting in the local queue. Exactly one of the
// message fields is set, matching kind.
type job struct {
	divide    *protocol.DivideProblem
	partial   *protocol.PartialProblems
	solutions *protocol.Solutions
	kind      jobKind
}

func (j job) problem() (uint64, string) {
	switch j.kind {
	case jobDivide:
		return j.divide.ID, j.divide.ProblemType
	case jobSolve:
		return j.partial.ID, j.partial.ProblemType
	default:
		return j.solutions.ID, j.solutions.ProblemType
	}
}

// Agent is one node process.
type Agent struct {
	stateSince time.Time
	lastAck    time.Time // last exchange the coordinator answered
	exchanger  Exchanger
	solvers    *solver.Registry
	logger     hclog.Logger
	cfg        Config
	instance   string
	current    string // problem type of the job being processed
	queue      []job
	timeout    time.Duration
	id         atomic.Uint64
	problemID  uint64
	mu         sync.Mutex
	busy       bool
}

// New creates an agent for cfg.Role whose capabilities are the names in solvers.
func New(cfg Config, exchanger Exchanger, solvers *solver.Registry, logger hclog.Logger) (*Agent, error) {
	if _, err := cluster.ParseRole(string(cfg.Role)); err != nil {
		return nil, err
	}
	if len(solvers.Names()) == 0 {
		return nil, errors.New("agent needs at least one solver")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RegisterAttempts <= 0 {
		cfg.RegisterAttempts = DefaultRegisterAttempts
	}
	if cfg.RegisterBackoff <= 0 {
		cfg.RegisterBackoff = DefaultRegisterBackoff
	}
	if cfg.PublishAttempts <= 0 {
		cfg.PublishAttempts = DefaultPublishAttempts
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.Parallelism > 255 {
		cfg.Parallelism = 255
	}

	instance := uuid.NewString()
	return &Agent{
		stateSince: cfg.Now(),
		exchanger:  exchanger,
		solvers:    solvers,
		logger:     logging.OrDiscard(logger).With("instance", instance, "role", cfg.Role),
		cfg:        cfg,
		instance:   instance,
	}, nil
}

// ID returns the id assigned by the coordinator, or 0 before registration.
func (a *Agent) ID() uint64 { return a.id.Load() }

// Instance returns the agent's process-unique instance id.
func (a *Agent) Instance() string { return a.instance }

// Timeout returns the liveness timeout the coordinator announced.
func (a *Agent) Timeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timeout
}

// State reports Busy while jobs are queued or running.
func (a *Agent) State() cluster.ThreadState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Agent) stateLocked() cluster.ThreadState {
	if a.busy || len(a.queue) > 0 {
		return cluster.StateBusy
	}
	return cluster.StateIdle
}

// QueueLen returns the number of jobs waiting.
func (a *Agent) QueueLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Run registers and then runs the heartbeat and processing loops until ctx
// is done. It returns an error only when registration fails.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Register(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		a.processLoop(ctx)
	}()
	wg.Wait()

	a.logger.Info("agent stopped", "node", a.ID())
	return nil
}

// Register announces the agent to the coordinator, retrying with a fixed
// backoff.
func (a *Agent) Register(ctx context.Context) error {
	msg := a.registration()

	var lastErr error
	for attempt := 1; attempt <= a.cfg.RegisterAttempts; attempt++ {
		lastErr = a.register(ctx, msg)
		if lastErr == nil {
			return nil
		}
		a.logger.Warn("register failed", "attempt", attempt, "of", a.cfg.RegisterAttempts, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.RegisterBackoff):
		}
	}
	return fmt.Errorf("register after %d attempts: %w", a.cfg.RegisterAttempts, lastErr)
}

func (a *Agent) registration() *protocol.Register {
	return &protocol.Register{
		Type:             a.cfg.Role,
		SolvableProblems: a.solvers.Names(),
		ParallelThreads:  uint8(a.cfg.Parallelism),
	}
}

func (a *Agent) register(ctx context.Context, msg *protocol.Register) error {
	reply, err := a.send(ctx, msg)
	if err != nil {
		return err
	}
	resp, ok := reply.(*protocol.RegisterResponse)
	if !ok {
		return fmt.Errorf("unexpected register reply %T", reply)
	}
	if resp.ID == 0 {
		return errors.New("coordinator could not allocate an id")
	}

	a.id.Store(resp.ID)
	a.mu.Lock()
	a.timeout = protocol.Duration(resp.Timeout)
	a.lastAck = a.cfg.Now()
	a.mu.Unlock()

	a.logger.Info("registered", "node", resp.ID, "timeout", a.Timeout(), "capabilities", msg.SolvableProblems)
	return nil
}

// send encodes msg, exchanges it and decodes the reply. A nil reply means the
// coordinator had nothing to say.
func (a *Agent) send(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return nil, err
	}
	out, err := a.exchanger.Exchange(ctx, raw)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return protocol.Decode(out)
}

// heartbeatInterval keeps reports well inside the coordinator's timeout.
func (a *Agent) heartbeatInterval() time.Duration {
	interval := a.Timeout() / 2
	if interval < minHeartbeat {
		interval = minHeartbeat
	}
	return interval
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.heartbeatInterval())
	defer ticker.Stop()

	for {
		a.safely("heartbeat", func() {
			if err := a.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("heartbeat failed", "error", err)
			}
		})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Agent) processLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		a.safely("process", func() { a.ProcessNext(ctx) })

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// safely runs one loop iteration, containing any panic.
func (a *Agent) safely(loop string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("loop iteration panicked", "loop", loop, "panic", r)
		}
	}()
	fn()
}

// Heartbeat sends one Status report and queues whatever the reply assigns.
//
// An agent that could not reach the coordinator for longer than the liveness
// timeout has been evicted, and the coordinator ignores Status under the old
// id. Such an agent registers again before reporting.
func (a *Agent) Heartbeat(ctx context.Context) error {
	id := a.ID()
	if id == 0 {
		return ErrNotRegistered
	}

	a.mu.Lock()
	silence := a.cfg.Now().Sub(a.lastAck)
	evicted := a.timeout > 0 && silence > a.timeout
	a.mu.Unlock()
	if evicted {
		a.logger.Warn("coordinator unreachable past the timeout, registering again", "node", id, "silence", silence)
		if err := a.register(ctx, a.registration()); err != nil {
			return fmt.Errorf("register again: %w", err)
		}
		id = a.ID()
	}

	a.mu.Lock()
	thread := protocol.StatusThread{
		State:             a.stateLocked(),
		HowLong:           protocol.Millis(a.cfg.Now().Sub(a.stateSince)),
		ProblemInstanceID: a.problemID,
		ProblemType:       a.current,
	}
	a.mu.Unlock()

	reply, err := a.send(ctx, &protocol.Status{ID: id, Threads: []protocol.StatusThread{thread}})
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.lastAck = a.cfg.Now()
	a.mu.Unlock()

	if reply == nil {
		return nil
	}
	return a.accept(reply)
}

// accept queues an assignment if it fits the agent's role.
func (a *Agent) accept(reply protocol.Message) error {
	var j job
	switch msg := reply.(type) {
	case *protocol.DivideProblem:
		j = job{kind: jobDivide, divide: msg}
	case *protocol.PartialProblems:
		j = job{kind: jobSolve, partial: msg}
	case *protocol.Solutions:
		j = job{kind: jobMerge, solutions: msg}
	default:
		return fmt.Errorf("unexpected status reply %s", reply.Kind())
	}

	want := cluster.RoleTaskManager
	if j.kind == jobSolve {
		want = cluster.RoleComputationalNode
	}
	if a.cfg.Role != want {
		return fmt.Errorf("%s assignment sent to a %s", j.kind, a.cfg.Role)
	}

	id, problemType := j.problem()
	a.mu.Lock()
	a.queue = append(a.queue, j)
	a.mu.Unlock()

	a.logger.Debug("job queued", "job", j.kind, "problem", id, "type", problemType)
	return nil
}

// ProcessNext runs the oldest queued job, if any, and reports whether one ran.
func (a *Agent) ProcessNext(ctx context.Context) bool {
	a.mu.Lock()
	if len(a.queue) == 0 {
		a.mu.Unlock()
		return false
	}
	j := a.queue[0]
	a.queue = a.queue[1:]
	id, problemType := j.problem()
	a.setBusyLocked(true, id, problemType)
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.setBusyLocked(false, 0, "")
		a.mu.Unlock()
	}()

	var err error
	switch j.kind {
	case jobDivide:
		err = a.divide(ctx, j.divide)
	case jobSolve:
		err = a.solve(ctx, j.partial)
	case jobMerge:
		err = a.merge(ctx, j.solutions)
	}
	if err != nil {
		a.logger.Error("job failed", "job", j.kind, "problem", id, "type", problemType, "error", err)
	}
	return true
}

func (a *Agent) setBusyLocked(busy bool, problemID uint64, problemType string) {
	before := a.stateLocked()
	a.busy = busy
	a.problemID = problemID
	a.current = problemType
	if a.stateLocked() != before {
		a.stateSince = a.cfg.Now()
	}
}

func (a *Agent) lookup(problemType string) (solver.Solver, error) {
	s, ok := a.solvers.Lookup(problemType)
	if !ok {
		return nil, fmt.Errorf("no solver for %q", problemType)
	}
	return s, nil
}

// publish sends a result upstream, retrying transport failures up to
// PublishAttempts times. The coordinator answers results with an empty reply;
// anything else is logged and dropped.
func (a *Agent) publish(ctx context.Context, msg protocol.Message) error {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.PublishAttempts; attempt++ {
		reply, err := a.send(ctx, msg)
		if err == nil {
			if reply != nil {
				a.logger.Warn("ignoring reply to published result", "sent", msg.Kind(), "reply", reply.Kind())
			}
			return nil
		}
		lastErr = err
		a.logger.Warn("publish failed", "sent", msg.Kind(), "attempt", attempt, "of", a.cfg.PublishAttempts, "error", err)

		if attempt == a.cfg.PublishAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", msg.Kind(), ctx.Err())
		case <-time.After(a.cfg.RegisterBackoff):
		}
	}
	return fmt.Errorf("publish %s after %d attempts: %w", msg.Kind(), a.cfg.PublishAttempts, lastErr)
}
