package coordinator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/dreamware/solvegrid/internal/cluster"
	"github.com/dreamware/solvegrid/internal/protocol"
)

const problemShards = 16

var (
	// ErrUnknownProblem is returned when no in-flight problem has the given id.
	ErrUnknownProblem = errors.New("unknown problem")

	// ErrUnknownTask is returned when a solution names a task the problem never had.
	ErrUnknownTask = errors.New("unknown task")

	// ErrDuplicateTask is returned when a divided problem repeats a task id.
	ErrDuplicateTask = errors.New("duplicate task id")

	// ErrNoTasks is returned when a divided problem has no tasks.
	ErrNoTasks = errors.New("problem has no tasks")
)

// taskRecord is one task of a divided problem together with its solution overlay.
type taskRecord struct {
	ClaimedAt   time.Time
	Data        []byte // partial problem payload, fixed at creation
	Result      []byte
	Type        protocol.SolutionType
	ComputeTime time.Duration
	ID          uint64
	ClaimedBy   uint64 // ComputationalNode working on it
	TimedOut    bool
}

// problem is a divided problem in flight. mu serializes every read and write
// of its task records.
type problem struct {
	created     time.Time
	finalizedAt time.Time // when finalizer claimed or last renewed
	index       map[uint64]int
	problemType string
	commonData  []byte
	tasks       []*taskRecord
	timeout     time.Duration
	id          uint64
	finalizer   uint64 // TaskManager merging it; 0 when unclaimed
	mu          sync.Mutex
	done        bool
}

func (p *problem) allType(t protocol.SolutionType) bool {
	for _, task := range p.tasks {
		if task.Type != t {
			return false
		}
	}
	return true
}

// solutionsLocked renders the current records. The caller holds p.mu.
func (p *problem) solutionsLocked() *protocol.Solutions {
	msg := &protocol.Solutions{
		ProblemType: p.problemType,
		ID:          p.id,
		CommonData:  protocol.Blob(cloneBytes(p.commonData)),
		Solutions:   make([]protocol.Solution, 0, len(p.tasks)),
	}
	for _, task := range p.tasks {
		msg.Solutions = append(msg.Solutions, protocol.Solution{
			TaskID:           task.ID,
			TimeoutOccured:   task.TimedOut,
			Type:             task.Type,
			ComputationsTime: protocol.Millis(task.ComputeTime),
			Data:             protocol.Blob(cloneBytes(task.Result)),
		})
	}
	return msg
}

type problemShard struct {
	problems map[uint64]*problem
	mu       sync.RWMutex
}

// ProblemTable stores divided problems and their solution records.
//
// Problems are spread over shards by a murmur3 hash of their id. A shard lock
// only guards membership; each problem has its own mutex, so merges on one
// problem are serialized while merges on different problems run in parallel.
//
// Task and finalization claims carry a lease: a claim that is neither renewed
// nor settled within the lease is offered again.
type ProblemTable struct {
	shards [problemShards]*problemShard
	now    func() time.Time
	lease  time.Duration
}

// NewProblemTable creates an empty table.
func NewProblemTable(now func() time.Time) *ProblemTable {
	if now == nil {
		now = time.Now
	}
	t := &ProblemTable{now: now}
	for i := range t.shards {
		t.shards[i] = &problemShard{problems: make(map[uint64]*problem)}
	}
	return t
}

// SetLease sets how long a claim holds without renewal. Zero, the default,
// keeps claims until they are released. Call it before the table is shared.
func (t *ProblemTable) SetLease(d time.Duration) { t.lease = d }

func (t *ProblemTable) shard(problemID uint64) *problemShard {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], problemID)
	return t.shards[murmur3.Sum32(key[:])%problemShards]
}

func (t *ProblemTable) get(problemID uint64) (*problem, bool) {
	s := t.shard(problemID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.problems[problemID]
	return p, ok
}

// ordered returns all problems sorted by id, oldest first.
func (t *ProblemTable) ordered() []*problem {
	var all []*problem
	for _, s := range t.shards {
		s.mu.RLock()
		for _, p := range s.problems {
			all = append(all, p)
		}
		s.mu.RUnlock()
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	return all
}

// Add stores a divided problem and seeds one Ongoing record per task.
func (t *ProblemTable) Add(msg *protocol.PartialProblems) error {
	if len(msg.PartialProblems) == 0 {
		return fmt.Errorf("problem %d: %w", msg.ID, ErrNoTasks)
	}

	p := &problem{
		created:     t.now(),
		index:       make(map[uint64]int, len(msg.PartialProblems)),
		problemType: msg.ProblemType,
		commonData:  cloneBytes(msg.CommonData),
		timeout:     protocol.Duration(msg.SolvingTimeout),
		id:          msg.ID,
	}
	for _, part := range msg.PartialProblems {
		if _, dup := p.index[part.TaskID]; dup {
			return fmt.Errorf("problem %d: %w: %d", msg.ID, ErrDuplicateTask, part.TaskID)
		}
		p.index[part.TaskID] = len(p.tasks)
		p.tasks = append(p.tasks, &taskRecord{
			ID:   part.TaskID,
			Data: cloneBytes(part.Data),
			Type: protocol.SolutionOngoing,
		})
	}

	s := t.shard(msg.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.problems[msg.ID]; exists {
		return fmt.Errorf("problem %d: %w", msg.ID, ErrDuplicateProblem)
	}
	s.problems[msg.ID] = p
	return nil
}

// Remove drops a problem from the table.
func (t *ProblemTable) Remove(problemID uint64) {
	s := t.shard(problemID)
	s.mu.Lock()
	delete(s.problems, problemID)
	s.mu.Unlock()
}

// Len returns the number of problems in the table.
func (t *ProblemTable) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.problems)
		s.mu.RUnlock()
	}
	return n
}

// ClaimTasks hands node up to node.Parallelism() unclaimed Ongoing tasks from
// the oldest problem it can solve. A claimed task is never handed to a second
// node until its claim is released or its lease runs out.
func (t *ProblemTable) ClaimTasks(node cluster.NodeEntry) (*protocol.PartialProblems, bool) {
	limit := node.Parallelism()
	now := t.now()

	for _, p := range t.ordered() {
		if !node.CanSolve(p.problemType) {
			continue
		}

		p.mu.Lock()
		if p.done {
			p.mu.Unlock()
			continue
		}

		var parts []protocol.PartialProblem
		for _, task := range p.tasks {
			if task.Type != protocol.SolutionOngoing {
				continue
			}
			if task.ClaimedBy != 0 && !leaseExpired(task.ClaimedAt, now, t.lease) {
				continue
			}
			task.ClaimedBy = node.ID
			task.ClaimedAt = now
			parts = append(parts, protocol.PartialProblem{
				TaskID: task.ID,
				Data:   protocol.Blob(cloneBytes(task.Data)),
			})
			if len(parts) == limit {
				break
			}
		}

		var msg *protocol.PartialProblems
		if len(parts) > 0 {
			msg = &protocol.PartialProblems{
				ProblemType:     p.problemType,
				ID:              p.id,
				CommonData:      protocol.Blob(cloneBytes(p.commonData)),
				SolvingTimeout:  protocol.Millis(p.timeout),
				PartialProblems: parts,
			}
		}
		p.mu.Unlock()

		if msg != nil {
			return msg, true
		}
	}
	return nil, false
}

// ClaimFinalization hands node the oldest problem it can solve whose every
// task is Partial and that no other TaskManager holds a live claim on.
func (t *ProblemTable) ClaimFinalization(node cluster.NodeEntry) (*protocol.Solutions, bool) {
	now := t.now()
	for _, p := range t.ordered() {
		if !node.CanSolve(p.problemType) {
			continue
		}

		p.mu.Lock()
		var msg *protocol.Solutions
		free := p.finalizer == 0 || leaseExpired(p.finalizedAt, now, t.lease)
		if !p.done && free && len(p.tasks) > 0 && p.allType(protocol.SolutionPartial) {
			p.finalizer = node.ID
			p.finalizedAt = now
			msg = p.solutionsLocked()
		}
		p.mu.Unlock()

		if msg != nil {
			return msg, true
		}
	}
	return nil, false
}

// Merge overwrites task records with the reported solutions, last write wins.
// Every task id is checked before anything is written, so a report naming an
// unknown task changes nothing. When the merge leaves every record Final the
// problem is marked done and its final record set is returned.
func (t *ProblemTable) Merge(msg *protocol.Solutions) (*protocol.Solutions, bool, error) {
	p, ok := t.get(msg.ID)
	if !ok {
		return nil, false, fmt.Errorf("problem %d: %w", msg.ID, ErrUnknownProblem)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return nil, false, fmt.Errorf("problem %d already final: %w", msg.ID, ErrUnknownProblem)
	}

	for _, sol := range msg.Solutions {
		if _, ok := p.index[sol.TaskID]; !ok {
			return nil, false, fmt.Errorf("problem %d task %d: %w", msg.ID, sol.TaskID, ErrUnknownTask)
		}
	}

	for _, sol := range msg.Solutions {
		task := p.tasks[p.index[sol.TaskID]]
		task.Result = cloneBytes(sol.Data)
		task.Type = sol.Type
		task.ComputeTime = protocol.Duration(sol.ComputationsTime)
		task.TimedOut = sol.TimeoutOccured
		task.ClaimedBy = 0
	}

	if !p.allType(protocol.SolutionPartial) {
		p.finalizer = 0
	}

	if len(p.tasks) == 0 || !p.allType(protocol.SolutionFinal) {
		return nil, false, nil
	}
	p.done = true
	return p.solutionsLocked(), true, nil
}

// Final reports whether every record of the problem is Final right now.
func (t *ProblemTable) Final(problemID uint64) (bool, error) {
	p, ok := t.get(problemID)
	if !ok {
		return false, fmt.Errorf("problem %d: %w", problemID, ErrUnknownProblem)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks) > 0 && p.allType(protocol.SolutionFinal), nil
}

// Snapshot returns the current record set of a problem.
func (t *ProblemTable) Snapshot(problemID uint64) (*protocol.Solutions, bool) {
	p, ok := t.get(problemID)
	if !ok {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.solutionsLocked(), true
}

// Renew restarts the lease of every task and finalization claim held by
// nodeID and reports how many claims it touched.
func (t *ProblemTable) Renew(nodeID uint64) int {
	now := t.now()
	n := 0
	for _, p := range t.ordered() {
		p.mu.Lock()
		for _, task := range p.tasks {
			if task.ClaimedBy == nodeID {
				task.ClaimedAt = now
				n++
			}
		}
		if p.finalizer == nodeID {
			p.finalizedAt = now
			n++
		}
		p.mu.Unlock()
	}
	return n
}

// Release clears every task and finalization claim held by nodeID and reports
// how many of each were released.
func (t *ProblemTable) Release(nodeID uint64) (tasks, finalizations int) {
	for _, p := range t.ordered() {
		p.mu.Lock()
		for _, task := range p.tasks {
			if task.ClaimedBy == nodeID {
				task.ClaimedBy = 0
				tasks++
			}
		}
		if p.finalizer == nodeID {
			p.finalizer = 0
			finalizations++
		}
		p.mu.Unlock()
	}
	return tasks, finalizations
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
