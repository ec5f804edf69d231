package coordinator

import (
	"sync"
	"time"

	"github.com/dreamware/solvegrid/internal/protocol"
)

// fakeClock is a manually advanced time source shared by every component
// under test.
type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// dividedProblem builds a PartialProblems message with n tasks numbered from 0.
func dividedProblem(id uint64, problemType string, n int) *protocol.PartialProblems {
	msg := &protocol.PartialProblems{
		ProblemType: problemType,
		ID:          id,
		CommonData:  protocol.Blob("common"),
	}
	for i := 0; i < n; i++ {
		msg.PartialProblems = append(msg.PartialProblems, protocol.PartialProblem{
			TaskID: uint64(i),
			Data:   protocol.Blob{byte('a' + i)},
		})
	}
	return msg
}

// report builds a Solutions message reporting the given types for tasks 0..n-1.
func report(id uint64, types ...protocol.SolutionType) *protocol.Solutions {
	msg := &protocol.Solutions{ID: id}
	for i, typ := range types {
		msg.Solutions = append(msg.Solutions, protocol.Solution{
			TaskID:           uint64(i),
			Type:             typ,
			ComputationsTime: 10,
			Data:             protocol.Blob(string(typ)),
		})
	}
	return msg
}
