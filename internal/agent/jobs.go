package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dreamware/solvegrid/internal/protocol"
	"github.com/dreamware/solvegrid/internal/solver"
)

// divide splits a problem and hands the tasks back to the coordinator.
func (a *Agent) divide(ctx context.Context, msg *protocol.DivideProblem) error {
	s, err := a.lookup(msg.ProblemType)
	if err != nil {
		return err
	}

	parts, err := s.Divide(msg.Data, int(msg.ComputationalNodes))
	if err != nil {
		return fmt.Errorf("divide problem %d: %w", msg.ID, err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("divide problem %d: solver produced no tasks", msg.ID)
	}

	out := &protocol.PartialProblems{
		ProblemType:     msg.ProblemType,
		ID:              msg.ID,
		PartialProblems: make([]protocol.PartialProblem, 0, len(parts)),
	}
	for _, part := range parts {
		out.PartialProblems = append(out.PartialProblems, protocol.PartialProblem{
			TaskID: part.TaskID,
			Data:   part.Data,
		})
	}

	a.logger.Info("problem divided", "problem", msg.ID, "type", msg.ProblemType, "tasks", len(parts))
	return a.publish(ctx, out)
}

// solve computes every task of a batch, at most Parallelism at a time, and
// reports them in one Solutions message. A task whose solver fails is
// reported as Ongoing, which returns it to the pool.
func (a *Agent) solve(ctx context.Context, msg *protocol.PartialProblems) error {
	s, err := a.lookup(msg.ProblemType)
	if err != nil {
		return err
	}
	timeout := protocol.Duration(msg.SolvingTimeout)

	results := make([]protocol.Solution, len(msg.PartialProblems))
	sem := make(chan struct{}, a.cfg.Parallelism)
	var wg sync.WaitGroup
	for i, task := range msg.PartialProblems {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, task protocol.PartialProblem) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = a.solveTask(ctx, s, msg, task, timeout)
		}(i, task)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].TaskID < results[j].TaskID })
	return a.publish(ctx, &protocol.Solutions{
		ProblemType: msg.ProblemType,
		ID:          msg.ID,
		Solutions:   results,
	})
}

func (a *Agent) solveTask(ctx context.Context, s solver.Solver, msg *protocol.PartialProblems, task protocol.PartialProblem, timeout time.Duration) (sol protocol.Solution) {
	sol = protocol.Solution{TaskID: task.TaskID, Type: protocol.SolutionOngoing}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("solver panicked", "problem", msg.ID, "task", task.TaskID, "panic", r)
			sol = protocol.Solution{TaskID: task.TaskID, Type: protocol.SolutionOngoing}
		}
	}()

	start := a.cfg.Now()
	data, err := s.Solve(ctx, task.Data, msg.CommonData, timeout)
	elapsed := a.cfg.Now().Sub(start)

	switch {
	case err == nil:
		sol.Type = protocol.SolutionPartial
		sol.Data = data
	case errors.Is(err, solver.ErrTimeout):
		sol.Type = protocol.SolutionPartial
		sol.TimeoutOccured = true
		sol.Data = data
		a.logger.Warn("task timed out", "problem", msg.ID, "task", task.TaskID, "timeout", timeout)
	default:
		a.logger.Error("task failed", "problem", msg.ID, "task", task.TaskID, "error", err)
	}
	sol.ComputationsTime = protocol.Millis(elapsed)
	return sol
}

// merge combines the partial results of a problem and reports every task as
// Final, each carrying the merged payload.
func (a *Agent) merge(ctx context.Context, msg *protocol.Solutions) error {
	s, err := a.lookup(msg.ProblemType)
	if err != nil {
		return err
	}

	tasks := make([]protocol.Solution, len(msg.Solutions))
	copy(tasks, msg.Solutions)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID < tasks[j].TaskID })

	partials := make([][]byte, len(tasks))
	for i, task := range tasks {
		partials[i] = task.Data
	}

	start := a.cfg.Now()
	merged, err := s.Merge(partials)
	if err != nil {
		return fmt.Errorf("merge problem %d: %w", msg.ID, err)
	}
	elapsed := protocol.Millis(a.cfg.Now().Sub(start))

	out := &protocol.Solutions{
		ProblemType: msg.ProblemType,
		ID:          msg.ID,
		CommonData:  msg.CommonData,
		Solutions:   make([]protocol.Solution, len(tasks)),
	}
	for i, task := range tasks {
		out.Solutions[i] = protocol.Solution{
			TaskID:           task.TaskID,
			TimeoutOccured:   task.TimeoutOccured,
			Type:             protocol.SolutionFinal,
			ComputationsTime: elapsed,
			Data:             merged,
		}
	}

	a.logger.Info("problem merged", "problem", msg.ID, "type", msg.ProblemType, "tasks", len(tasks))
	return a.publish(ctx, out)
}
