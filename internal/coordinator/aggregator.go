package coordinator

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/dreamware/solvegrid/internal/logging"
	"github.com/dreamware/solvegrid/internal/protocol"
	"github.com/dreamware/solvegrid/internal/storage"
)

// SolutionAggregator merges reported solutions into the problem table and
// moves problems to the finished store once every task is Final.
//
// Same-problem merges are serialized by the problem's own lock inside the
// ProblemTable; merges for different problems do not contend.
type SolutionAggregator struct {
	problems *ProblemTable
	store    storage.FinishedStore
	metrics  *Metrics
	logger   hclog.Logger
}

// NewSolutionAggregator creates an aggregator. metrics may be nil.
func NewSolutionAggregator(problems *ProblemTable, store storage.FinishedStore, metrics *Metrics, logger hclog.Logger) *SolutionAggregator {
	return &SolutionAggregator{
		problems: problems,
		store:    store,
		metrics:  metrics,
		logger:   logging.OrDiscard(logger),
	}
}

// Submit merges msg and reports whether the problem is final afterwards.
//
// Errors:
//   - ErrUnknownProblem: no in-flight problem has msg.ID
//   - ErrUnknownTask: msg names a task the problem does not have; nothing is merged
//   - a storage error when the final record set could not be persisted; the
//     problem then stays readable from the table
func (a *SolutionAggregator) Submit(msg *protocol.Solutions) (bool, error) {
	finalSet, final, err := a.problems.Merge(msg)
	if err != nil {
		return false, err
	}
	if !final {
		a.logger.Debug("solutions merged", "problem", msg.ID, "reported", len(msg.Solutions))
		return false, nil
	}

	a.metrics.problemFinished()

	raw, err := protocol.Encode(finalSet)
	if err != nil {
		return true, fmt.Errorf("problem %d: %w", msg.ID, err)
	}
	if err := a.store.Save(msg.ID, raw); err != nil {
		return true, fmt.Errorf("problem %d: persist solutions: %w", msg.ID, err)
	}
	a.problems.Remove(msg.ID)

	a.logger.Info("problem solved", "problem", msg.ID, "type", finalSet.ProblemType,
		"tasks", len(finalSet.Solutions))
	return true, nil
}

// Final reports whether every task of the problem is Final. Finished problems
// are final; problems the coordinator never saw are ErrUnknownProblem.
func (a *SolutionAggregator) Final(problemID uint64) (bool, error) {
	final, err := a.problems.Final(problemID)
	if !errors.Is(err, ErrUnknownProblem) {
		return final, err
	}

	if _, loadErr := a.store.Load(problemID); loadErr == nil {
		return true, nil
	} else if !errors.Is(loadErr, storage.ErrNotFound) {
		return false, loadErr
	}
	return false, err
}

// Solution returns the record set of a problem, in flight or finished.
func (a *SolutionAggregator) Solution(problemID uint64) (*protocol.Solutions, error) {
	if snapshot, ok := a.problems.Snapshot(problemID); ok {
		return snapshot, nil
	}

	raw, err := a.store.Load(problemID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("problem %d: %w", problemID, ErrUnknownProblem)
	}
	if err != nil {
		return nil, err
	}

	msg, err := protocol.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("problem %d: stored solutions: %w", problemID, err)
	}
	solutions, ok := msg.(*protocol.Solutions)
	if !ok {
		return nil, fmt.Errorf("problem %d: stored %s, want %s", problemID, msg.Kind(), protocol.KindSolutions)
	}
	return solutions, nil
}
