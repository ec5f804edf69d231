package coordinator

import (
	"github.com/hashicorp/go-hclog"

	"github.com/dreamware/solvegrid/internal/cluster"
	"github.com/dreamware/solvegrid/internal/logging"
	"github.com/dreamware/solvegrid/internal/protocol"
)

// WorkRouter decides what a polling node gets back for its Status report.
//
// Decision policy, first match wins:
//
//	TaskManager        1. oldest unclaimed SolveRequest it can solve  → DivideProblem
//	                   2. oldest all-Partial problem nobody is merging → Solutions
//	ComputationalNode  1. oldest problem with unclaimed tasks          → SolvePartialProblems
//	anything else      nothing; logged as an error
//
// Every hand-out is recorded as a claim so concurrent pollers never receive
// the same request, task or finalization.
type WorkRouter struct {
	registry *NodeRegistry
	requests *RequestQueue
	problems *ProblemTable
	logger   hclog.Logger
}

// NewWorkRouter creates a router over the coordinator's state.
func NewWorkRouter(registry *NodeRegistry, requests *RequestQueue, problems *ProblemTable, logger hclog.Logger) *WorkRouter {
	return &WorkRouter{
		registry: registry,
		requests: requests,
		problems: problems,
		logger:   logging.OrDiscard(logger),
	}
}

// Route returns the next assignment for node, or nil when there is no work.
// A nil result is the normal, frequent outcome and is not an error.
func (w *WorkRouter) Route(node cluster.NodeEntry) protocol.Message {
	switch node.Role {
	case cluster.RoleTaskManager:
		if msg := w.divide(node); msg != nil {
			return msg
		}
		if msg, ok := w.problems.ClaimFinalization(node); ok {
			w.logger.Debug("finalization assigned", "node", node.ID, "problem", msg.ID)
			return msg
		}
	case cluster.RoleComputationalNode:
		if msg, ok := w.problems.ClaimTasks(node); ok {
			w.logger.Debug("tasks assigned", "node", node.ID, "problem", msg.ID,
				"tasks", len(msg.PartialProblems))
			return msg
		}
	default:
		w.logger.Error("cannot route work for node with unknown role", "node", node.ID, "role", node.Role)
		return nil
	}

	w.logger.Trace("no work", "node", node.ID, "role", node.Role)
	return nil
}

func (w *WorkRouter) divide(node cluster.NodeEntry) *protocol.DivideProblem {
	req, ok := w.requests.Claim(node.ID, node.CanSolve)
	if !ok {
		return nil
	}

	w.logger.Debug("divide assigned", "node", node.ID, "problem", req.ID, "type", req.ProblemType)
	return &protocol.DivideProblem{
		ProblemType:        req.ProblemType,
		ID:                 req.ID,
		Data:               protocol.Blob(req.Data),
		ComputationalNodes: uint64(w.registry.Count()),
	}
}
