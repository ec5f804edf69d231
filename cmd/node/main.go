// Package main implements the solvegrid node, a worker that registers with
// the coordinator and runs problem-specific solver scripts.
//
// A node runs in one of two roles:
//   - TaskManager: divides incoming problems and merges partial solutions
//   - ComputationalNode: solves the partial problems it is handed
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                 Node                    │
//	├─────────────────────────────────────────┤
//	│  Agent:                                 │
//	│    heartbeat   - Status every timeout/2 │
//	│    processing  - one job per quantum    │
//	├─────────────────────────────────────────┤
//	│  Solvers:                               │
//	│    *.star      - Starlark scripts, one  │
//	│                  per problem type       │
//	└─────────────────────────────────────────┘
//
// Configuration (YAML file named by SOLVEGRID_CONFIG, then environment):
//   - SOLVEGRID_COORDINATOR_URL: Coordinator exchange URL
//   - SOLVEGRID_ROLE: TaskManager or ComputationalNode
//   - SOLVEGRID_SCRIPTS: Comma-separated solver script paths (required)
//   - SOLVEGRID_PARALLELISM: Declared parallel threads (default: 1)
//
// Example usage:
//
//	SOLVEGRID_ROLE=ComputationalNode \
//	SOLVEGRID_SCRIPTS=solvers/sum.star \
//	SOLVEGRID_COORDINATOR_URL=http://localhost:9100/ \
//	./node
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/dreamware/solvegrid/internal/agent"
	"github.com/dreamware/solvegrid/internal/config"
	"github.com/dreamware/solvegrid/internal/logging"
	"github.com/dreamware/solvegrid/internal/solver"
	"github.com/dreamware/solvegrid/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "node:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadNode(
		config.WithConfigFile(os.Getenv("SOLVEGRID_CONFIG")),
		config.WithDotenv(config.DefaultDotenvFiles...),
	)
	if err != nil {
		return err
	}
	logger := logging.New("node", logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	solvers, err := loadSolvers(cfg.Scripts, logger.Named("solver"))
	if err != nil {
		return err
	}
	role, err := cfg.ClusterRole()
	if err != nil {
		return err
	}

	client := transport.NewHTTPClient(cfg.CoordinatorURL, transport.WithTimeout(cfg.ExchangeTimeout))
	a, err := agent.New(agent.Config{
		Role:             role,
		Parallelism:      cfg.Parallelism,
		PollInterval:     cfg.PollInterval,
		RegisterAttempts: cfg.RegisterAttempts,
		RegisterBackoff:  cfg.RegisterBackoff,
		PublishAttempts:  cfg.PublishAttempts,
	}, client, solvers, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("node starting", "role", role, "coordinator", cfg.CoordinatorURL, "solvers", solvers.Names())
	return a.Run(ctx)
}

// loadSolvers compiles every script into a registry. Two scripts claiming
// the same problem type are rejected.
func loadSolvers(paths []string, logger hclog.Logger) (*solver.Registry, error) {
	registry := solver.NewRegistry()
	for _, path := range paths {
		s, err := solver.LoadScript(path, "", logger)
		if err != nil {
			return nil, err
		}
		if _, dup := registry.Lookup(s.Name()); dup {
			return nil, fmt.Errorf("%s: problem type %q is already provided by another script", path, s.Name())
		}
		registry.Add(s)
		logger.Debug("solver loaded", "type", s.Name(), "script", path)
	}
	return registry, nil
}
