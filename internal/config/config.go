package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dreamware/solvegrid/internal/cluster"
)

func validateLevel(s string) error {
	if hclog.LevelFromString(s) == hclog.NoLevel {
		return fmt.Errorf("log.level: unknown level %q", s)
	}
	return nil
}

// Coordinator is the configuration of the coordinator process.
type Coordinator struct {
	Listen          string        `koanf:"listen"`
	MetricsListen   string        `koanf:"metrics.listen"`
	StorePath       string        `koanf:"store.path"`
	LogLevel        string        `koanf:"log.level"`
	NodeTimeout     time.Duration `koanf:"node.timeout"`
	SweepInterval   time.Duration `koanf:"sweep.interval"`
	ExchangeTimeout time.Duration `koanf:"exchange.timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown.timeout"`
	LogJSON         bool          `koanf:"log.json"`
	KeepClaims      bool          `koanf:"claims.keep"`
}

// CoordinatorDefaults are the built-in coordinator settings.
func CoordinatorDefaults() map[string]any {
	return map[string]any{
		"listen":           ":9100",
		"metrics.listen":   ":9101",
		"store.path":       "",
		"log.level":        "info",
		"log.json":         false,
		"node.timeout":     "30s",
		"sweep.interval":   "1s",
		"exchange.timeout": "10s",
		"shutdown.timeout": "5s",
		"claims.keep":      false,
	}
}

// LoadCoordinator reads the coordinator configuration and validates it.
func LoadCoordinator(opts ...Option) (Coordinator, error) {
	var cfg Coordinator
	if err := NewLoader(opts...).Load(CoordinatorDefaults(), &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Coordinator) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen: address is required"))
	}
	if c.NodeTimeout <= 0 {
		errs = append(errs, errors.New("node.timeout: must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep.interval: must be positive"))
	} else if c.NodeTimeout > 0 && c.SweepInterval > c.NodeTimeout {
		errs = append(errs, errors.New("sweep.interval: must not exceed node.timeout"))
	}
	if c.ExchangeTimeout <= 0 {
		errs = append(errs, errors.New("exchange.timeout: must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown.timeout: must be positive"))
	}
	if err := validateLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Node is the configuration of a worker process.
type Node struct {
	CoordinatorURL   string        `koanf:"coordinator.url"`
	Role             string        `koanf:"role"`
	Scripts          []string      `koanf:"scripts"`
	LogLevel         string        `koanf:"log.level"`
	PollInterval     time.Duration `koanf:"poll.interval"`
	RegisterBackoff  time.Duration `koanf:"register.backoff"`
	ExchangeTimeout  time.Duration `koanf:"exchange.timeout"`
	RegisterAttempts int           `koanf:"register.attempts"`
	PublishAttempts  int           `koanf:"publish.attempts"`
	Parallelism      int           `koanf:"parallelism"`
	LogJSON          bool          `koanf:"log.json"`
}

// NodeDefaults are the built-in node settings.
func NodeDefaults() map[string]any {
	return map[string]any{
		"coordinator.url":   "http://127.0.0.1:9100/",
		"role":              string(cluster.RoleComputationalNode),
		"scripts":           []string{},
		"log.level":         "info",
		"log.json":          false,
		"poll.interval":     "1s",
		"register.backoff":  "400ms",
		"exchange.timeout":  "15s",
		"register.attempts": 10,
		"publish.attempts":  3,
		"parallelism":       1,
	}
}

// LoadNode reads the node configuration and validates it.
func LoadNode(opts ...Option) (Node, error) {
	var cfg Node
	if err := NewLoader(opts...).Load(NodeDefaults(), &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ClusterRole returns the parsed role.
func (n Node) ClusterRole() (cluster.Role, error) {
	return cluster.ParseRole(n.Role)
}

// Validate reports every invalid setting at once.
func (n Node) Validate() error {
	var errs []error
	if !strings.HasPrefix(n.CoordinatorURL, "http://") && !strings.HasPrefix(n.CoordinatorURL, "https://") {
		errs = append(errs, fmt.Errorf("coordinator.url: %q is not an http url", n.CoordinatorURL))
	}
	if _, err := n.ClusterRole(); err != nil {
		errs = append(errs, fmt.Errorf("role: %w", err))
	}
	if len(n.Scripts) == 0 {
		errs = append(errs, errors.New("scripts: at least one solver script is required"))
	}
	if n.Parallelism < 1 || n.Parallelism > 255 {
		errs = append(errs, fmt.Errorf("parallelism: %d is outside 1..255", n.Parallelism))
	}
	if n.PollInterval <= 0 {
		errs = append(errs, errors.New("poll.interval: must be positive"))
	}
	if n.RegisterAttempts < 1 {
		errs = append(errs, errors.New("register.attempts: must be at least 1"))
	}
	if n.PublishAttempts < 1 {
		errs = append(errs, errors.New("publish.attempts: must be at least 1"))
	}
	if n.RegisterBackoff <= 0 {
		errs = append(errs, errors.New("register.backoff: must be positive"))
	}
	if n.ExchangeTimeout <= 0 {
		errs = append(errs, errors.New("exchange.timeout: must be positive"))
	}
	if err := validateLevel(n.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
