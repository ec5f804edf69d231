package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/solvegrid/internal/cluster"
)

const metricsNamespace = "solvegrid"

// Metrics holds the coordinator's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	messages  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	evictions prometheus.Counter
	finished  prometheus.Counter
	requeued  *prometheus.CounterVec
	reg       prometheus.Registerer
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "coordinator",
			Name:      "messages_total",
			Help:      "Messages handled, by kind",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "coordinator",
			Name:      "dispatch_failures_total",
			Help:      "Messages answered with an empty response because handling failed, by reason",
		}, []string{"reason"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "liveness",
			Name:      "evictions_total",
			Help:      "Nodes evicted for missing heartbeats",
		}),
		finished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "aggregator",
			Name:      "finished_problems_total",
			Help:      "Problems whose every task reached Final",
		}),
		requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "router",
			Name:      "released_claims_total",
			Help:      "Claims returned to the pool after their node was evicted, by claim kind",
		}, []string{"claim"}),
		reg: reg,
	}

	reg.MustRegister(m.messages, m.failures, m.evictions, m.finished, m.requeued)
	return m
}

// registerGauges exposes the coordinator's live state as gauge functions so
// nothing has to keep them in sync.
func (m *Metrics) registerGauges(c *Coordinator) {
	if m == nil {
		return
	}

	nodes := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "registry",
		Name:        "nodes",
		Help:        "Registered nodes, by role",
		ConstLabels: prometheus.Labels{"role": cluster.RoleComputationalNode.String()},
	}, func() float64 { return float64(c.registry.CountByRole()[cluster.RoleComputationalNode]) })

	managers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "registry",
		Name:        "nodes",
		Help:        "Registered nodes, by role",
		ConstLabels: prometheus.Labels{"role": cluster.RoleTaskManager.String()},
	}, func() float64 { return float64(c.registry.CountByRole()[cluster.RoleTaskManager]) })

	pending := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "router",
		Name:      "pending_requests",
		Help:      "Solve requests waiting to be divided",
	}, func() float64 { return float64(c.requests.Len()) })

	inflight := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "router",
		Name:      "inflight_problems",
		Help:      "Divided problems not yet final",
	}, func() float64 { return float64(c.problems.Len()) })

	stored := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "store",
		Name:      "finished_bytes",
		Help:      "Bytes held by the finished-problem store",
	}, func() float64 { return float64(c.store.Stats().Bytes) })

	m.reg.MustRegister(nodes, managers, pending, inflight, stored)
}

func (m *Metrics) message(kind string) {
	if m != nil {
		m.messages.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) failure(reason string) {
	if m != nil {
		m.failures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) problemFinished() {
	if m != nil {
		m.finished.Inc()
	}
}

func (m *Metrics) released(claim string, n int) {
	if m != nil && n > 0 {
		m.requeued.WithLabelValues(claim).Add(float64(n))
	}
}
