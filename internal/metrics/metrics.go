package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()

	// SolveDuration records solver wall time in seconds by outcome status.
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "solve_duration_seconds", Help: "Routing solve duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}},
		[]string{"status"},
	)
	// SolveIterations records ALNS iterations per solve.
	SolveIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "solve_iterations", Help: "ALNS iterations per solve.", Buckets: []float64{100, 500, 1000, 5000, 10000, 50000}},
	)
	// SolveUnassigned counts orders left unassigned by solves.
	SolveUnassigned = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "solve_unassigned_orders_total", Help: "Orders left unassigned by solves."},
	)

	// RuleEvaluations counts rule evaluations by result (matched, error).
	RuleEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rule_evaluations_total", Help: "Rule evaluations by result."},
		[]string{"result"},
	)

	// RedispatchTriggers counts trigger events by type.
	RedispatchTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "redispatch_triggers_total", Help: "Re-dispatch trigger events by type."},
		[]string{"type"},
	)
	// RedispatchOutcomes counts evaluation outcomes (reoptimized, unchanged, conflict, error).
	RedispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "redispatch_outcomes_total", Help: "Re-dispatch evaluation outcomes."},
		[]string{"outcome"},
	)

	// AuditDeliveries counts outcome-log deliveries by status.
	AuditDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "audit_deliveries_total", Help: "Audit record deliveries by status."},
		[]string{"status"},
	)
)

// RegisterDefault registers all collectors on the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(SolveIterations)
		Registry.MustRegister(SolveUnassigned)
		Registry.MustRegister(RuleEvaluations)
		Registry.MustRegister(RedispatchTriggers)
		Registry.MustRegister(RedispatchOutcomes)
		Registry.MustRegister(AuditDeliveries)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
