package task

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zcanic/zcanic-server/internal/domain"
)

// Claim outcomes recorded by Metrics.
const (
	claimClaimed = "claimed"
	claimEmpty   = "empty"
	claimError   = "error"
)

// Metrics holds executor instrumentation. A nil *Metrics records nothing.
type Metrics struct {
	claims              *prometheus.CounterVec
	finalized           *prometheus.CounterVec
	generationDuration  *prometheus.HistogramVec
	invariantViolations prometheus.Counter
	leasesLost          prometheus.Counter
	reaped              prometheus.Counter
	reconciled          prometheus.Counter
}

// NewMetrics creates and registers executor metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		claims: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zcanic",
			Name:      "task_claims_total",
			Help:      "Claim attempts by outcome.",
		}, []string{"result"}),
		finalized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zcanic",
			Name:      "tasks_finalized_total",
			Help:      "Tasks moved to a terminal status.",
		}, []string{"type", "status"}),
		generationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zcanic",
			Name:      "task_generation_duration_seconds",
			Help:      "Duration of completion service calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"type"}),
		invariantViolations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zcanic",
			Name:      "task_invariant_violations_total",
			Help:      "Finalize writes rejected while the claim was still held.",
		}),
		leasesLost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zcanic",
			Name:      "task_leases_lost_total",
			Help:      "Finalize writes rejected because the lease lapsed before the outcome was stored.",
		}),
		reaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zcanic",
			Name:      "tasks_reaped_total",
			Help:      "Tasks failed after exhausting their lease attempts.",
		}),
		reconciled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zcanic",
			Name:      "task_mirrors_reconciled_total",
			Help:      "Related entities whose mirrored status was repaired.",
		}),
	}
}

func (m *Metrics) claim(result string) {
	if m != nil {
		m.claims.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) finalize(taskType domain.TaskType, status domain.TaskStatus) {
	if m != nil {
		m.finalized.WithLabelValues(string(taskType), string(status)).Inc()
	}
}

func (m *Metrics) generation(taskType domain.TaskType, elapsed time.Duration) {
	if m != nil {
		m.generationDuration.WithLabelValues(string(taskType)).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) invariantViolation() {
	if m != nil {
		m.invariantViolations.Inc()
	}
}

func (m *Metrics) leaseLost() {
	if m != nil {
		m.leasesLost.Inc()
	}
}

func (m *Metrics) reap(n int) {
	if m != nil {
		m.reaped.Add(float64(n))
	}
}

func (m *Metrics) reconcile(n int) {
	if m != nil {
		m.reconciled.Add(float64(n))
	}
}
