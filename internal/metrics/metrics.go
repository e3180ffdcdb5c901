package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hitld"

// Metrics bundles the core's Prometheus collectors.
type Metrics struct {
	SessionsCreated         prometheus.Counter
	SessionsCleared         prometheus.Counter
	ClarificationsRequested prometheus.Counter
	ClarificationsQueued    prometheus.Counter
	ClarificationsAnswered  prometheus.Counter
	AnswersReused           prometheus.Counter
	ReconcileRuns           *prometheus.CounterVec
	AutoAdvanceDecisions    *prometheus.CounterVec
	RecoveryAttempts        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil registerer
// creates unregistered collectors, which keeps tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions lazily created in the store.",
		}),
		SessionsCleared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_cleared_total",
			Help:      "Sessions explicitly cleared.",
		}),
		ClarificationsRequested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clarifications_requested_total",
			Help:      "Clarification requests registered by agents.",
		}),
		ClarificationsQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clarifications_queued_total",
			Help:      "Clarification requests buffered behind a surfaced one.",
		}),
		ClarificationsAnswered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clarifications_answered_total",
			Help:      "Clarification responses recorded.",
		}),
		AnswersReused: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_reused_total",
			Help:      "New questions answered from question history.",
		}),
		ReconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "State reconciliation runs by outcome.",
		}, []string{"outcome"}),
		AutoAdvanceDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_advance_decisions_total",
			Help:      "Auto-advance decisions by result.",
		}, []string{"allowed"}),
		RecoveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_attempts_total",
			Help:      "Automatic recovery attempts by outcome.",
		}, []string{"outcome"}),
	}
}
