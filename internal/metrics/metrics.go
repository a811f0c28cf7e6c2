// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the engine. The struct is
// passed explicitly to components that record metrics; a nil *Metrics
// disables recording.
type Metrics struct {
	rpcCallsTotal   *prometheus.CounterVec
	rpcCallDuration *prometheus.HistogramVec

	submissionsTotal  *prometheus.CounterVec
	resendsTotal      prometheus.Counter
	confirmationsWon  *prometheus.CounterVec
	expiriesTotal     prometheus.Counter
	confirmationTime  prometheus.Histogram
	swapOutcomesTotal *prometheus.CounterVec
}

// New creates a Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solpilot_rpc_calls_total",
				Help: "Total RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solpilot_rpc_call_duration_seconds",
				Help:    "Duration of RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solpilot_submissions_total",
				Help: "Transaction submissions by terminal outcome",
			},
			[]string{"outcome"},
		),
		resendsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "solpilot_resends_total",
				Help: "Background re-submissions of in-flight transactions",
			},
		),
		confirmationsWon: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solpilot_confirmations_won_total",
				Help: "Which confirmation strategy resolved first",
			},
			[]string{"strategy"},
		),
		expiriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "solpilot_expiries_total",
				Help: "Submissions that expired past their blockhash window",
			},
		),
		confirmationTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "solpilot_confirmation_seconds",
				Help:    "Time from first submission to confirmation",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 90},
			},
		),
		swapOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solpilot_swap_outcomes_total",
				Help: "Swap orchestrations by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),
	}
}

func (m *Metrics) RecordRPCCall(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.rpcCallsTotal.WithLabelValues(method, status).Inc()
	m.rpcCallDuration.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordResend() {
	if m == nil {
		return
	}
	m.resendsTotal.Inc()
}

func (m *Metrics) RecordConfirmationWin(strategy string) {
	if m == nil {
		return
	}
	m.confirmationsWon.WithLabelValues(strategy).Inc()
}

func (m *Metrics) RecordExpiry() {
	if m == nil {
		return
	}
	m.expiriesTotal.Inc()
}

func (m *Metrics) RecordConfirmationTime(seconds float64) {
	if m == nil {
		return
	}
	m.confirmationTime.Observe(seconds)
}

func (m *Metrics) RecordSwapOutcome(direction, outcome string) {
	if m == nil {
		return
	}
	m.swapOutcomesTotal.WithLabelValues(direction, outcome).Inc()
}
