package infra

import (
	"context"
	"time"

	"throttle-gateway/middleware/throttle/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics expõe as decisões (como domain.StatsStore) e a latência do
// script no Redis (como EvalObserver).
type PrometheusMetrics struct {
	Decisions    *prometheus.CounterVec
	EvalDuration *prometheus.HistogramVec
}

func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "throttle_decisions_total",
				Help:      "Number of throttle decisions by policy and outcome.",
			},
			[]string{"policy", "outcome"},
		),
		EvalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "throttle_store_eval_duration_seconds",
				Help:      "Latency of the atomic throttle script in the shared store.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"policy", "status"},
		),
	}
}

func (pm *PrometheusMetrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(pm.Decisions, pm.EvalDuration)
}

func (pm *PrometheusMetrics) Unregister(reg prometheus.Registerer) {
	reg.Unregister(pm.Decisions)
	reg.Unregister(pm.EvalDuration)
}

// Record implementa domain.StatsStore.
func (pm *PrometheusMetrics) Record(_ context.Context, ev domain.StatsEvent) error {
	outcome := "denied"
	if ev.Allowed {
		outcome = "allowed"
	}
	pm.Decisions.WithLabelValues(string(ev.Policy), outcome).Inc()
	return nil
}

// ObserveEval implementa EvalObserver.
func (pm *PrometheusMetrics) ObserveEval(kind domain.PolicyKind, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	pm.EvalDuration.WithLabelValues(string(kind), status).Observe(d.Seconds())
}
