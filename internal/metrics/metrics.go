// Package metrics exposes Prometheus instruments for the payment automaton.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	GatewayCallSeconds prometheus.Histogram
	TimeoutsTotal      prometheus.Counter
	AbortsTotal        prometheus.Counter
	LockFailuresTotal  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_automaton_runs_total",
			Help: "Completed automaton runs by transaction type and operation result.",
		}, []string{"transaction_type", "result"}),
		GatewayCallSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "payment_gateway_call_seconds",
			Help:    "Latency of dispatched gateway plugin calls.",
			Buckets: prometheus.DefBuckets,
		}),
		TimeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "payment_gateway_timeouts_total",
			Help: "Gateway plugin calls that exceeded the dispatch deadline.",
		}),
		AbortsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "payment_control_aborts_total",
			Help: "Operations vetoed by a control plugin before the gateway call.",
		}),
		LockFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "payment_account_lock_failures_total",
			Help: "Automaton runs failed because the account lock could not be acquired.",
		}),
	}
}
