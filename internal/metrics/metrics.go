package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orders"

// Outcome labels shared by the counters.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultNotFound  = "not_found"
	ResultNoop      = "noop"
)

// Metrics groups the collectors of the order service. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	OrdersCreated      *prometheus.CounterVec
	PaymentsReconciled *prometheus.CounterVec
	StatusChanges      *prometheus.CounterVec
	RPCDuration        *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "created_total",
			Help:      "Total number of order creation attempts by result.",
		}, []string{"result"}),
		PaymentsReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_reconciled_total",
			Help:      "Total number of payment-succeeded events handled by result.",
		}, []string{"result"}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_changes_total",
			Help:      "Total number of status change requests by result.",
		}, []string{"result"}),
		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "Latency of exposed request/reply patterns.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"pattern"}),
		gatherer: reg,
	}

	reg.MustRegister(m.OrdersCreated, m.PaymentsReconciled, m.StatusChanges, m.RPCDuration)
	return m
}

func (m *Metrics) OrderCreated(result string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(result).Inc()
}

func (m *Metrics) PaymentReconciled(result string) {
	if m == nil {
		return
	}
	m.PaymentsReconciled.WithLabelValues(result).Inc()
}

func (m *Metrics) StatusChanged(result string) {
	if m == nil {
		return
	}
	m.StatusChanges.WithLabelValues(result).Inc()
}

// ObserveRPC records the time elapsed since start for pattern.
func (m *Metrics) ObserveRPC(pattern string, start time.Time) {
	if m == nil {
		return
	}
	m.RPCDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
}

// Handler serves the registry the collectors were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
