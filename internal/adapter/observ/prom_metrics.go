package observ

import (
	"time"

	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromMetrics records checkout outcomes and gateway latency.
type PromMetrics struct {
	outcomes *prometheus.CounterVec
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPromMetrics registers on reg; pass prometheus.DefaultRegisterer in main.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	f := promauto.With(reg)
	return &PromMetrics{
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_outcomes_total",
			Help: "Checkout submissions by outcome",
		}, []string{"outcome"}),
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_gateway_calls_total",
			Help: "Payment gateway calls by operation and result",
		}, []string{"op", "result"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_gateway_call_duration_seconds",
			Help:    "Payment gateway call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"op"}),
	}
}

func (m *PromMetrics) CheckoutOutcome(outcome string) {
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *PromMetrics) GatewayCall(op, result string, elapsed time.Duration) {
	m.calls.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

var _ usecase.Metrics = (*PromMetrics)(nil)
