package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TransitionsTotal      *prometheus.CounterVec
	TransitionDuration    *prometheus.HistogramVec
	TotalOutstandingValue *prometheus.GaugeVec
	ReceiptsOutstanding   prometheus.Gauge
}

// New registers the safe metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safe_transitions_total",
			Help: "Total number of processed instructions by kind and outcome code",
		}, []string{"kind", "outcome"}),
		TransitionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safe_transition_duration_seconds",
			Help:    "Time spent processing an instruction, including the store transaction",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"kind"}),
		TotalOutstandingValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safe_total_outstanding_value",
			Help: "Deposited minus withdrawn value across live ledgers, per registry",
		}, []string{"registry"}),
		ReceiptsOutstanding: factory.NewGauge(prometheus.GaugeOpts{
			Name: "safe_receipts_outstanding",
			Help: "Receipts minted minus receipts burned since process start",
		}),
	}
}

func (m *Metrics) ObserveTransition(kind, outcome string, start time.Time) {
	m.TransitionsTotal.WithLabelValues(kind, outcome).Inc()
	m.TransitionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetOutstandingValue(registry string, value uint64) {
	m.TotalOutstandingValue.WithLabelValues(registry).Set(float64(value))
}

func (m *Metrics) AddReceipts(delta int) {
	m.ReceiptsOutstanding.Add(float64(delta))
}
