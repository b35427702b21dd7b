package epoch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics are optional. All methods are no-op on nil receiver
type metrics struct {
	epochs     prometheus.Counter
	candidates prometheus.Counter
	accepts    prometheus.Counter
	rejects    *prometheus.CounterVec
	poolSize   prometheus.Gauge
}

const metricsNamespace = "epochledger"

func newMetrics(reg prometheus.Registerer) *metrics {
	ret := &metrics{
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "epoch",
			Name:      "processed_total",
			Help:      "Number of processed epochs",
		}),
		candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "epoch",
			Name:      "candidates_total",
			Help:      "Number of candidate transactions presented to the processor",
		}),
		accepts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "epoch",
			Name:      "accepted_total",
			Help:      "Number of accepted transactions",
		}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "epoch",
			Name:      "rejected_total",
			Help:      "Number of rejected transactions by reason",
		}, []string{"reason"}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pool_size",
			Help:      "Number of unspent outputs in the pool",
		}),
	}
	reg.MustRegister(ret.epochs, ret.candidates, ret.accepts, ret.rejects, ret.poolSize)
	return ret
}

// WithMetrics registers processor metrics with the registerer
func WithMetrics(reg prometheus.Registerer) Option {
	return func(p *Processor) {
		p.metrics = newMetrics(reg)
	}
}

func (m *metrics) candidate() {
	if m != nil {
		m.candidates.Inc()
	}
}

func (m *metrics) accepted() {
	if m != nil {
		m.accepts.Inc()
	}
}

func (m *metrics) rejected(reason string) {
	if m != nil {
		m.rejects.WithLabelValues(reason).Inc()
	}
}

func (m *metrics) epochDone(poolSize int) {
	if m != nil {
		m.epochs.Inc()
		m.poolSize.Set(float64(poolSize))
	}
}

func (m *metrics) setPoolSize(poolSize int) {
	if m != nil {
		m.poolSize.Set(float64(poolSize))
	}
}
