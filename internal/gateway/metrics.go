package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records mutation outcomes.
type Metrics struct {
	MutationDuration *prometheus.HistogramVec
}

// NewMetrics registers gateway metrics with the default registry. Call once.
func NewMetrics() *Metrics {
	return &Metrics{
		MutationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkline_mutation_duration_seconds",
			Help:    "Duration of store mutations by collection, operation and result code",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"collection", "op", "code"}),
	}
}

// ObserveMutation records how long a mutation took.
func (m *Metrics) ObserveMutation(collection, op, code string, start time.Time) {
	if m == nil {
		return
	}
	m.MutationDuration.WithLabelValues(collection, op, code).Observe(time.Since(start).Seconds())
}
