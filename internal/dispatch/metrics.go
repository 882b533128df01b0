package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Records *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Records: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_dispatch_records_total",
			Help: "Notification dispatch attempts by result (published, failed, skipped)",
		}, []string{"result"}),
	}
}

func (m *Metrics) inc(result string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(result).Inc()
}
