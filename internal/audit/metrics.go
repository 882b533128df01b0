package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"checkline/internal/compliance/models"
)

type Metrics struct {
	Appended *prometheus.CounterVec
	Dropped  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Appended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_audit_entries_total",
			Help: "Audit entries written, by action and outcome",
		}, []string{"action", "outcome"}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "checkline_audit_entries_dropped_total",
			Help: "Audit entries dropped because the async buffer was full",
		}),
	}
}

func (m *Metrics) observe(action models.AuditAction, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.Appended.WithLabelValues(string(action), outcome).Inc()
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}
