package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks notification fanout outcomes.
type Metrics struct {
	Notifications *prometheus.CounterVec
	Runs          *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Notifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_fanout_notifications_total",
			Help: "Notification writes attempted by fanout, by reason and outcome",
		}, []string{"reason", "outcome"}),
		Runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_fanout_runs_total",
			Help: "Fanout runs by result (skipped, complete, partial)",
		}, []string{"result"}),
	}
}

func (m *Metrics) incNotification(reason Reason, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.Notifications.WithLabelValues(string(reason), outcome).Inc()
}

func (m *Metrics) incRun(result string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(result).Inc()
}
