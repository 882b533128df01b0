package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Locked   prometheus.Counter
	Rejected prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Locked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "checkline_signin_lockouts_total",
			Help: "Sign-in lockouts triggered by repeated credential failures",
		}),
		Rejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "checkline_signin_rejected_total",
			Help: "Sign-in attempts rejected while locked out",
		}),
	}
}

func (m *Metrics) incLocked() {
	if m == nil {
		return
	}
	m.Locked.Inc()
}

func (m *Metrics) incRejected() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}
