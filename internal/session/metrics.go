package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeAuthenticated   = "authenticated"
	outcomeDeactivated     = "deactivated"
	outcomeProvisioned     = "provisioned"
	outcomeProvisionFailed = "provision_failed"
	outcomeRejected        = "rejected"
)

type Metrics struct {
	Resolutions *prometheus.CounterVec
	SignIns     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_session_resolutions_total",
			Help: "Identity to profile resolutions by outcome",
		}, []string{"outcome"}),
		SignIns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_session_sign_ins_total",
			Help: "Sign-in attempts by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) inc(outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) incSignIn(result string) {
	if m == nil {
		return
	}
	m.SignIns.WithLabelValues(result).Inc()
}
