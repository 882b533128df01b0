package livecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks subscription health across all hubs.
type Metrics struct {
	Subscriptions *prometheus.GaugeVec
	Handles       *prometheus.GaugeVec
	Deliveries    *prometheus.CounterVec
	Redundant     *prometheus.CounterVec
	Errors        *prometheus.CounterVec
}

// NewMetrics registers cache metrics with the default registry. Call once.
func NewMetrics() *Metrics {
	return &Metrics{
		Subscriptions: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "checkline_cache_subscriptions",
			Help: "Open backend subscriptions per collection",
		}, []string{"collection"}),
		Handles: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "checkline_cache_handles",
			Help: "Cache handles sharing the open subscriptions per collection",
		}, []string{"collection"}),
		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_cache_snapshots_total",
			Help: "Snapshots applied to caches per collection",
		}, []string{"collection"}),
		Redundant: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_cache_redundant_snapshots_total",
			Help: "Redelivered snapshots identical to the cached one",
		}, []string{"collection"}),
		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_cache_subscription_errors_total",
			Help: "Subscription errors per collection",
		}, []string{"collection"}),
	}
}

func (m *Metrics) subscriptionOpened(collection string) {
	if m == nil {
		return
	}
	m.Subscriptions.WithLabelValues(collection).Inc()
}

func (m *Metrics) subscriptionClosed(collection string) {
	if m == nil {
		return
	}
	m.Subscriptions.WithLabelValues(collection).Dec()
}

func (m *Metrics) handleAcquired(collection string) {
	if m == nil {
		return
	}
	m.Handles.WithLabelValues(collection).Inc()
}

func (m *Metrics) handleReleased(collection string) {
	if m == nil {
		return
	}
	m.Handles.WithLabelValues(collection).Dec()
}

func (m *Metrics) IncDelivery(collection string, redundant bool) {
	if m == nil {
		return
	}
	if redundant {
		m.Redundant.WithLabelValues(collection).Inc()
		return
	}
	m.Deliveries.WithLabelValues(collection).Inc()
}

func (m *Metrics) IncError(collection string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(collection).Inc()
}
