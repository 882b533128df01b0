// Package metrics constructs every package's Prometheus collectors once per
// process and exposes the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkline/internal/audit"
	"checkline/internal/dispatch"
	"checkline/internal/fanout"
	"checkline/internal/gateway"
	"checkline/internal/livecache"
	"checkline/internal/ratelimit"
	"checkline/internal/session"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	Cache    *livecache.Metrics
	Gateway  *gateway.Metrics
	Fanout   *fanout.Metrics
	Dispatch *dispatch.Metrics
	Audit    *audit.Metrics
	Session  *session.Metrics
	SignIn   *ratelimit.Metrics
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		Cache:    livecache.NewMetrics(),
		Gateway:  gateway.NewMetrics(),
		Fanout:   fanout.NewMetrics(),
		Dispatch: dispatch.NewMetrics(),
		Audit:    audit.NewMetrics(),
		Session:  session.NewMetrics(),
		SignIn:   ratelimit.NewMetrics(),
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
