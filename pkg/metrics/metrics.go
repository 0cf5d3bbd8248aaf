// Package metrics exposes the registry's live counters as Prometheus
// collectors, grounded in the teacher's own github.com/prometheus/client_golang
// dependency. Every collector reads straight from pkg/registry so the
// engine's atomic counters remain the single source of truth (spec.md
// §4.7); nothing here mutates state of its own.
package metrics

import (
	"github.com/mcgate/gate/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// NewRegistry builds a dedicated Prometheus registry (rather than using
// the global default) so that embedding this module elsewhere never causes
// a duplicate-registration panic.
func NewRegistry(reg *registry.Registry) *prometheus.Registry {
	r := prometheus.NewRegistry()

	r.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mcgate_active_connections",
		Help: "Currently active client connections.",
	}, func() float64 { return float64(reg.ActiveCount()) }))

	r.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "mcgate_connections_accepted_total",
		Help: "Total connections accepted since process start.",
	}, func() float64 { return float64(reg.Counters.TotalAccepted.Load()) }))

	r.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "mcgate_bytes_sent_total",
		Help: "Total bytes forwarded from clients to backends.",
	}, func() float64 { return float64(reg.Counters.TotalBytesSent.Load()) }))

	r.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "mcgate_bytes_received_total",
		Help: "Total bytes forwarded from backends to clients.",
	}, func() float64 { return float64(reg.Counters.TotalBytesRecv.Load()) }))

	r.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mcgate_cache_entries",
		Help: "Current decision cache entry count, including not-yet-swept expired entries.",
	}, func() float64 { return float64(reg.Cache.Snapshot().TotalEntries) }))

	r.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mcgate_cache_expired_entries",
		Help: "Decision cache entries past their TTL but not yet swept.",
	}, func() float64 { return float64(reg.Cache.Snapshot().ExpiredEntries) }))

	return r
}

// Handler adapts promhttp's net/http handler onto fasthttp via the
// fasthttp-provided adapter, so the boundary server in pkg/httpapi can
// serve /metrics from the same fasthttp.Server as the JSON policy API.
func Handler(reg *prometheus.Registry) fasthttp.RequestHandler {
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return fasthttpadaptor.NewFastHTTPHandler(h)
}
