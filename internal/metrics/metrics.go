// Package metrics exposes the daemon's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Modes reported by the wipi_mode gauge.
var Modes = []string{"client-connected", "client-searching", "access-point", "transitioning"}

// Registry holds every collector. A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	Mode          *prometheus.GaugeVec
	Transitions   *prometheus.CounterVec
	FailureCount  prometheus.Gauge
	BackendErrors *prometheus.CounterVec
	APClients     prometheus.Gauge
	LastConnected prometheus.Gauge
	ConfigReloads *prometheus.CounterVec
	Degraded      prometheus.Gauge
}

// New creates a registry with the process and Go collectors installed.
func New() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(r.registry)

	r.Mode = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wipi_mode",
			Help: "1 for the current connectivity mode, 0 otherwise",
		},
		[]string{"mode"},
	)
	r.Transitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wipi_transitions_total",
			Help: "Mode transitions by source and destination mode",
		},
		[]string{"from", "to"},
	)
	r.FailureCount = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "wipi_failure_count",
			Help: "Consecutive failed activation attempts",
		},
	)
	r.BackendErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wipi_backend_errors_total",
			Help: "Network backend errors by operation and kind",
		},
		[]string{"op", "kind"},
	)
	r.APClients = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "wipi_ap_clients",
			Help: "Stations connected to the access point at the last check",
		},
	)
	r.LastConnected = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "wipi_last_connected_timestamp_seconds",
			Help: "Unix time of the last successful client association",
		},
	)
	r.ConfigReloads = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wipi_config_reloads_total",
			Help: "Configuration reloads by result",
		},
		[]string{"result"},
	)
	r.Degraded = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "wipi_degraded",
			Help: "1 while access point activation is failing",
		},
	)
	return r
}

// Handler serves the registry in the prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Registry) SetMode(mode string) {
	if r == nil {
		return
	}
	for _, m := range Modes {
		v := 0.0
		if m == mode {
			v = 1
		}
		r.Mode.WithLabelValues(m).Set(v)
	}
}

func (r *Registry) RecordTransition(from, to string) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(from, to).Inc()
	r.SetMode(to)
}

func (r *Registry) SetFailureCount(n int) {
	if r == nil {
		return
	}
	r.FailureCount.Set(float64(n))
}

func (r *Registry) RecordBackendError(op, kind string) {
	if r == nil {
		return
	}
	r.BackendErrors.WithLabelValues(op, kind).Inc()
}

func (r *Registry) SetAPClients(n int) {
	if r == nil {
		return
	}
	r.APClients.Set(float64(n))
}

func (r *Registry) SetLastConnected(t time.Time) {
	if r == nil {
		return
	}
	r.LastConnected.Set(float64(t.Unix()))
}

func (r *Registry) RecordReload(ok bool) {
	if r == nil {
		return
	}
	result := "applied"
	if !ok {
		result = "rejected"
	}
	r.ConfigReloads.WithLabelValues(result).Inc()
}

func (r *Registry) SetDegraded(degraded bool) {
	if r == nil {
		return
	}
	v := 0.0
	if degraded {
		v = 1
	}
	r.Degraded.Set(v)
}
