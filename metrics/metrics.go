// Package metrics exposes release manager metrics in the prometheus format.
// everything is registered on a private registry, so tests can build as many
// instances as they like without colliding on the global default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

const namespace = "corvus"

// Metrics holds the collectors the lifecycle manager reports to.
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	platformCalls *prometheus.HistogramVec
}

// New creates the collectors and registers them together with the go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "release",
			Name:      "transitions_total",
			Help:      "Release status transitions, by the status entered.",
		}, []string{"status"}),
		platformCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "platform",
			Name:      "call_duration_seconds",
			Help:      "Duration of platform deployer calls.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		}, []string{"platform", "operation", "outcome"}),
	}

	registry.MustRegister(
		m.transitions,
		m.platformCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ReleaseTransition counts a release entering status.
func (m *Metrics) ReleaseTransition(status models.StatusCode) {
	m.transitions.WithLabelValues(string(status)).Inc()
}

// PlatformCall records one deployer call. operation is "deploy", "undeploy" or "status".
func (m *Metrics) PlatformCall(platformName, operation string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.platformCalls.WithLabelValues(platformName, operation, outcome).Observe(duration.Seconds())
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, used by tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
