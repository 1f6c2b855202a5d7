package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"toolmesh/internal/domain"
)

type PrometheusMetrics struct {
	discoveryDuration  *prometheus.HistogramVec
	discoveredOps      *prometheus.GaugeVec
	invocationDuration *prometheus.HistogramVec
	probeDuration      *prometheus.HistogramVec
	endpointUp         *prometheus.GaugeVec
	artifactOps        *prometheus.CounterVec
	inconsistencies    *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		discoveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolmesh_discovery_duration_seconds",
				Help:    "Duration of remote capability discovery in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint", "status"},
		),
		discoveredOps: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolmesh_discovered_operations",
				Help: "Number of operations registered from the last discovery",
			},
			[]string{"endpoint"},
		),
		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolmesh_invocation_duration_seconds",
				Help:    "Duration of remote operation invocations in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"endpoint", "operation", "status"},
		),
		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolmesh_probe_duration_seconds",
				Help:    "Duration of endpoint liveness probes in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
			[]string{"endpoint", "reachable"},
		),
		endpointUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolmesh_endpoint_up",
				Help: "Whether the last probe reached the endpoint (1) or not (0)",
			},
			[]string{"endpoint"},
		),
		artifactOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolmesh_artifact_operations_total",
				Help: "Total number of artifact store operations",
			},
			[]string{"kind", "op", "status"},
		),
		inconsistencies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolmesh_storage_inconsistencies_total",
				Help: "Total number of artifact entries skipped for missing or malformed files",
			},
			[]string{"kind"},
		),
	}
}

func (p *PrometheusMetrics) ObserveDiscovery(endpoint string, operations int, duration time.Duration, err error) {
	p.discoveryDuration.WithLabelValues(endpoint, string(domain.StatusFromError(err))).Observe(duration.Seconds())
	if err == nil {
		p.discoveredOps.WithLabelValues(endpoint).Set(float64(operations))
	}
}

func (p *PrometheusMetrics) ObserveInvocation(endpoint, operation string, duration time.Duration, err error) {
	p.invocationDuration.WithLabelValues(endpoint, operation, string(domain.StatusFromError(err))).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveProbe(endpoint string, reachable bool, duration time.Duration) {
	p.probeDuration.WithLabelValues(endpoint, strconv.FormatBool(reachable)).Observe(duration.Seconds())
	up := 0.0
	if reachable {
		up = 1
	}
	p.endpointUp.WithLabelValues(endpoint).Set(up)
}

func (p *PrometheusMetrics) ObserveArtifact(kind domain.ArtifactKind, op string, err error) {
	p.artifactOps.WithLabelValues(string(kind), op, string(domain.StatusFromError(err))).Inc()
}

func (p *PrometheusMetrics) ObserveStorageInconsistency(kind domain.ArtifactKind) {
	p.inconsistencies.WithLabelValues(string(kind)).Inc()
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
