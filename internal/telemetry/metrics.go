// Package telemetry exports connection and liveness counters to Prometheus.
package telemetry

import (
	"net/http"
	"time"

	"github.com/liveconn/liveconn-go/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "liveconn"

// Metrics implements transport.Metrics on its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	connectionsOpen  prometheus.Gauge
	connectionsTotal prometheus.Counter
	frames           *prometheus.CounterVec
	frameBytes       *prometheus.CounterVec
	heartbeats       *prometheus.CounterVec
	livenessFailures prometheus.Counter
	buildInfo        *prometheus.GaugeVec
}

// New creates the collectors and registers them.
func New() *Metrics {
	startTime := time.Now()

	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Current number of open connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of connections opened.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of frames by direction.",
		}, []string{"direction"}),
		frameBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_total",
			Help:      "Total frame bytes on the wire by direction.",
		}, []string{"direction"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Total number of heartbeat frames by direction.",
		}, []string{"direction"}),
		livenessFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_failures_total",
			Help:      "Connections declared dead by the heartbeat checker.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		}, []string{"version"}),
	}

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds.",
	}, func() float64 { return time.Since(startTime).Seconds() })

	m.Registry.MustRegister(
		m.connectionsOpen,
		m.connectionsTotal,
		m.frames,
		m.frameBytes,
		m.heartbeats,
		m.livenessFailures,
		m.buildInfo,
		uptime,
	)
	return m
}

// Handler serves the registry. Mount it with mux.Handle("/metrics", m.Handler()).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func (m *Metrics) SetBuildInfo(version string) {
	m.buildInfo.WithLabelValues(version).Set(1)
}

func (m *Metrics) ConnectionOpened() {
	m.connectionsOpen.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.connectionsOpen.Dec()
}

func (m *Metrics) FrameReceived(size int) {
	m.frames.WithLabelValues("in").Inc()
	m.frameBytes.WithLabelValues("in").Add(float64(size))
}

func (m *Metrics) FrameSent(size int) {
	m.frames.WithLabelValues("out").Inc()
	m.frameBytes.WithLabelValues("out").Add(float64(size))
}

func (m *Metrics) HeartbeatReceived() {
	m.heartbeats.WithLabelValues("in").Inc()
}

func (m *Metrics) HeartbeatSent() {
	m.heartbeats.WithLabelValues("out").Inc()
}

func (m *Metrics) LivenessFailure() {
	m.livenessFailures.Inc()
}

var _ transport.Metrics = (*Metrics)(nil)
