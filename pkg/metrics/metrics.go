// Package metrics exposes Prometheus instrumentation for the NoSIP
// bridge: session counts, relay throughput, SRTP failures, and port
// allocation outcomes.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	SessionsActive     prometheus.Gauge
	SessionsCreated    prometheus.Counter
	SessionsDestroyed  prometheus.Counter
	RelayLoopsActive   prometheus.Gauge
	PortAllocFailures  prometheus.Counter
	PortsInUse         prometheus.Gauge
	RTPPacketsRelayed  *prometheus.CounterVec
	RTPBytesRelayed    *prometheus.CounterVec
	RTPPacketsDropped  *prometheus.CounterVec
	SRTPProtectErrors  *prometheus.CounterVec
	SRTPUnprotectDrops *prometheus.CounterVec
	RequestsHandled    *prometheus.CounterVec
	RequestErrors      *prometheus.CounterVec
)

// Init registers every metric with a fresh registry. Safe to call
// multiple times; only the first call takes effect.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nosip_sessions_active",
			Help: "Number of sessions currently in the live session store",
		})
		SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nosip_sessions_created_total",
			Help: "Total number of sessions created",
		})
		SessionsDestroyed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nosip_sessions_destroyed_total",
			Help: "Total number of sessions freed by the reaper",
		})
		RelayLoopsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nosip_relay_loops_active",
			Help: "Number of relay loop goroutines currently running",
		})
		PortAllocFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nosip_port_allocation_failures_total",
			Help: "Total number of exhausted port allocation attempts",
		})
		PortsInUse = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nosip_ports_in_use",
			Help: "Number of UDP ports currently bound by the plugin",
		})
		RTPPacketsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nosip_rtp_packets_relayed_total",
			Help: "Total number of RTP packets relayed",
		}, []string{"kind", "direction"})
		RTPBytesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nosip_rtp_bytes_relayed_total",
			Help: "Total number of RTP bytes relayed",
		}, []string{"kind", "direction"})
		RTPPacketsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nosip_rtp_packets_dropped_total",
			Help: "Total number of RTP/RTCP packets dropped",
		}, []string{"kind", "reason"})
		SRTPProtectErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nosip_srtp_protect_errors_total",
			Help: "Total number of SRTP protect failures on egress",
		}, []string{"kind"})
		SRTPUnprotectDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nosip_srtp_unprotect_drops_total",
			Help: "Total number of packets dropped due to SRTP unprotect failures",
		}, []string{"kind", "reason"})
		RequestsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nosip_requests_handled_total",
			Help: "Total number of requests handled, by request type",
		}, []string{"request"})
		RequestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nosip_request_errors_total",
			Help: "Total number of request errors, by error code",
		}, []string{"code"})

		registry.MustRegister(
			SessionsActive,
			SessionsCreated,
			SessionsDestroyed,
			RelayLoopsActive,
			PortAllocFailures,
			PortsInUse,
			RTPPacketsRelayed,
			RTPBytesRelayed,
			RTPPacketsDropped,
			SRTPProtectErrors,
			SRTPUnprotectDrops,
			RequestsHandled,
			RequestErrors,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the Prometheus registry backing these metrics.
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection.
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the /metrics HTTP handler on mux.
func RegisterHandler(mux *http.ServeMux) {
	if !metricsEnabled || registry == nil {
		return
	}
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          registry,
	})
	mux.Handle(defaultMetricsPath, handler)
}
